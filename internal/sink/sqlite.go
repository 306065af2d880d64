// Package sink exports completed transcripts to SQLite. This is a write-only
// archive surface: the acquisition engine never reads it back, so replacing a
// video's rows wholesale on each completed fetch keeps the table consistent
// without any merge logic.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/chatsync/internal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS transcript_messages (
  video_id TEXT NOT NULL,
  id TEXT NOT NULL,
  type TEXT NOT NULL,
  ts REAL NOT NULL,
  author TEXT NOT NULL,
  author_channel_id TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL,
  amount TEXT NOT NULL DEFAULT '',
  extra_json TEXT NOT NULL DEFAULT '{}',
  received_at TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (video_id, id)
);`

// SQLiteSink writes transcripts to one SQLite database file.
type SQLiteSink struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) Ping() error { return s.db.Ping() }

// ReplaceTranscript stores msgs as the complete transcript for videoID,
// dropping any rows a previous fetch of the same video left behind. The whole
// replacement runs in one transaction so readers never see a partial state.
func (s *SQLiteSink) ReplaceTranscript(ctx context.Context, videoID string, msgs []core.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transcript tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE video_id = ?;`, videoID); err != nil {
		return errors.Wrap(err, "clear previous transcript")
	}

	const q = `INSERT INTO transcript_messages
  (video_id, id, type, ts, author, author_channel_id, text, amount, extra_json, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(video_id, id) DO NOTHING;`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, msg := range msgs {
		received := ""
		if !msg.ReceivedAt.IsZero() {
			received = msg.ReceivedAt.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx, videoID, msg.ID, string(msg.Type), msg.Timestamp,
			msg.Author, msg.AuthorChannelID, msg.Message, msg.Amount, extraJSON(msg), received); err != nil {
			return errors.Wrap(err, "insert transcript message")
		}
	}
	return errors.Wrap(tx.Commit(), "commit transcript")
}

// CountMessages reports the stored row count for one video.
func (s *SQLiteSink) CountMessages(ctx context.Context, videoID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript_messages WHERE video_id = ?;`, videoID).Scan(&n)
	return n, errors.Wrap(err, "count transcript")
}

// extraJSON bundles the type-specific optional fields into one JSON column
// so the schema stays flat across the six message kinds.
func extraJSON(msg core.ChatMessage) string {
	extra := struct {
		Badges          []core.AuthorBadge `json:"badges,omitempty"`
		Runs            []core.MessageRun  `json:"messageRuns,omitempty"`
		TimestampText   string             `json:"timestampText,omitempty"`
		Colors          *core.PaidColors   `json:"colors,omitempty"`
		StickerURL      string             `json:"stickerUrl,omitempty"`
		MembershipLevel string             `json:"membershipLevel,omitempty"`
		GiftCount       int                `json:"giftCount,omitempty"`
		AuthorPhoto     string             `json:"authorPhoto,omitempty"`
	}{
		Badges:          msg.Badges,
		Runs:            msg.Runs,
		TimestampText:   msg.TimestampText,
		Colors:          msg.Colors,
		StickerURL:      msg.StickerURL,
		MembershipLevel: msg.MembershipLevel,
		GiftCount:       msg.GiftCount,
		AuthorPhoto:     msg.AuthorPhoto,
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "{}"
	}
	return string(data)
}
