// Package probe answers "is this broadcast live, and does it have a chat
// replay?" by asking an external metadata dumper instead of the chat API.
// The dump is cheap (no media download) and decouples availability checks
// from the fragile page-scrape path.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// chatReplayTrack is the subtitle-language key the dumper uses for the chat
// replay track of a finished broadcast.
const chatReplayTrack = "live_chat"

// Metadata is the subset of the dumper's JSON output the engine consumes.
type Metadata struct {
	ID        string                     `json:"id"`
	IsLive    bool                       `json:"is_live"`
	Duration  float64                    `json:"duration"`
	Subtitles map[string]json.RawMessage `json:"subtitles"`
}

// HasChatReplay reports whether a chat replay track is present.
func (m *Metadata) HasChatReplay() bool {
	if m == nil {
		return false
	}
	_, ok := m.Subtitles[chatReplayTrack]
	return ok
}

// Prober inspects a video URL and returns its metadata.
type Prober interface {
	Inspect(ctx context.Context, videoURL string) (*Metadata, error)
}

// YTDLP probes by invoking the yt-dlp executable.
type YTDLP struct {
	// Path is the executable to run; defaults to "yt-dlp" on PATH.
	Path string
	// WorkDir is the working directory for the process, if set.
	WorkDir string
	// Timeout bounds one invocation; defaults to 30s.
	Timeout time.Duration
}

// Inspect runs the dumper with arguments requesting a structured JSON
// metadata dump without downloading media. A non-zero exit code or
// unparseable stdout is a failure.
func (y *YTDLP) Inspect(ctx context.Context, videoURL string) (*Metadata, error) {
	path := y.Path
	if path == "" {
		path = "yt-dlp"
	}
	timeout := y.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, "--dump-single-json", "--no-download", "--skip-download", videoURL)
	if y.WorkDir != "" {
		cmd.Dir = y.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("probe: %s failed: %s", path, firstLine(detail))
	}
	return ParseMetadata(stdout.Bytes())
}

// ParseMetadata decodes a metadata dump.
func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(bytes.TrimSpace(data), &meta); err != nil {
		return nil, fmt.Errorf("probe: parse metadata dump: %w", err)
	}
	return &meta, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
