// Package renderer normalizes the upstream chat item payloads.
//
// Each chat event arrives as one of several mutually exclusive renderer
// shapes on an "item" object. The decoder dispatches on which shape is
// present and produces one normalized core.ChatMessage, or nil when the item
// carries nothing displayable. Unknown renderer kinds are skipped silently
// so new upstream shapes never abort a batch.
package renderer

import (
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/you/chatsync/internal/core"
)

// Renderer shape keys, in dispatch order.
const (
	keyText       = "liveChatTextMessageRenderer"
	keyPaid       = "liveChatPaidMessageRenderer"
	keySticker    = "liveChatPaidStickerRenderer"
	keyMembership = "liveChatMembershipItemRenderer"
	keyGift       = "liveChatSponsorshipsGiftPurchaseAnnouncementRenderer"
	keyEngagement = "liveChatViewerEngagementMessageRenderer"
)

// failureLogEvery rate-limits per-item diagnostics so systematically
// malformed input cannot flood the log.
const failureLogEvery = 25

// Decoder converts item payloads into normalized messages. It synthesizes
// fallback ids from a strictly increasing counter tagged with the source
// ("archived" or "live"), so ids stay unique within one fetch session even
// when the upstream omits them.
type Decoder struct {
	source   string
	seq      atomic.Int64
	failures atomic.Int64
}

// NewDecoder returns a decoder tagging synthesized ids with source.
func NewDecoder(source string) *Decoder {
	return &Decoder{source: source}
}

// Decode normalizes one item payload. timestamp is seconds relative to the
// video start (0 for live-path items). A nil return means the item had no
// displayable content and must be dropped, not that decoding failed.
func (d *Decoder) Decode(item map[string]any, timestamp float64) *core.ChatMessage {
	if item == nil {
		return nil
	}
	var msg *core.ChatMessage
	switch {
	case DigMap(item, keyText) != nil:
		msg = d.decodeText(DigMap(item, keyText))
	case DigMap(item, keyPaid) != nil:
		msg = d.decodePaid(DigMap(item, keyPaid))
	case DigMap(item, keySticker) != nil:
		msg = d.decodeSticker(DigMap(item, keySticker))
	case DigMap(item, keyMembership) != nil:
		msg = d.decodeMembership(DigMap(item, keyMembership))
	case DigMap(item, keyGift) != nil:
		msg = d.decodeGift(DigMap(item, keyGift))
	case DigMap(item, keyEngagement) != nil:
		msg = d.decodeEngagement(DigMap(item, keyEngagement))
	default:
		return nil
	}
	if msg == nil {
		return nil
	}
	msg.Timestamp = timestamp
	msg.ReceivedAt = time.Now().UTC()
	if msg.ID == "" {
		msg.ID = d.source + "-" + strconv.FormatInt(d.seq.Add(1), 10)
	}
	return msg
}

// ReportFailure records one per-item parse failure and logs every Nth.
func (d *Decoder) ReportFailure(reason string) {
	n := d.failures.Add(1)
	if n%failureLogEvery == 1 {
		slog.Warn("renderer: item decode failure", "source", d.source, "reason", reason, "total", n)
	}
}

func (d *Decoder) decodeText(node map[string]any) *core.ChatMessage {
	plain, runs := FlattenRuns(DigMap(node, "message"))
	if !hasContent(plain, runs) {
		return nil
	}
	msg := d.common(node, core.TypeText)
	msg.Message = plain
	msg.Runs = runs
	return msg
}

func (d *Decoder) decodePaid(node map[string]any) *core.ChatMessage {
	msg := d.common(node, core.TypeSuperchat)
	plain, runs := FlattenRuns(DigMap(node, "message"))
	if plain == "" {
		plain = "(Super Chat)"
	}
	msg.Message = plain
	msg.Runs = runs
	msg.Amount = SimpleText(node, "purchaseAmountText")
	msg.Colors = PaidColors(node)
	return msg
}

func (d *Decoder) decodeSticker(node map[string]any) *core.ChatMessage {
	msg := d.common(node, core.TypeSupersticker)
	msg.Message = "(Super Sticker)"
	msg.Amount = SimpleText(node, "purchaseAmountText")
	msg.Colors = PaidColors(node)
	msg.StickerURL = BestThumbnail(DigSlice(node, "sticker", "thumbnails"))
	return msg
}

func (d *Decoder) decodeMembership(node map[string]any) *core.ChatMessage {
	msg := d.common(node, core.TypeMembership)
	plain, runs := FlattenRuns(DigMap(node, "message"))
	level := SimpleText(node, "headerSubtext")
	if plain == "" {
		plain = SimpleText(node, "headerPrimaryText")
	}
	if plain == "" {
		plain = level
	}
	if plain == "" {
		plain = "(Membership)"
	}
	msg.Message = plain
	msg.Runs = runs
	msg.MembershipLevel = level
	return msg
}

func (d *Decoder) decodeGift(node map[string]any) *core.ChatMessage {
	header := DigMap(node, "header", "liveChatSponsorshipsHeaderRenderer")
	if header == nil {
		return nil
	}
	msg := d.common(header, core.TypeGift)
	if msg.ID == "" {
		msg.ID = StringField(node, "id")
	}
	plain, runs := FlattenRuns(DigMap(header, "primaryText"))
	if plain == "" {
		plain = "(Gift)"
	}
	msg.Message = plain
	msg.Runs = runs
	msg.GiftCount = giftCountFromText(plain)
	return msg
}

func (d *Decoder) decodeEngagement(node map[string]any) *core.ChatMessage {
	plain, runs := FlattenRuns(DigMap(node, "message"))
	if !hasContent(plain, runs) {
		return nil
	}
	msg := d.common(node, core.TypeSystem)
	msg.Message = plain
	msg.Runs = runs
	return msg
}

// common extracts the fields shared by every renderer shape.
func (d *Decoder) common(node map[string]any, kind core.MessageType) *core.ChatMessage {
	return &core.ChatMessage{
		ID:              StringField(node, "id"),
		Type:            kind,
		Author:          SimpleText(node, "authorName"),
		AuthorPhoto:     BestThumbnail(DigSlice(node, "authorPhoto", "thumbnails")),
		AuthorChannelID: StringField(node, "authorExternalChannelId"),
		Badges:          ParseBadges(node),
		TimestampText:   SimpleText(node, "timestampText"),
	}
}

// hasContent reports whether a flattened message still displays something:
// non-whitespace plain text, or at least one emoji run.
func hasContent(plain string, runs []core.MessageRun) bool {
	if strings.TrimSpace(plain) != "" {
		return true
	}
	for _, run := range runs {
		if run.Emoji != nil {
			return true
		}
	}
	return false
}

// giftCountFromText pulls the first integer out of a gift announcement line
// ("Gifted 5 memberships"). Zero when none is present.
func giftCountFromText(text string) int {
	start := -1
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c >= '0' && c <= '9' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			n, _ := strconv.Atoi(text[start:i])
			return n
		}
	}
	if start != -1 {
		n, _ := strconv.Atoi(text[start:])
		return n
	}
	return 0
}
