package renderer

import (
	"fmt"
	"strings"

	"github.com/you/chatsync/internal/core"
)

// FlattenRuns converts a {"runs": [...]} text node into the flattened plain
// string and the ordered rich run sequence. Text runs are concatenated
// verbatim; emoji runs contribute their shortcut token (or raw id) to the
// plain text while the run entry keeps the resolved image URL and custom
// flag.
func FlattenRuns(node map[string]any) (string, []core.MessageRun) {
	arr, ok := node["runs"].([]any)
	if !ok {
		return "", nil
	}
	var builder strings.Builder
	var runs []core.MessageRun
	for _, raw := range arr {
		run, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := run["text"].(string); ok {
			builder.WriteString(text)
			runs = append(runs, core.MessageRun{Text: text})
			continue
		}
		emojiNode := DigMap(run, "emoji")
		if emojiNode == nil {
			continue
		}
		emoji := &core.Emoji{
			ID:       StringField(emojiNode, "emojiId"),
			IsCustom: emojiNode["isCustomEmoji"] == true,
		}
		if shortcuts, ok := emojiNode["shortcuts"].([]any); ok && len(shortcuts) > 0 {
			if s, ok := shortcuts[0].(string); ok {
				emoji.Shortcut = s
			}
		}
		emoji.URL = BestThumbnail(DigSlice(emojiNode, "image", "thumbnails"))
		if emoji.Shortcut != "" {
			builder.WriteString(emoji.Shortcut)
		} else {
			builder.WriteString(emoji.ID)
		}
		runs = append(runs, core.MessageRun{Emoji: emoji})
	}
	return builder.String(), runs
}

// BestThumbnail picks the URL of the widest entry in a thumbnail set.
// Entries without a declared width sort last.
func BestThumbnail(thumbnails []any) string {
	bestURL := ""
	bestWidth := int64(-1)
	for _, raw := range thumbnails {
		t, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		url := StringField(t, "url")
		if url == "" {
			continue
		}
		width, ok := NumberField(t, "width")
		if !ok {
			width = -1
		}
		if width > bestWidth {
			bestWidth = width
			bestURL = url
		} else if bestURL == "" {
			bestURL = url
		}
	}
	return bestURL
}

// ParseBadges extracts the author badge set. Badges are matched by their
// lower-cased icon type against the known discriminators; an unknown icon
// type with a custom thumbnail is treated as a member badge, and renderers
// with neither are dropped. A nil result means "no badges", which the schema
// distinguishes from an empty collection.
func ParseBadges(rendererNode map[string]any) []core.AuthorBadge {
	arr, ok := rendererNode["authorBadges"].([]any)
	if !ok {
		return nil
	}
	var badges []core.AuthorBadge
	for _, raw := range arr {
		wrapper, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		badge := DigMap(wrapper, "liveChatAuthorBadgeRenderer")
		if badge == nil {
			continue
		}
		label := StringField(badge, "tooltip")
		if label == "" {
			label = StringField(DigMap(badge, "accessibility", "accessibilityData"), "label")
		}
		iconType := strings.ToLower(StringField(DigMap(badge, "icon"), "iconType"))
		customIcon := BestThumbnail(DigSlice(badge, "customThumbnail", "thumbnails"))

		var kind core.BadgeType
		switch iconType {
		case "verified":
			kind = core.BadgeVerified
		case "owner":
			kind = core.BadgeOwner
		case "moderator":
			kind = core.BadgeModerator
		case "member":
			kind = core.BadgeMember
		default:
			if customIcon == "" {
				continue
			}
			kind = core.BadgeMember
		}
		badges = append(badges, core.AuthorBadge{Type: kind, Label: label, IconURL: customIcon})
	}
	return badges
}

// ARGBToHex renders a signed 32-bit ARGB integer as a "#rrggbbaa" string.
// The value is reinterpreted as unsigned, formatted as 8 lowercase hex
// digits, and reordered so the RGB digits precede the alpha digits.
func ARGBToHex(argb int64) string {
	u := uint32(argb)
	digits := fmt.Sprintf("%08x", u)
	return "#" + digits[2:8] + digits[0:2]
}

// PaidColors collects up to five theming colors from a paid-message
// renderer. When the renderer defines none of them the whole group is nil
// rather than an all-empty struct.
func PaidColors(rendererNode map[string]any) *core.PaidColors {
	colors := core.PaidColors{}
	assign := func(dst *string, key string) {
		if v, ok := NumberField(rendererNode, key); ok {
			*dst = ARGBToHex(v)
		}
	}
	assign(&colors.HeaderBackground, "headerBackgroundColor")
	assign(&colors.HeaderText, "headerTextColor")
	assign(&colors.BodyBackground, "bodyBackgroundColor")
	assign(&colors.BodyText, "bodyTextColor")
	assign(&colors.AuthorName, "authorNameTextColor")
	// Sticker renderers use the money-chip naming for the same slots.
	if colors.BodyBackground == "" {
		assign(&colors.BodyBackground, "backgroundColor")
	}
	if colors.BodyBackground == "" {
		assign(&colors.BodyBackground, "moneyChipBackgroundColor")
	}
	if colors.BodyText == "" {
		assign(&colors.BodyText, "moneyChipTextColor")
	}
	if colors.Empty() {
		return nil
	}
	return &colors
}
