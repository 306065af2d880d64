package renderer

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/you/chatsync/internal/core"
)

func mustParse(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return m
}

func TestARGBToHex(t *testing.T) {
	tests := []struct {
		argb int64
		want string
	}{
		{0xFFAABBCC, "#aabbccff"},
		{0x00000000, "#00000000"},
		{0xFF000000, "#000000ff"},
		{-16777216, "#000000ff"}, // signed view of 0xFF000000
		{0x1E62B0F9, "#62b0f91e"},
	}
	for _, tc := range tests {
		if got := ARGBToHex(tc.argb); got != tc.want {
			t.Fatalf("ARGBToHex(%#x) = %q, want %q", tc.argb, got, tc.want)
		}
	}
}

func TestBestThumbnail(t *testing.T) {
	thumbs := []any{
		map[string]any{"url": "a", "width": float64(32)},
		map[string]any{"url": "b", "width": float64(64)},
		map[string]any{"url": "c"},
	}
	if got := BestThumbnail(thumbs); got != "b" {
		t.Fatalf("BestThumbnail = %q, want %q", got, "b")
	}

	onlyWidthless := []any{map[string]any{"url": "solo"}}
	if got := BestThumbnail(onlyWidthless); got != "solo" {
		t.Fatalf("BestThumbnail widthless = %q, want %q", got, "solo")
	}

	if got := BestThumbnail(nil); got != "" {
		t.Fatalf("BestThumbnail(nil) = %q, want empty", got)
	}
}

func TestFlattenRuns(t *testing.T) {
	node := mustParse(t, `{
		"runs": [
			{"text": "hello "},
			{"emoji": {
				"emojiId": "UC123/abc",
				"shortcuts": [":wave:", ":hand_wave:"],
				"isCustomEmoji": true,
				"image": {"thumbnails": [
					{"url": "small", "width": 24},
					{"url": "big", "width": 48}
				]}
			}},
			{"text": "world"}
		]
	}`)

	plain, runs := FlattenRuns(node)
	if plain != "hello :wave:world" {
		t.Fatalf("plain = %q", plain)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].Text != "hello " || runs[2].Text != "world" {
		t.Fatalf("text runs wrong: %+v", runs)
	}
	emoji := runs[1].Emoji
	if emoji == nil {
		t.Fatalf("run 1 is not an emoji: %+v", runs[1])
	}
	want := &core.Emoji{ID: "UC123/abc", Shortcut: ":wave:", URL: "big", IsCustom: true}
	if !reflect.DeepEqual(emoji, want) {
		t.Fatalf("emoji = %+v, want %+v", emoji, want)
	}
}

func TestFlattenRunsEmojiWithoutShortcut(t *testing.T) {
	node := mustParse(t, `{"runs": [{"emoji": {"emojiId": "raw-id"}}]}`)
	plain, runs := FlattenRuns(node)
	if plain != "raw-id" {
		t.Fatalf("plain = %q, want the raw id", plain)
	}
	if len(runs) != 1 || runs[0].Emoji == nil || runs[0].Emoji.Shortcut != "" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestParseBadges(t *testing.T) {
	node := mustParse(t, `{
		"authorBadges": [
			{"liveChatAuthorBadgeRenderer": {
				"icon": {"iconType": "MODERATOR"},
				"tooltip": "Moderator"
			}},
			{"liveChatAuthorBadgeRenderer": {
				"customThumbnail": {"thumbnails": [{"url": "badge.png", "width": 16}]},
				"tooltip": "Member (1 year)"
			}},
			{"liveChatAuthorBadgeRenderer": {
				"icon": {"iconType": "SOMETHING_NEW"},
				"tooltip": "Mystery"
			}}
		]
	}`)

	badges := ParseBadges(node)
	if len(badges) != 2 {
		t.Fatalf("got %d badges, want 2: %+v", len(badges), badges)
	}
	if badges[0].Type != core.BadgeModerator || badges[0].Label != "Moderator" {
		t.Fatalf("badge 0 = %+v", badges[0])
	}
	if badges[1].Type != core.BadgeMember || badges[1].IconURL != "badge.png" {
		t.Fatalf("badge 1 = %+v", badges[1])
	}
}

func TestParseBadgesNoneYieldsNil(t *testing.T) {
	if got := ParseBadges(map[string]any{}); got != nil {
		t.Fatalf("ParseBadges without badges = %+v, want nil", got)
	}
	node := mustParse(t, `{"authorBadges": [{"liveChatAuthorBadgeRenderer": {"icon": {"iconType": "UNKNOWN"}}}]}`)
	if got := ParseBadges(node); got != nil {
		t.Fatalf("ParseBadges with only dropped badges = %+v, want nil", got)
	}
}

func TestPaidColors(t *testing.T) {
	node := mustParse(t, `{
		"headerBackgroundColor": 4278239141,
		"headerTextColor": 4278190080,
		"bodyBackgroundColor": 4280150454,
		"bodyTextColor": 4278190080
	}`)
	colors := PaidColors(node)
	if colors == nil {
		t.Fatalf("PaidColors = nil")
	}
	if colors.HeaderBackground == "" || colors.BodyBackground == "" {
		t.Fatalf("colors incomplete: %+v", colors)
	}
	if colors.AuthorName != "" {
		t.Fatalf("AuthorName should be empty: %+v", colors)
	}
}

func TestPaidColorsEmptyYieldsNil(t *testing.T) {
	if got := PaidColors(map[string]any{}); got != nil {
		t.Fatalf("PaidColors with no colors = %+v, want nil", got)
	}
}

func TestPaidColorsStickerFallbacks(t *testing.T) {
	node := mustParse(t, `{"backgroundColor": 4294901760, "moneyChipTextColor": 4278190080}`)
	colors := PaidColors(node)
	if colors == nil {
		t.Fatalf("PaidColors = nil")
	}
	if colors.BodyBackground != "#ff0000ff" {
		t.Fatalf("BodyBackground = %q", colors.BodyBackground)
	}
	if colors.BodyText != "#000000ff" {
		t.Fatalf("BodyText = %q", colors.BodyText)
	}
}
