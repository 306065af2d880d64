package replay

import (
	"encoding/json"
	"regexp"

	"github.com/you/chatsync/internal/core"
	"github.com/you/chatsync/internal/pagejson"
	"github.com/you/chatsync/internal/renderer"
)

var initialDataPattern = regexp.MustCompile(`(?:window\s*\[\s*["']ytInitialData["']\s*\]|ytInitialData)\s*=`)

// timedMessage pairs a decoded message with the reported replay offset, so
// workers can range-filter before the merge.
type timedMessage struct {
	msg      *core.ChatMessage
	offsetMs int64
}

// liveChatNode digs the live chat continuation object out of a decoded
// payload. Replay page HTML and raw API responses share enough structure
// that both top-level homes are tried.
func liveChatNode(payload map[string]any) map[string]any {
	if node := renderer.DigMap(payload, "continuationContents", "liveChatContinuation"); node != nil {
		return node
	}
	if node := renderer.DigMap(payload, "contents", "liveChatRenderer"); node != nil {
		return node
	}
	return nil
}

// payloadFromBody decodes a replay page response, which is either an HTML
// page embedding the initial-data blob or a literal JSON document.
func payloadFromBody(body string) (map[string]any, bool) {
	raw, ok := pagejson.ExtractObject(body, initialDataPattern)
	if !ok {
		raw = body
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false
	}
	return payload, true
}

// unfilteredContinuation looks for the second selectable sub-menu item on
// the chat view selector: index 1 is the "all messages" view as opposed to
// the default filtered "top chat" view.
func unfilteredContinuation(chat map[string]any) string {
	items := renderer.DigSlice(chat,
		"header", "liveChatHeaderRenderer", "viewSelector", "sortFilterSubMenuRenderer", "subMenuItems")
	if len(items) < 2 {
		return ""
	}
	item, ok := items[1].(map[string]any)
	if !ok {
		return ""
	}
	return renderer.StringField(renderer.DigMap(item, "continuation", "reloadContinuationData"), "continuation")
}

// Continuation shapes a replay response may carry, in preference order.
var replayContinuationKeys = []string{
	"liveChatReplayContinuationData",
	"playerSeekContinuationData",
	"reloadContinuationData",
	"invalidationContinuationData",
	"timedContinuationData",
}

// nextContinuation returns the first continuation token present on the chat
// node, or "" when the segment (or stream) is exhausted.
func nextContinuation(chat map[string]any) string {
	for _, raw := range renderer.DigSlice(chat, "continuations") {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range replayContinuationKeys {
			if s := renderer.StringField(renderer.DigMap(node, key), "continuation"); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseActions decodes the replay action list on a chat node. Each action
// wraps the normal add-chat-item action together with the video offset the
// message was displayed at; the offset becomes the normalized timestamp.
// lastOffset reports the greatest offset observed, including items the
// decoder suppressed, so workers can tell when they have passed their range.
func parseActions(chat map[string]any, dec *renderer.Decoder) (items []timedMessage, lastOffset int64) {
	for _, raw := range renderer.DigSlice(chat, "actions") {
		action, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		replayAction := renderer.DigMap(action, "replayChatItemAction")
		if replayAction == nil {
			continue
		}
		offsetMs, ok := renderer.NumberField(replayAction, "videoOffsetTimeMsec")
		if !ok {
			dec.ReportFailure("missing videoOffsetTimeMsec")
			continue
		}
		if offsetMs > lastOffset {
			lastOffset = offsetMs
		}
		for _, innerRaw := range renderer.DigSlice(replayAction, "actions") {
			inner, ok := innerRaw.(map[string]any)
			if !ok {
				continue
			}
			item := renderer.DigMap(inner, "addChatItemAction", "item")
			if item == nil {
				continue
			}
			msg := dec.Decode(item, float64(offsetMs)/1000.0)
			if msg == nil {
				continue
			}
			items = append(items, timedMessage{msg: msg, offsetMs: offsetMs})
		}
	}
	return items, lastOffset
}
