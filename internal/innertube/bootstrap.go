package innertube

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/you/chatsync/internal/core"
	"github.com/you/chatsync/internal/pagejson"
	"github.com/you/chatsync/internal/renderer"
)

var (
	ytcfgPattern       = regexp.MustCompile(`ytcfg\.set\s*\(`)
	initialDataPattern = regexp.MustCompile(`(?:window\s*\[\s*["']ytInitialData["']\s*\]|ytInitialData)\s*=`)
	playerPattern      = regexp.MustCompile(`ytInitialPlayerResponse\s*=`)
	lengthPattern      = regexp.MustCompile(`"lengthSeconds"\s*:\s*"?(\d+)"?`)
)

// BootstrapResult bundles the recovered session with watch-page facts the
// archived fetcher needs (duration for segment partitioning).
type BootstrapResult struct {
	Session    *core.Session
	DurationMs int64
}

// pageConfig mirrors the fields of the embedded configuration object the
// engine depends on. Everything else in the blob is ignored.
type pageConfig struct {
	APIKey        string          `json:"INNERTUBE_API_KEY"`
	Context       json.RawMessage `json:"INNERTUBE_CONTEXT"`
	ClientName    json.Number     `json:"INNERTUBE_CONTEXT_CLIENT_NAME"`
	ClientVersion string          `json:"INNERTUBE_CLIENT_VERSION"`
}

// Bootstrap fetches the watch page for videoID and recovers a fetch session:
// API key, client context, visitor id and the initial chat continuation.
// ErrNoChatReplay is returned when the page has no chat conversation at all;
// ErrNoConfig when the configuration blob is missing or unparseable.
func (c *Client) Bootstrap(ctx context.Context, videoID string) (*BootstrapResult, error) {
	html, err := c.FetchWatchPage(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("innertube: fetch watch page: %w", err)
	}
	return c.BootstrapFromHTML(html)
}

// BootstrapFromHTML performs the extraction half of Bootstrap on an already
// fetched page, so callers holding the HTML (and tests) skip the GET.
func (c *Client) BootstrapFromHTML(html string) (*BootstrapResult, error) {
	cfgJSON, ok := pagejson.ExtractObject(html, ytcfgPattern)
	if !ok {
		return nil, ErrNoConfig
	}
	var cfg pageConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConfig, err)
	}
	if cfg.APIKey == "" || len(cfg.Context) == 0 {
		return nil, ErrNoConfig
	}

	session := &core.Session{
		APIKey:        cfg.APIKey,
		ClientContext: cfg.Context,
		ClientName:    cfg.ClientName.String(),
		ClientVersion: cfg.ClientVersion,
		VisitorData:   visitorDataFromContext(cfg.Context),
	}

	initJSON, ok := pagejson.ExtractObject(html, initialDataPattern)
	if !ok {
		return nil, ErrNoChatReplay
	}
	var initialData map[string]any
	if err := json.Unmarshal([]byte(initJSON), &initialData); err != nil {
		return nil, fmt.Errorf("innertube: parse initial data: %w", err)
	}

	session.Continuation = initialContinuation(initialData)
	if session.Continuation == "" {
		return nil, ErrNoChatReplay
	}

	session.IsLive, _ = pageIsLive(html)
	return &BootstrapResult{
		Session:    session,
		DurationMs: durationMsFromPage(html),
	}, nil
}

// initialContinuation reads the reload continuation from the fixed nested
// path: watch page, conversation sidebar, chat renderer, first continuation.
func initialContinuation(initialData map[string]any) string {
	chat := renderer.DigMap(initialData,
		"contents", "twoColumnWatchNextResults", "conversationBar", "liveChatRenderer")
	if chat == nil {
		return ""
	}
	for _, raw := range renderer.DigSlice(chat, "continuations") {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s := renderer.StringField(renderer.DigMap(node, "reloadContinuationData"), "continuation"); s != "" {
			return s
		}
	}
	// Older page variants hang the reload continuation off the header's
	// view selector instead.
	for _, raw := range renderer.DigSlice(chat,
		"header", "liveChatHeaderRenderer", "viewSelector", "sortFilterSubMenuRenderer", "subMenuItems") {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s := renderer.StringField(renderer.DigMap(node, "continuation", "reloadContinuationData"), "continuation"); s != "" {
			return s
		}
	}
	return ""
}

// visitorDataFromContext pulls client.visitorData out of the opaque context
// blob; an empty result just means the header is omitted later.
func visitorDataFromContext(raw json.RawMessage) string {
	var ctx struct {
		Client struct {
			VisitorData string `json:"visitorData"`
		} `json:"client"`
	}
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return ""
	}
	return ctx.Client.VisitorData
}

// durationMsFromPage resolves the video duration, preferring the structured
// player response and falling back to a raw lengthSeconds match. Zero means
// unknown; the replay fetcher substitutes its configured default.
func durationMsFromPage(html string) int64 {
	if playerJSON, ok := pagejson.ExtractObject(html, playerPattern); ok {
		var player struct {
			VideoDetails struct {
				LengthSeconds string `json:"lengthSeconds"`
			} `json:"videoDetails"`
		}
		if err := json.Unmarshal([]byte(playerJSON), &player); err == nil {
			if secs, err := strconv.ParseInt(player.VideoDetails.LengthSeconds, 10, 64); err == nil && secs > 0 {
				return secs * 1000
			}
		}
	}
	if m := lengthPattern.FindStringSubmatch(html); len(m) > 1 {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil && secs > 0 {
			return secs * 1000
		}
	}
	return 0
}

// pageIsLive inspects the player response for the live flag.
func pageIsLive(html string) (bool, bool) {
	playerJSON, ok := pagejson.ExtractObject(html, playerPattern)
	if !ok {
		return false, false
	}
	var player struct {
		VideoDetails struct {
			IsLive bool `json:"isLive"`
		} `json:"videoDetails"`
	}
	if err := json.Unmarshal([]byte(playerJSON), &player); err != nil {
		return false, false
	}
	return player.VideoDetails.IsLive, true
}
