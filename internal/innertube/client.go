// Package innertube talks to the video platform's internal web API.
//
// There is no documented surface here: a session (API key, client context,
// initial continuation) is recovered from the watch page HTML, and chat is
// paged through continuation tokens POSTed back to the same API the web
// player uses. The server varies response shape by client identity, so every
// request carries a realistic desktop user agent and language header.
package innertube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/chatsync/internal/core"
)

const (
	defaultBaseURL   = "https://www.youtube.com"
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultLanguage  = "en-US,en;q=0.9"

	replayEndpoint = "/youtubei/v1/live_chat/get_live_chat_replay"
	liveEndpoint   = "/youtubei/v1/live_chat/get_live_chat"

	maxPageBytes     = 10 << 20
	maxResponseBytes = 8 << 20
)

var (
	// ErrNoConfig means the embedded configuration object could not be
	// located or parsed; nothing can be fetched without it.
	ErrNoConfig = errors.New("innertube: could not extract configuration")
	// ErrNoChatReplay means the watch page carries no chat continuation.
	// This is a user-facing "no chat available" condition, not a fault.
	ErrNoChatReplay = errors.New("innertube: no chat replay available")
)

// Options configures a Client. Zero values select production defaults; tests
// point BaseURL at an httptest server.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	UserAgent      string
	AcceptLanguage string
}

// Client is a stateless innertube API client. Session state lives in
// core.Session values owned by the fetch operations.
type Client struct {
	base     string
	http     *http.Client
	ua       string
	language string
}

func New(opts Options) *Client {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	language := opts.AcceptLanguage
	if language == "" {
		language = defaultLanguage
	}
	return &Client{base: base, http: httpClient, ua: ua, language: language}
}

// WatchURL returns the canonical watch page URL for a video id.
func (c *Client) WatchURL(videoID string) string {
	return c.base + "/watch?v=" + url.QueryEscape(videoID)
}

// FetchWatchPage GETs the watch page HTML for a video.
func (c *Client) FetchWatchPage(ctx context.Context, videoID string) (string, error) {
	return c.fetchPage(ctx, c.WatchURL(videoID))
}

// FetchReplayPage GETs the chat replay page addressed by a continuation.
func (c *Client) FetchReplayPage(ctx context.Context, continuation string) (string, error) {
	u := c.base + "/live_chat_replay?continuation=" + url.QueryEscape(continuation)
	return c.fetchPage(ctx, u)
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept-Language", c.language)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("innertube: page status %s for %s", resp.Status, pageURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// playerState groups the per-request seek hint for replay continuations.
type playerState struct {
	PlayerOffsetMs string `json:"playerOffsetMs"`
}

type continuationRequest struct {
	Context            json.RawMessage `json:"context"`
	Continuation       string          `json:"continuation"`
	CurrentPlayerState *playerState    `json:"currentPlayerState,omitempty"`
}

// FetchReplayContinuation POSTs a replay continuation, optionally seeking to
// playerOffsetMs (pass a negative offset to omit the seek hint). The decoded
// response body is returned as-is for the caller to walk.
func (c *Client) FetchReplayContinuation(ctx context.Context, s *core.Session, continuation string, playerOffsetMs int64) (map[string]any, error) {
	var seek *playerState
	if playerOffsetMs >= 0 {
		seek = &playerState{PlayerOffsetMs: fmt.Sprintf("%d", playerOffsetMs)}
	}
	return c.postContinuation(ctx, s, replayEndpoint, continuation, seek)
}

// FetchLiveContinuation POSTs a live continuation.
func (c *Client) FetchLiveContinuation(ctx context.Context, s *core.Session, continuation string) (map[string]any, error) {
	return c.postContinuation(ctx, s, liveEndpoint, continuation, nil)
}

func (c *Client) postContinuation(ctx context.Context, s *core.Session, endpoint, continuation string, seek *playerState) (map[string]any, error) {
	payload := continuationRequest{
		Context:            s.ClientContext,
		Continuation:       continuation,
		CurrentPlayerState: seek,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	u := c.base + endpoint + "?key=" + url.QueryEscape(s.APIKey) + "&prettyPrint=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept-Language", c.language)
	if s.ClientName != "" {
		req.Header.Set("X-Youtube-Client-Name", s.ClientName)
	}
	if s.ClientVersion != "" {
		req.Header.Set("X-Youtube-Client-Version", s.ClientVersion)
	}
	if s.VisitorData != "" {
		req.Header.Set("X-Goog-Visitor-Id", s.VisitorData)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return nil, fmt.Errorf("innertube: continuation status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("innertube: decode continuation response: %w", err)
	}
	return decoded, nil
}
