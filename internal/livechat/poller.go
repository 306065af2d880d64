// Package livechat polls the live continuation endpoint for a broadcast in
// progress. One poll is a single POST; scheduling (server-suggested waits,
// retry backoff, termination) belongs to the Runner so the poll itself stays
// a pure request/decode step.
package livechat

import (
	"context"
	"log"
	"time"

	"github.com/you/chatsync/internal/core"
	"github.com/you/chatsync/internal/innertube"
	"github.com/you/chatsync/internal/renderer"
)

// PollResult is one successful poll. An empty Continuation signals terminal
// end-of-stream: the caller must stop permanently.
type PollResult struct {
	Messages     []core.ChatMessage
	Continuation string
	IntervalMs   int
}

// Poll performs one continuation fetch and decodes the resulting batch.
// Live messages carry no video-relative offset, so their timestamps are 0.
func Poll(ctx context.Context, client *innertube.Client, session *core.Session, continuation string, dec *renderer.Decoder) (PollResult, error) {
	payload, err := client.FetchLiveContinuation(ctx, session, continuation)
	if err != nil {
		return PollResult{}, err
	}

	result := PollResult{}
	chat := renderer.DigMap(payload, "continuationContents", "liveChatContinuation")
	if chat != nil {
		for _, raw := range renderer.DigSlice(chat, "actions") {
			action, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			item := renderer.DigMap(action, "addChatItemAction", "item")
			if item == nil {
				continue
			}
			if msg := dec.Decode(item, 0); msg != nil {
				result.Messages = append(result.Messages, *msg)
			}
		}
		result.Continuation, result.IntervalMs = liveContinuation(chat)
	}
	return result, nil
}

// liveContinuation reads the next cursor from whichever of the alternative
// shapes is present: a timed or invalidation continuation carries a
// server-suggested wait, a reload continuation carries none.
func liveContinuation(chat map[string]any) (string, int) {
	for _, raw := range renderer.DigSlice(chat, "continuations") {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"invalidationContinuationData", "timedContinuationData"} {
			data := renderer.DigMap(node, key)
			if data == nil {
				continue
			}
			if s := renderer.StringField(data, "continuation"); s != "" {
				timeout, _ := renderer.NumberField(data, "timeoutMs")
				return s, int(timeout)
			}
		}
		if s := renderer.StringField(renderer.DigMap(node, "reloadContinuationData"), "continuation"); s != "" {
			return s, 0
		}
	}
	return "", 0
}

// Config tunes the Runner's scheduling. Zero values select the defaults:
// a 1s interval floor and a 5s retry backoff.
type Config struct {
	FloorMs        int
	RetryBackoffMs int
}

const (
	defaultFloorMs        = 1000
	defaultRetryBackoffMs = 5000
)

// Runner drives repeated polls with at most one outstanding request.
type Runner struct {
	client *innertube.Client
	cfg    Config
}

func NewRunner(client *innertube.Client, cfg Config) *Runner {
	if cfg.FloorMs <= 0 {
		cfg.FloorMs = defaultFloorMs
	}
	if cfg.RetryBackoffMs <= 0 {
		cfg.RetryBackoffMs = defaultRetryBackoffMs
	}
	return &Runner{client: client, cfg: cfg}
}

// Run polls until the stream ends or ctx is cancelled. Poll failures are
// retried after the backoff without stopping; a missing continuation stops
// permanently with a nil error. Successful waits honor the server-suggested
// interval but never drop below the floor.
func (r *Runner) Run(ctx context.Context, session *core.Session, onBatch func([]core.ChatMessage)) error {
	dec := renderer.NewDecoder("live")
	continuation := session.Continuation
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := Poll(ctx, r.client, session, continuation, dec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("livechat: poll error: %v (retrying in %dms)", err, r.cfg.RetryBackoffMs)
			if !sleepContext(ctx, time.Duration(r.cfg.RetryBackoffMs)*time.Millisecond) {
				return ctx.Err()
			}
			continue
		}

		if len(result.Messages) > 0 && onBatch != nil {
			onBatch(result.Messages)
		}

		if result.Continuation == "" {
			log.Printf("livechat: no continuation returned, stream ended")
			return nil
		}
		continuation = result.Continuation

		wait := result.IntervalMs
		if wait < r.cfg.FloorMs {
			wait = r.cfg.FloorMs
		}
		if !sleepContext(ctx, time.Duration(wait)*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
