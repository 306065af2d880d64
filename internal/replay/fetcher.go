// Package replay retrieves the complete chat transcript of a finished
// broadcast. The replay feed is reverse-chronological and addressed by
// opaque continuation tokens, so the fetcher partitions the video duration
// into fixed segments, seeks one concurrent worker into each, and merges the
// per-segment results into a single timestamp-ordered transcript.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/you/chatsync/internal/core"
	"github.com/you/chatsync/internal/innertube"
	"github.com/you/chatsync/internal/renderer"
)

// Status values reported through the progress callback.
type Status string

const (
	StatusFetching Status = "fetching"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Progress is one progress callback invocation. FetchedCount aggregates
// across all workers.
type Progress struct {
	FetchedCount    int
	CurrentOffsetMs int64
	Status          Status
	Message         string
}

// Config carries the partitioning tunables. Zero values select the
// defaults: 10 workers, 60s end margin, 2h duration fallback.
type Config struct {
	Workers            int
	EndMarginMs        int64
	FallbackDurationMs int64
}

const (
	defaultWorkers            = 10
	defaultEndMarginMs        = 60_000
	defaultFallbackDurationMs = 2 * 60 * 60 * 1000
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.EndMarginMs <= 0 {
		c.EndMarginMs = defaultEndMarginMs
	}
	if c.FallbackDurationMs <= 0 {
		c.FallbackDurationMs = defaultFallbackDurationMs
	}
	return c
}

// Fetcher downloads archived transcripts via an innertube client.
type Fetcher struct {
	client *innertube.Client
	cfg    Config
}

func NewFetcher(client *innertube.Client, cfg Config) *Fetcher {
	return &Fetcher{client: client, cfg: cfg.withDefaults()}
}

// FetchAll retrieves the full transcript for videoID. onProgress may be nil;
// when set it is invoked many times, finishing with StatusComplete or
// StatusError. Per-worker mid-stream failures truncate that worker's segment
// silently; only bootstrap and first-page failures are terminal.
func (f *Fetcher) FetchAll(ctx context.Context, videoID string, onProgress func(Progress)) ([]core.ChatMessage, error) {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	fail := func(err error) ([]core.ChatMessage, error) {
		report(Progress{Status: StatusError, Message: err.Error()})
		return nil, err
	}

	boot, err := f.client.Bootstrap(ctx, videoID)
	if err != nil {
		return fail(err)
	}
	session := boot.Session
	dec := renderer.NewDecoder("archived")

	// First page: the chat replay page addressed by the initial
	// continuation. Its view selector may offer the unfiltered ("all
	// messages") feed at index 1, which replaces the default top-chat one.
	body, err := f.client.FetchReplayPage(ctx, session.Continuation)
	if err != nil {
		return fail(fmt.Errorf("replay: fetch chat replay page: %w", err))
	}
	payload, ok := payloadFromBody(body)
	if !ok {
		return fail(errors.New("replay: could not extract replay page data"))
	}
	chat := liveChatNode(payload)
	if chat == nil {
		return fail(innertube.ErrNoChatReplay)
	}

	baseContinuation := unfilteredContinuation(chat)
	var firstPage []timedMessage
	if baseContinuation == "" {
		// No unfiltered view: keep the first page's own messages and
		// follow its own continuation.
		firstPage, _ = parseActions(chat, dec)
		baseContinuation = nextContinuation(chat)
		if baseContinuation == "" {
			// A complete (short) transcript, not an error.
			msgs := mergeResults(firstPage, nil)
			report(Progress{FetchedCount: len(msgs), Status: StatusComplete})
			return msgs, nil
		}
	}

	durationMs := boot.DurationMs
	if durationMs <= 0 {
		log.Printf("replay: unknown duration for %s, assuming %dms", videoID, f.cfg.FallbackDurationMs)
		durationMs = f.cfg.FallbackDurationMs
	}
	segments := Partition(durationMs, f.cfg.Workers, f.cfg.EndMarginMs)

	// One worker per segment; each follows its own continuation chain
	// sequentially while all chains run concurrently.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		total   = len(firstPage)
		maxSeen int64
		results = make([][]timedMessage, len(segments))
	)
	for i, seg := range segments {
		wg.Add(1)
		go func(i int, seg core.Segment) {
			defer wg.Done()
			collected := f.fetchSegment(ctx, session, dec, baseContinuation, seg, func(n int, offsetMs int64) {
				// Report while holding the lock so aggregated counts
				// reach the callback in the order they were taken.
				mu.Lock()
				total += n
				if offsetMs > maxSeen {
					maxSeen = offsetMs
				}
				report(Progress{FetchedCount: total, CurrentOffsetMs: maxSeen, Status: StatusFetching})
				mu.Unlock()
			})
			results[i] = collected
		}(i, seg)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	msgs := mergeResults(firstPage, results)
	report(Progress{FetchedCount: len(msgs), CurrentOffsetMs: durationMs, Status: StatusComplete})
	return msgs, nil
}

// fetchSegment runs one worker: a seek request to the segment start, then
// repeated continuation-following until the segment range is exhausted.
// Errors truncate the segment and return what was collected so far.
func (f *Fetcher) fetchSegment(ctx context.Context, session *core.Session, dec *renderer.Decoder, continuation string, seg core.Segment, onBatch func(count int, offsetMs int64)) []timedMessage {
	var collected []timedMessage
	seekOffset := seg.StartMs
	cont := continuation
	for {
		if ctx.Err() != nil {
			return collected
		}
		payload, err := f.client.FetchReplayContinuation(ctx, session, cont, seekOffset)
		if err != nil {
			log.Printf("replay: worker %d: %v (segment truncated)", seg.Worker, err)
			return collected
		}
		seekOffset = -1 // only the first request seeks

		chat := liveChatNode(payload)
		if chat == nil {
			return collected
		}
		items, lastOffset := parseActions(chat, dec)

		kept := 0
		for _, item := range items {
			if item.offsetMs >= seg.StartMs && item.offsetMs < seg.EndMs {
				collected = append(collected, item)
				kept++
			}
		}
		if kept > 0 {
			onBatch(kept, lastOffset)
		}

		cont = nextContinuation(chat)
		if cont == "" || lastOffset >= seg.EndMs {
			return collected
		}
	}
}

// mergeResults flattens the per-worker lists, deduplicates by id with the
// first page seeded first, and sorts by ascending timestamp. Overlapping
// segment boundaries and pagination jitter make both steps mandatory.
func mergeResults(firstPage []timedMessage, workers [][]timedMessage) []core.ChatMessage {
	seen := make(map[string]struct{}, len(firstPage))
	out := make([]core.ChatMessage, 0, len(firstPage))
	appendUnique := func(items []timedMessage) {
		for _, item := range items {
			if _, dup := seen[item.msg.ID]; dup {
				continue
			}
			seen[item.msg.ID] = struct{}{}
			out = append(out, *item.msg)
		}
	}
	appendUnique(firstPage)
	for _, items := range workers {
		appendUnique(items)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
