package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you/chatsync/internal/core"
	"github.com/you/chatsync/internal/events"
	"github.com/you/chatsync/internal/innertube"
	"github.com/you/chatsync/internal/probe"
	"github.com/you/chatsync/internal/replay"
)

const (
	urlA = "https://www.youtube.com/watch?v=aaaaaaaaaaa"
	urlB = "https://www.youtube.com/watch?v=bbbbbbbbbbb"
)

type eventRecorder struct {
	ch chan events.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan events.Event, 256)}
}

func (r *eventRecorder) Emit(ev events.Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// waitFor drains events until pred matches or the deadline hits.
func (r *eventRecorder) waitFor(t *testing.T, what string, pred func(events.Event) bool) events.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func stateEvent(state State) func(events.Event) bool {
	return func(ev events.Event) bool {
		return ev.Kind == events.KindState && ev.State == string(state)
	}
}

type fakeProber struct {
	meta *probe.Metadata
	err  error
}

func (p *fakeProber) Inspect(_ context.Context, _ string) (*probe.Metadata, error) {
	return p.meta, p.err
}

type fakeBootstrapper struct {
	result *innertube.BootstrapResult
	err    error
}

func (b *fakeBootstrapper) Bootstrap(_ context.Context, _ string) (*innertube.BootstrapResult, error) {
	return b.result, b.err
}

// blockingFetcher parks each FetchAll call until the test releases it with a
// result, so in-flight fetches can be interleaved deterministically.
type blockingFetcher struct {
	mu      sync.Mutex
	waiters map[string]chan []core.ChatMessage
	started chan string
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		waiters: make(map[string]chan []core.ChatMessage),
		started: make(chan string, 16),
	}
}

func (f *blockingFetcher) FetchAll(ctx context.Context, videoID string, _ func(replay.Progress)) ([]core.ChatMessage, error) {
	f.mu.Lock()
	ch, ok := f.waiters[videoID]
	if !ok {
		ch = make(chan []core.ChatMessage, 1)
		f.waiters[videoID] = ch
	}
	f.mu.Unlock()
	f.started <- videoID
	select {
	case msgs := <-ch:
		return msgs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *blockingFetcher) release(videoID string, msgs []core.ChatMessage) {
	f.mu.Lock()
	ch, ok := f.waiters[videoID]
	if !ok {
		ch = make(chan []core.ChatMessage, 1)
		f.waiters[videoID] = ch
	}
	f.mu.Unlock()
	ch <- msgs
}

type instantFetcher struct {
	mu    sync.Mutex
	calls int
	msgs  []core.ChatMessage
	errs  []error
}

func (f *instantFetcher) FetchAll(_ context.Context, _ string, onProgress func(replay.Progress)) ([]core.ChatMessage, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if onProgress != nil {
		onProgress(replay.Progress{FetchedCount: len(f.msgs), Status: replay.StatusComplete})
	}
	return f.msgs, nil
}

func (f *instantFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRunner struct {
	batches [][]core.ChatMessage
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, _ *core.Session, onBatch func([]core.ChatMessage)) error {
	for _, batch := range r.batches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if onBatch != nil {
			onBatch(batch)
		}
	}
	return r.err
}

func TestLoadVideoNonPlatformURL(t *testing.T) {
	rec := newEventRecorder()
	fetcher := &instantFetcher{}
	c := New(Deps{Archived: fetcher, Emitter: rec})

	c.LoadVideo(context.Background(), "https://vimeo.com/12345")

	rec.waitFor(t, "notYouTube state", stateEvent(StateNotYouTube))
	if state, _ := c.State(); state != StateNotYouTube {
		t.Fatalf("state = %q", state)
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("fetch started for a non-platform URL")
	}
}

// Probe says not live and no chat replay track: the controller stops at
// NoChatAvailable without touching the page-scrape path.
func TestProbeNoChatAvailable(t *testing.T) {
	rec := newEventRecorder()
	fetcher := &instantFetcher{}
	c := New(Deps{
		Archived: fetcher,
		Prober:   &fakeProber{meta: &probe.Metadata{IsLive: false}},
		Emitter:  rec,
	})

	c.LoadVideo(context.Background(), urlA)
	rec.waitFor(t, "noChatAvailable state", stateEvent(StateNoChatAvailable))

	if fetcher.callCount() != 0 {
		t.Fatalf("archived fetch ran despite a negative probe")
	}
}

func TestArchivedFlowDeliversChunks(t *testing.T) {
	rec := newEventRecorder()
	fetcher := &instantFetcher{msgs: []core.ChatMessage{
		{ID: "1", Type: core.TypeText, Timestamp: 1},
		{ID: "2", Type: core.TypeText, Timestamp: 2},
		{ID: "3", Type: core.TypeText, Timestamp: 3},
	}}
	c := New(Deps{Archived: fetcher, Emitter: rec, ChunkSize: 2})

	c.LoadVideo(context.Background(), urlA)

	rec.waitFor(t, "loading on", func(ev events.Event) bool {
		return ev.Kind == events.KindLoading && ev.Loading != nil && *ev.Loading
	})
	complete := rec.waitFor(t, "chunk completion", func(ev events.Event) bool {
		return ev.Kind == events.KindChunkComplete
	})
	if complete.Complete.TotalMessages != 3 || complete.Complete.ChunkCount != 2 {
		t.Fatalf("completion = %+v", complete.Complete)
	}
	rec.waitFor(t, "ready state", stateEvent(StateReady))
}

func TestSupersededResultIsDiscarded(t *testing.T) {
	rec := newEventRecorder()
	fetcher := newBlockingFetcher()
	c := New(Deps{Archived: fetcher, Emitter: rec})

	ctx := context.Background()
	c.LoadVideo(ctx, urlA)
	if started := <-fetcher.started; started != "aaaaaaaaaaa" {
		t.Fatalf("first fetch for %q", started)
	}

	c.LoadVideo(ctx, urlB)
	if started := <-fetcher.started; started != "bbbbbbbbbbb" {
		t.Fatalf("second fetch for %q", started)
	}

	// A's stale result arrives after B's load and must not be displayed.
	fetcher.release("aaaaaaaaaaa", []core.ChatMessage{{ID: "stale-a"}})
	fetcher.release("bbbbbbbbbbb", []core.ChatMessage{{ID: "fresh-b"}})

	ready := rec.waitFor(t, "ready state", stateEvent(StateReady))
	if ready.VideoID != "bbbbbbbbbbb" {
		t.Fatalf("ready for %q, want b", ready.VideoID)
	}

	c.mu.Lock()
	buffer := append([]core.ChatMessage(nil), c.buffer...)
	c.mu.Unlock()
	if len(buffer) != 1 || buffer[0].ID != "fresh-b" {
		t.Fatalf("buffer = %+v, want only b's result", buffer)
	}

	// Drain anything pending: no chunk event may carry A's video id.
	for {
		select {
		case ev := <-rec.ch:
			if ev.Kind == events.KindChunk && ev.VideoID == "aaaaaaaaaaa" {
				t.Fatalf("stale chunk for superseded video delivered: %+v", ev)
			}
		default:
			return
		}
	}
}

// A fetch must survive the connection that issued it. Cancelling the
// command's context (the issuing client disconnecting mid-download) does not
// cancel the fetch; a reconnecting client picks the result up via Ready.
func TestFetchSurvivesCommandContextCancel(t *testing.T) {
	rec := newEventRecorder()
	fetcher := newBlockingFetcher()
	c := New(Deps{Archived: fetcher, Emitter: rec})

	cmdCtx, cancel := context.WithCancel(context.Background())
	c.LoadVideo(cmdCtx, urlA)
	if started := <-fetcher.started; started != "aaaaaaaaaaa" {
		t.Fatalf("fetch started for %q", started)
	}
	cancel()

	fetcher.release("aaaaaaaaaaa", []core.ChatMessage{{ID: "a1"}})
	ready := rec.waitFor(t, "ready state", stateEvent(StateReady))
	if ready.VideoID != "aaaaaaaaaaa" {
		t.Fatalf("ready for %q", ready.VideoID)
	}
}

// The probe can race the stream ending: live probe result but a not-live
// bootstrap falls back to the archived path.
func TestLiveRaceFallsBackToArchived(t *testing.T) {
	rec := newEventRecorder()
	fetcher := &instantFetcher{msgs: []core.ChatMessage{{ID: "1"}}}
	c := New(Deps{
		Archived:     fetcher,
		Prober:       &fakeProber{meta: &probe.Metadata{IsLive: true}},
		Bootstrapper: &fakeBootstrapper{result: &innertube.BootstrapResult{Session: &core.Session{IsLive: false}}},
		Emitter:      rec,
	})

	c.LoadVideo(context.Background(), urlA)
	rec.waitFor(t, "ready state", stateEvent(StateReady))
	if fetcher.callCount() != 1 {
		t.Fatalf("archived fallback did not run")
	}
}

func TestLiveFlowEmitsBatches(t *testing.T) {
	rec := newEventRecorder()
	c := New(Deps{
		Prober:       &fakeProber{meta: &probe.Metadata{IsLive: true}},
		Bootstrapper: &fakeBootstrapper{result: &innertube.BootstrapResult{Session: &core.Session{IsLive: true}}},
		Live: &fakeRunner{batches: [][]core.ChatMessage{
			{{ID: "l1", Type: core.TypeText}},
			{{ID: "l2", Type: core.TypeText}},
		}},
		Emitter: rec,
	})

	c.LoadVideo(context.Background(), urlA)

	batch := rec.waitFor(t, "live batch", func(ev events.Event) bool {
		return ev.Kind == events.KindLiveBatch
	})
	if len(batch.Messages) != 1 || batch.Messages[0].ID != "l1" {
		t.Fatalf("batch = %+v", batch.Messages)
	}
	rec.waitFor(t, "ready state after stream end", stateEvent(StateReady))

	c.mu.Lock()
	buffered := len(c.buffer)
	c.mu.Unlock()
	if buffered != 2 {
		t.Fatalf("buffered live messages = %d, want 2", buffered)
	}
}

func TestRetryAfterError(t *testing.T) {
	rec := newEventRecorder()
	fetcher := &instantFetcher{
		msgs: []core.ChatMessage{{ID: "1"}},
		errs: []error{errors.New("boom")},
	}
	c := New(Deps{Archived: fetcher, Emitter: rec})

	ctx := context.Background()
	c.LoadVideo(ctx, urlA)
	errEv := rec.waitFor(t, "error event", func(ev events.Event) bool {
		return ev.Kind == events.KindError
	})
	if errEv.Detail == "" {
		t.Fatalf("error event missing detail: %+v", errEv)
	}

	c.Retry(ctx)
	rec.waitFor(t, "ready state after retry", stateEvent(StateReady))
	if fetcher.callCount() != 2 {
		t.Fatalf("fetch calls = %d, want 2", fetcher.callCount())
	}
}

func TestNoChatReplayIsInformational(t *testing.T) {
	rec := newEventRecorder()
	fetcher := &instantFetcher{errs: []error{innertube.ErrNoChatReplay}}
	c := New(Deps{Archived: fetcher, Emitter: rec})

	c.LoadVideo(context.Background(), urlA)
	rec.waitFor(t, "noChatAvailable state", stateEvent(StateNoChatAvailable))
}
