// Package orchestrator owns the per-video acquisition lifecycle. One
// Controller decides, for each loaded video, whether to take the archived or
// live path, drives the fetch, and publishes progress, data and error events.
// All mutable state (current video, message buffer, live cancel handle) lives
// on the Controller behind one mutex; fetches run on their own goroutines and
// report back tagged with the generation that started them, so a result
// arriving after a newer load is discarded instead of displayed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/you/chatsync/internal/core"
	"github.com/you/chatsync/internal/events"
	"github.com/you/chatsync/internal/innertube"
	"github.com/you/chatsync/internal/probe"
	"github.com/you/chatsync/internal/replay"
)

// State names one node of the acquisition state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateCheckingAvailability State = "checkingAvailability"
	StateNotYouTube           State = "notYouTube"
	StateNoChatAvailable      State = "noChatAvailable"
	StateLiveFetching         State = "liveFetching"
	StateArchivedFetching     State = "archivedFetching"
	StateReady                State = "ready"
	StateError                State = "error"
)

// Bootstrapper recovers a fetch session from the watch page.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, videoID string) (*innertube.BootstrapResult, error)
}

// ArchivedFetcher downloads a complete replay transcript.
type ArchivedFetcher interface {
	FetchAll(ctx context.Context, videoID string, onProgress func(replay.Progress)) ([]core.ChatMessage, error)
}

// LiveRunner polls a live broadcast until it ends or ctx is cancelled.
type LiveRunner interface {
	Run(ctx context.Context, session *core.Session, onBatch func([]core.ChatMessage)) error
}

// TranscriptSink receives completed archived transcripts. Optional.
type TranscriptSink interface {
	ReplaceTranscript(ctx context.Context, videoID string, msgs []core.ChatMessage) error
}

// Deps are the collaborators a Controller drives. Prober and Sink may be nil;
// a nil Prober skips the availability check and goes straight to the page
// scrape, a nil Sink disables transcript export.
type Deps struct {
	Bootstrapper Bootstrapper
	Archived     ArchivedFetcher
	Live         LiveRunner
	Prober       probe.Prober
	Sink         TranscriptSink
	Emitter      events.Emitter
	WatchURL     func(videoID string) string
	ChunkSize    int
	// BaseContext bounds spawned fetches to the daemon's lifetime. Commands
	// arrive on per-connection contexts; a fetch must survive the connection
	// that issued it so a reconnecting client can pick the result up via
	// Ready. Nil means context.Background().
	BaseContext context.Context
}

// Controller is the state machine. Methods are safe for concurrent use.
type Controller struct {
	deps Deps

	mu         sync.Mutex
	state      State
	videoID    string
	generation int64
	buffer     []core.ChatMessage
	position   float64
	cancelLive context.CancelFunc
}

func New(deps Deps) *Controller {
	if deps.Emitter == nil {
		deps.Emitter = events.EmitterFunc(func(events.Event) {})
	}
	if deps.WatchURL == nil {
		deps.WatchURL = func(id string) string { return "https://www.youtube.com/watch?v=" + id }
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	return &Controller{deps: deps, state: StateIdle}
}

// State returns the current state and video id.
func (c *Controller) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.videoID
}

// LoadVideo handles a video-load event. A non-platform URL transitions to
// NotYouTube and stops; otherwise any in-flight work for the previous video
// is superseded and a fresh acquisition starts. The live poller, if running,
// is cancelled synchronously before the new fetch begins. The spawned fetch
// runs on the base context, not the command's, so it outlives the issuing
// connection; only supersession or daemon shutdown cancels it.
func (c *Controller) LoadVideo(_ context.Context, rawURL string) {
	id, isPlatform := ParseVideoID(rawURL)

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.buffer = nil
	if c.cancelLive != nil {
		c.cancelLive()
		c.cancelLive = nil
	}

	if !isPlatform {
		c.videoID = ""
		c.state = StateNotYouTube
		c.mu.Unlock()
		c.emitState(StateNotYouTube, "")
		c.emit(events.Event{Kind: events.KindInfo, Message: "This file is not a YouTube video."})
		return
	}
	if id == "" {
		c.videoID = ""
		c.state = StateError
		c.mu.Unlock()
		c.emitState(StateError, "")
		c.emit(events.Event{Kind: events.KindError, Message: "Could not extract a video id from the URL.", Detail: rawURL})
		return
	}

	c.videoID = id
	c.state = StateCheckingAvailability
	c.mu.Unlock()

	c.emitState(StateCheckingAvailability, id)
	go c.run(c.deps.BaseContext, gen, id)
}

// Retry re-runs the acquisition for the current video.
func (c *Controller) Retry(_ context.Context) {
	c.mu.Lock()
	id := c.videoID
	if id == "" {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	c.buffer = nil
	if c.cancelLive != nil {
		c.cancelLive()
		c.cancelLive = nil
	}
	c.state = StateCheckingAvailability
	c.mu.Unlock()

	c.emitState(StateCheckingAvailability, id)
	go c.run(c.deps.BaseContext, gen, id)
}

// Ready replays the current state to a newly attached consumer: the state,
// the position cursor, and the buffered transcript re-chunked from scratch.
func (c *Controller) Ready() {
	c.mu.Lock()
	state := c.state
	id := c.videoID
	pos := c.position
	buffered := make([]core.ChatMessage, len(c.buffer))
	copy(buffered, c.buffer)
	c.mu.Unlock()

	c.emitState(state, id)
	c.emit(events.Event{Kind: events.KindPosition, VideoID: id, Position: &pos})
	if state == StateReady && id != "" {
		for _, ev := range events.ChunkTranscript(id, buffered, c.deps.ChunkSize) {
			c.emit(ev)
		}
	}
}

// Position records a playback-position update and echoes it.
func (c *Controller) Position(seconds float64) {
	c.mu.Lock()
	c.position = seconds
	id := c.videoID
	c.mu.Unlock()
	c.emit(events.Event{Kind: events.KindPosition, VideoID: id, Position: &seconds})
}

// run is the acquisition body for one (generation, videoID) pair. It never
// touches Controller state directly; every transition goes through the
// generation-checked helpers so a superseded run becomes a no-op.
func (c *Controller) run(ctx context.Context, gen int64, videoID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("orchestrator: panic during fetch for %s: %v", videoID, r)
			c.fail(gen, videoID, "An unexpected error occurred.", fmt.Sprint(r))
		}
	}()

	live := c.checkAvailability(ctx, gen, videoID)
	if !c.current(gen) {
		return
	}
	switch {
	case live == availabilityNone:
		c.transition(gen, videoID, StateNoChatAvailable)
		c.emitTagged(gen, events.Event{Kind: events.KindInfo, VideoID: videoID, Message: "No chat data is available for this video."})
	case live == availabilityLive:
		c.runLive(ctx, gen, videoID)
	default:
		c.runArchived(ctx, gen, videoID)
	}
}

type availability int

const (
	availabilityArchived availability = iota
	availabilityLive
	availabilityNone
)

// checkAvailability consults the external probe. A probe failure is logged
// and treated as "unknown, try the archived path": the page scrape makes the
// authoritative no-chat determination anyway.
func (c *Controller) checkAvailability(ctx context.Context, gen int64, videoID string) availability {
	if c.deps.Prober == nil {
		return availabilityArchived
	}
	meta, err := c.deps.Prober.Inspect(ctx, c.deps.WatchURL(videoID))
	if err != nil {
		log.Printf("orchestrator: availability probe failed for %s: %v (falling back to page scrape)", videoID, err)
		return availabilityArchived
	}
	if meta.IsLive {
		return availabilityLive
	}
	if !meta.HasChatReplay() {
		return availabilityNone
	}
	return availabilityArchived
}

// runArchived reveals the loading surface before the download completes,
// then runs the transcript fetch and delivers the result in ordered chunks.
func (c *Controller) runArchived(ctx context.Context, gen int64, videoID string) {
	if !c.transition(gen, videoID, StateArchivedFetching) {
		return
	}
	loadingOn := true
	c.emitTagged(gen, events.Event{Kind: events.KindLoading, VideoID: videoID, Loading: &loadingOn})

	msgs, err := c.deps.Archived.FetchAll(ctx, videoID, func(p replay.Progress) {
		c.emitTagged(gen, events.Event{
			Kind:    events.KindProgress,
			VideoID: videoID,
			Progress: &events.FetchProgress{
				FetchedCount:    p.FetchedCount,
				CurrentOffsetMs: p.CurrentOffsetMs,
				Status:          string(p.Status),
				Message:         p.Message,
			},
		})
	})
	if !c.current(gen) {
		// Superseded mid-flight: the result belongs to a stale load.
		return
	}
	loadingOff := false
	c.emitTagged(gen, events.Event{Kind: events.KindLoading, VideoID: videoID, Loading: &loadingOff})
	if err != nil {
		if errors.Is(err, innertube.ErrNoChatReplay) {
			c.transition(gen, videoID, StateNoChatAvailable)
			c.emitTagged(gen, events.Event{Kind: events.KindInfo, VideoID: videoID, Message: "No chat replay is available for this video."})
			return
		}
		c.fail(gen, videoID, "Failed to fetch the chat replay.", err.Error())
		return
	}

	c.mu.Lock()
	if c.generation == gen {
		c.buffer = msgs
	}
	c.mu.Unlock()

	for _, ev := range events.ChunkTranscript(videoID, msgs, c.deps.ChunkSize) {
		c.emitTagged(gen, ev)
	}
	c.transition(gen, videoID, StateReady)
	c.export(ctx, videoID, msgs)
}

// runLive bootstraps and polls the live endpoint. A not-live bootstrap
// result (the probe raced the stream ending) falls back to the archived path
// instead of failing.
func (c *Controller) runLive(ctx context.Context, gen int64, videoID string) {
	boot, err := c.deps.Bootstrapper.Bootstrap(ctx, videoID)
	if err != nil {
		if !c.current(gen) {
			return
		}
		if errors.Is(err, innertube.ErrNoChatReplay) {
			c.transition(gen, videoID, StateNoChatAvailable)
			c.emitTagged(gen, events.Event{Kind: events.KindInfo, VideoID: videoID, Message: "No chat data is available for this video."})
			return
		}
		c.fail(gen, videoID, "Failed to connect to the live chat.", err.Error())
		return
	}
	if !boot.Session.IsLive {
		log.Printf("orchestrator: %s not live after all, using archived path", videoID)
		c.runArchived(ctx, gen, videoID)
		return
	}

	liveCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelLive = cancel
	c.state = StateLiveFetching
	c.mu.Unlock()
	c.emitState(StateLiveFetching, videoID)

	err = c.deps.Live.Run(liveCtx, boot.Session, func(batch []core.ChatMessage) {
		c.mu.Lock()
		if c.generation == gen {
			c.buffer = append(c.buffer, batch...)
		}
		c.mu.Unlock()
		c.emitTagged(gen, events.Event{Kind: events.KindLiveBatch, VideoID: videoID, Messages: batch})
	})

	c.mu.Lock()
	if c.generation == gen && c.cancelLive != nil {
		c.cancelLive()
		c.cancelLive = nil
	}
	c.mu.Unlock()

	if !c.current(gen) {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.fail(gen, videoID, "Live chat polling failed.", err.Error())
		return
	}
	c.transition(gen, videoID, StateReady)
	c.emitTagged(gen, events.Event{Kind: events.KindInfo, VideoID: videoID, Message: "The live stream has ended."})
}

func (c *Controller) export(ctx context.Context, videoID string, msgs []core.ChatMessage) {
	if c.deps.Sink == nil {
		return
	}
	if err := c.deps.Sink.ReplaceTranscript(ctx, videoID, msgs); err != nil {
		log.Printf("orchestrator: transcript export for %s failed: %v", videoID, err)
	}
}

// current reports whether gen is still the live generation.
func (c *Controller) current(gen int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// transition moves to next if gen is still current, emitting the state event.
func (c *Controller) transition(gen int64, videoID string, next State) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false
	}
	c.state = next
	c.mu.Unlock()
	c.emitState(next, videoID)
	return true
}

func (c *Controller) fail(gen int64, videoID, summary, detail string) {
	if !c.transition(gen, videoID, StateError) {
		return
	}
	c.emit(events.Event{Kind: events.KindError, VideoID: videoID, Message: summary, Detail: detail})
}

func (c *Controller) emit(ev events.Event) {
	c.deps.Emitter.Emit(ev)
}

// emitTagged drops the event if gen has been superseded.
func (c *Controller) emitTagged(gen int64, ev events.Event) {
	if !c.current(gen) {
		return
	}
	c.emit(ev)
}

func (c *Controller) emitState(state State, videoID string) {
	c.emit(events.Event{Kind: events.KindState, VideoID: videoID, State: string(state)})
}
