// Package events defines the payloads the engine emits to the presentation
// layer and the Emitter interface the orchestrator writes them to. Transport
// framing belongs to the bridge; this package only fixes the information
// content of each named payload.
package events

import "github.com/you/chatsync/internal/core"

// Kind names an outbound payload.
type Kind string

const (
	// KindLoading toggles the results surface's loading state.
	KindLoading Kind = "loading"
	// KindChunk delivers one ordered slice of a large transcript.
	KindChunk Kind = "chunk"
	// KindChunkComplete marks the end of a chunked delivery and carries
	// the expected totals so the receiver can detect gaps.
	KindChunkComplete Kind = "chunkComplete"
	// KindLiveBatch delivers an incremental batch of live messages.
	KindLiveBatch Kind = "liveBatch"
	// KindPosition echoes the current playback position.
	KindPosition Kind = "position"
	// KindInfo carries a user-facing informational string.
	KindInfo Kind = "info"
	// KindError carries a user-facing error summary plus raw detail.
	KindError Kind = "error"
	// KindPrefs carries a snapshot of the persisted preferences.
	KindPrefs Kind = "prefs"
	// KindState reports an orchestrator state transition.
	KindState Kind = "state"
	// KindProgress reports archived-fetch progress.
	KindProgress Kind = "progress"
)

// Chunk is one numbered slice of a chunked transcript delivery.
type Chunk struct {
	Index    int                `json:"index"`
	Messages []core.ChatMessage `json:"messages"`
}

// Completion closes a chunked delivery.
type Completion struct {
	ChunkCount    int `json:"chunkCount"`
	TotalMessages int `json:"totalMessages"`
}

// FetchProgress mirrors the archived fetcher's progress callback.
type FetchProgress struct {
	FetchedCount    int    `json:"fetchedCount"`
	CurrentOffsetMs int64  `json:"currentOffsetMs"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
}

// Event is one outbound payload. Kind selects which optional fields are
// meaningful; VideoID tags every video-scoped event so receivers can drop
// stale deliveries.
type Event struct {
	Kind     Kind               `json:"kind"`
	VideoID  string             `json:"videoId,omitempty"`
	Loading  *bool              `json:"loading,omitempty"`
	Chunk    *Chunk             `json:"chunk,omitempty"`
	Complete *Completion        `json:"complete,omitempty"`
	Messages []core.ChatMessage `json:"messages,omitempty"`
	Position *float64           `json:"position,omitempty"`
	Message  string             `json:"message,omitempty"`
	Detail   string             `json:"detail,omitempty"`
	Prefs    map[string]string  `json:"prefs,omitempty"`
	State    string             `json:"state,omitempty"`
	Progress *FetchProgress     `json:"progress,omitempty"`
}

// Emitter delivers outbound events. Implementations must not block the
// caller for slow consumers.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// DefaultChunkSize is the number of messages per delivery chunk.
const DefaultChunkSize = 100

// ChunkTranscript slices a transcript into ordered chunk events followed by
// a completion marker. size <= 0 selects DefaultChunkSize. An empty
// transcript still produces the completion marker so the receiver can tell
// "no messages" from "delivery never finished".
func ChunkTranscript(videoID string, msgs []core.ChatMessage, size int) []Event {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out []Event
	index := 0
	for start := 0; start < len(msgs); start += size {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		out = append(out, Event{
			Kind:    KindChunk,
			VideoID: videoID,
			Chunk:   &Chunk{Index: index, Messages: msgs[start:end]},
		})
		index++
	}
	out = append(out, Event{
		Kind:     KindChunkComplete,
		VideoID:  videoID,
		Complete: &Completion{ChunkCount: index, TotalMessages: len(msgs)},
	})
	return out
}
