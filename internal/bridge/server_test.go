package bridge

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/chatsync/internal/events"
	"github.com/you/chatsync/internal/prefs"
)

type fakeEngine struct {
	mu       sync.Mutex
	loads    []string
	readies  int
	retries  int
	position float64
}

func (e *fakeEngine) LoadVideo(_ context.Context, rawURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, rawURL)
}

func (e *fakeEngine) Ready() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readies++
}

func (e *fakeEngine) Retry(_ context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries++
}

func (e *fakeEngine) Position(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = seconds
}

func testServer(t *testing.T) (*Server, *fakeEngine, string) {
	t.Helper()
	store, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.json"))
	if err != nil {
		t.Fatalf("prefs: %v", err)
	}
	engine := &fakeEngine{}
	srv := New(engine, store, Options{OriginPatterns: []string{"*"}})
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, engine, ts.URL
}

func TestEventRoundTrip(t *testing.T) {
	srv, engine, base := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Commands reach the engine.
	if err := wsjson.Write(ctx, conn, Command{Type: "load", URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	waitUntil(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.loads) == 1
	})

	// Broadcasts reach the client.
	srv.Emit(events.Event{Kind: events.KindInfo, Message: "hello"})
	var got events.Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Kind != events.KindInfo || got.Message != "hello" {
		t.Fatalf("event = %+v", got)
	}
}

func TestReadyEmitsPrefsSnapshot(t *testing.T) {
	srv, engine, base := testServer(t)
	if err := srv.prefs.Set("theme", "dark"); err != nil {
		t.Fatalf("set pref: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, Command{Type: "ready"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	var got events.Event
	for {
		if err := wsjson.Read(ctx, conn, &got); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if got.Kind == events.KindPrefs {
			break
		}
	}
	if got.Prefs["theme"] != "dark" {
		t.Fatalf("prefs snapshot = %+v", got.Prefs)
	}
	engine.mu.Lock()
	readies := engine.readies
	engine.mu.Unlock()
	if readies != 1 {
		t.Fatalf("readies = %d, want 1", readies)
	}
}

func TestDispatch(t *testing.T) {
	srv, engine, _ := testServer(t)
	ctx := context.Background()

	srv.dispatch(ctx, Command{Type: "retry"})
	srv.dispatch(ctx, Command{Type: "position", Position: 12.5})
	srv.dispatch(ctx, Command{Type: "bogus"})

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.retries != 1 {
		t.Fatalf("retries = %d", engine.retries)
	}
	if engine.position != 12.5 {
		t.Fatalf("position = %v", engine.position)
	}
}

func TestEmitDropsForSlowClients(t *testing.T) {
	srv, _, _ := testServer(t)

	// A registered client that never drains fills its buffer; further emits
	// must not block.
	ch := make(chan events.Event, 1)
	srv.mu.Lock()
	srv.clients[ch] = struct{}{}
	srv.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			srv.Emit(events.Event{Kind: events.KindInfo})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Emit blocked on a slow client")
	}
}

// Shutdown closes the client channels before the per-connection handlers
// have unwound and deregistered themselves; an event emitted in that window
// (a cancelled fetch reporting its final error, say) must be dropped, not
// sent on a closed channel.
func TestEmitAfterShutdownIsDiscarded(t *testing.T) {
	srv, _, base := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitUntil(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.clients) == 1
	})

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	srv.mu.Lock()
	registered := len(srv.clients)
	srv.mu.Unlock()
	if registered != 1 {
		t.Fatalf("client deregistered before handler unwound: %d", registered)
	}

	srv.Emit(events.Event{Kind: events.KindError, Message: "late"})
	srv.Emit(events.Event{Kind: events.KindInfo, Message: "later"})
}

func TestIPRateLimiter(t *testing.T) {
	l := newIPRateLimiter(1, 2)
	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatalf("burst requests rejected")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("request beyond burst allowed")
	}
	// Other clients have their own budget.
	if !l.Allow("10.0.0.2") {
		t.Fatalf("second client rejected")
	}

	var disabled *ipRateLimiter
	if !disabled.Allow("anyone") {
		t.Fatalf("nil limiter must allow everything")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
