// Package bridge is the host-facing transport: a local HTTP server exposing
// the engine's event stream over a WebSocket plus health and metrics
// endpoints. The presentation layer connects to /events, sends load/ready/
// retry/position commands as JSON, and receives the outbound event payloads.
package bridge

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/chatsync/internal/events"
	"github.com/you/chatsync/internal/prefs"
)

// Engine is the command surface the bridge drives. Implemented by the
// orchestrator Controller.
type Engine interface {
	LoadVideo(ctx context.Context, rawURL string)
	Ready()
	Retry(ctx context.Context)
	Position(seconds float64)
}

// Command is one inbound client message.
type Command struct {
	Type     string  `json:"type"`
	URL      string  `json:"url,omitempty"`
	Position float64 `json:"position,omitempty"`
	Key      string  `json:"key,omitempty"`
	Value    string  `json:"value,omitempty"`
}

// Options configures a Server.
type Options struct {
	Addr string
	// RateLimitRPS/Burst bound per-IP request admission; zero disables.
	RateLimitRPS   int
	RateLimitBurst int
	// OriginPatterns allows WebSocket upgrades from matching origins.
	// Empty means same-origin only.
	OriginPatterns []string
}

// Server broadcasts engine events to connected WebSocket clients and feeds
// their commands back to the engine. It implements events.Emitter.
type Server struct {
	httpServer *http.Server
	engine     Engine
	prefs      *prefs.Store
	metrics    *Metrics
	limiter    *ipRateLimiter
	origins    []string

	mu      sync.Mutex
	clients map[chan events.Event]struct{}
	closed  bool
}

func New(engine Engine, store *prefs.Store, opts Options) *Server {
	srv := &Server{
		engine:  engine,
		prefs:   store,
		metrics: newMetrics(),
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		origins: opts.OriginPatterns,
		clients: make(map[chan events.Event]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.instrument("/healthz", srv.handleHealthz))
	mux.HandleFunc("/events", srv.instrument("/events", srv.handleEvents))
	mux.Handle("/metrics", srv.metrics.Handler())

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// SetEngine binds the command surface. Call before Start; the engine and the
// server reference each other, so one of them is constructed first and bound
// late.
func (s *Server) SetEngine(engine Engine) {
	s.engine = engine
}

// instrument wraps a handler with rate limiting, status recording and the
// request metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		rec := newResponseRecorder(w)
		start := time.Now()
		next(rec, r)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Printf("bridge: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	clientCh := make(chan events.Event, 256)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	s.clients[clientCh] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncWSClients(1)

	defer func() {
		s.mu.Lock()
		delete(s.clients, clientCh)
		s.mu.Unlock()
		s.metrics.IncWSClients(-1)
	}()

	ctx := r.Context()

	// Writer: one goroutine owns all writes to the connection.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-clientCh:
				if !ok {
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				err := wsjson.Write(writeCtx, conn, ev)
				cancel()
				if err != nil {
					return
				}
				s.metrics.IncEventsSent(string(ev.Kind))
			}
		}
	}()

	// Reader: commands from the presentation layer.
	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				log.Printf("bridge: websocket read: %v", err)
			}
			break
		}
		s.dispatch(ctx, cmd)
	}

	<-writeDone
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) dispatch(ctx context.Context, cmd Command) {
	if s.engine == nil {
		s.metrics.IncCommandErrors()
		return
	}
	switch cmd.Type {
	case "load":
		s.engine.LoadVideo(ctx, cmd.URL)
	case "ready":
		s.engine.Ready()
		s.emitPrefs()
	case "retry":
		s.engine.Retry(ctx)
	case "position":
		s.engine.Position(cmd.Position)
	case "setPref":
		if s.prefs == nil || cmd.Key == "" {
			s.metrics.IncCommandErrors()
			return
		}
		if err := s.prefs.Set(cmd.Key, cmd.Value); err != nil {
			log.Printf("bridge: pref write failed: %v", err)
			return
		}
		s.emitPrefs()
	default:
		s.metrics.IncCommandErrors()
		log.Printf("bridge: unknown command %q", cmd.Type)
	}
}

func (s *Server) emitPrefs() {
	if s.prefs == nil {
		return
	}
	s.Emit(events.Event{Kind: events.KindPrefs, Prefs: s.prefs.Snapshot()})
}

// Emit broadcasts an event to every connected client. Slow clients drop
// events rather than blocking the engine. After Shutdown the client channels
// are closed but may still be registered (handlers unwind asynchronously), so
// late events from a winding-down fetch are discarded instead of sent.
func (s *Server) Emit(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for ch := range s.clients {
		select {
		case ch <- ev:
		default:
			s.metrics.IncBroadcastDrops()
		}
	}
}

func (s *Server) Start() error {
	log.Printf("bridge listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
