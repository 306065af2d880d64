package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/chatsync/internal/bridge"
	"github.com/you/chatsync/internal/config"
	"github.com/you/chatsync/internal/events"
	"github.com/you/chatsync/internal/innertube"
	"github.com/you/chatsync/internal/livechat"
	"github.com/you/chatsync/internal/orchestrator"
	"github.com/you/chatsync/internal/prefs"
	"github.com/you/chatsync/internal/probe"
	"github.com/you/chatsync/internal/replay"
	"github.com/you/chatsync/internal/sink"
	"github.com/you/chatsync/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// A local .env is a development convenience; absence is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv load", "err", err)
	}

	var (
		versionFlag bool
		addr        string
		origins     string
		sinkPath    string
		prefsPath   string
		probePath   string
		noProbe     bool
		loadURL     string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&addr, "addr", "", "Bridge listen address (e.g., 127.0.0.1:8710)")
	flag.StringVar(&origins, "origins", "", "Comma-separated list of allowed WebSocket origins")
	flag.StringVar(&sinkPath, "sink-sqlite", "", "Path to SQLite transcript export database (enables the sink)")
	flag.StringVar(&prefsPath, "prefs", "", "Path to the preferences JSON file")
	flag.StringVar(&probePath, "probe-path", "", "Path to the yt-dlp executable")
	flag.BoolVar(&noProbe, "no-probe", false, "Skip the external availability probe")
	flag.StringVar(&loadURL, "load", "", "Video URL to load immediately on startup")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"chatsyncd version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["addr"] {
		cfg.Bridge.Addr = strings.TrimSpace(addr)
	}
	if overrides["origins"] {
		cfg.Bridge.Origins = nil
		for _, origin := range strings.Split(origins, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				cfg.Bridge.Origins = append(cfg.Bridge.Origins, o)
			}
		}
	}
	if overrides["sink-sqlite"] {
		cfg.Sink.SQLitePath = strings.TrimSpace(sinkPath)
		cfg.Sink.Enabled = cfg.Sink.SQLitePath != ""
	}
	if overrides["prefs"] {
		cfg.Prefs.Path = strings.TrimSpace(prefsPath)
	}
	if overrides["probe-path"] {
		cfg.Probe.Path = strings.TrimSpace(probePath)
	}
	if overrides["no-probe"] {
		cfg.Probe.Enabled = !noProbe
	}

	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("chatsyncd: received %s, shutting down", sig)
		cancel()
	}()

	client := innertube.New(innertube.Options{})
	fetcher := replay.NewFetcher(client, replay.Config{
		Workers:            cfg.Fetch.Workers,
		EndMarginMs:        cfg.Fetch.EndMarginMs,
		FallbackDurationMs: cfg.Fetch.FallbackDurationMs,
	})
	runner := livechat.NewRunner(client, livechat.Config{
		FloorMs:        cfg.Live.FloorMs,
		RetryBackoffMs: cfg.Live.RetryBackoffMs,
	})

	var prober probe.Prober
	if cfg.Probe.Enabled {
		prober = &probe.YTDLP{Path: cfg.Probe.Path, Timeout: cfg.Probe.Timeout}
	}

	var transcriptSink orchestrator.TranscriptSink
	if cfg.Sink.Enabled {
		db, err := sink.OpenSQLite(cfg.Sink.SQLitePath)
		if err != nil {
			log.Fatalf("chatsyncd: open sink: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("chatsyncd: closing sink: %v", err)
			}
		}()
		transcriptSink = db
	}

	store, err := prefs.Open(cfg.Prefs.Path)
	if err != nil {
		log.Fatalf("chatsyncd: open prefs: %v", err)
	}

	server := bridge.New(nil, store, bridge.Options{
		Addr:           cfg.Bridge.Addr,
		RateLimitRPS:   cfg.Bridge.RateLimitRPS,
		RateLimitBurst: cfg.Bridge.RateLimitBurst,
		OriginPatterns: cfg.Bridge.Origins,
	})
	controller := orchestrator.New(orchestrator.Deps{
		Bootstrapper: client,
		Archived:     fetcher,
		Live:         runner,
		Prober:       prober,
		Sink:         transcriptSink,
		WatchURL:     client.WatchURL,
		ChunkSize:    cfg.Bridge.ChunkSize,
		Emitter:      server,
		BaseContext:  ctx,
	})
	server.SetEngine(controller)

	watcher, err := store.Watch(func(snapshot map[string]string) {
		server.Emit(events.Event{Kind: events.KindPrefs, Prefs: snapshot})
	})
	if err != nil {
		log.Printf("chatsyncd: prefs watch unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("chatsyncd: bridge: %v", err)
		}
	}()

	if loadURL != "" {
		controller.LoadVideo(ctx, loadURL)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("chatsyncd: bridge shutdown: %v", err)
	}
	log.Printf("chatsyncd: bye")
}
