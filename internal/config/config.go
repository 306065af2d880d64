// Package config reads the daemon configuration from CHATSYNC_* environment
// variables. All fetch tunables (worker count, margins, chunk size, poll
// timings) are named here instead of being inlined at their use sites.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Bridge BridgeConfig
	Fetch  FetchConfig
	Live   LiveConfig
	Probe  ProbeConfig
	Sink   SinkConfig
	Prefs  PrefsConfig
}

type BridgeConfig struct {
	Addr           string
	RateLimitRPS   int
	RateLimitBurst int
	Origins        []string
	ChunkSize      int
}

type FetchConfig struct {
	Workers            int
	EndMarginMs        int64
	FallbackDurationMs int64
}

type LiveConfig struct {
	FloorMs        int
	RetryBackoffMs int
}

type ProbeConfig struct {
	Enabled bool
	Path    string
	Timeout time.Duration
}

type SinkConfig struct {
	Enabled    bool
	SQLitePath string
}

type PrefsConfig struct {
	Path string
}

const (
	defaultAddr           = "127.0.0.1:8710"
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	defaultChunkSize      = 100
	defaultWorkers        = 10
	defaultEndMarginMs    = 60_000
	defaultFallbackMs     = 2 * 60 * 60 * 1000
	defaultFloorMs        = 1000
	defaultBackoffMs      = 5000
	defaultProbePath      = "yt-dlp"
	defaultProbeTimeout   = 30 * time.Second
	defaultSQLitePath     = "transcripts.db"
	defaultPrefsPath      = "prefs.json"
)

func Load() Config {
	cfg := Config{}

	cfg.Bridge.Addr = readString("CHATSYNC_ADDR", defaultAddr)
	cfg.Bridge.RateLimitRPS = readInt("CHATSYNC_RATE_LIMIT_RPS", defaultRateLimitRPS)
	cfg.Bridge.RateLimitBurst = readInt("CHATSYNC_RATE_LIMIT_BURST", defaultRateLimitBurst)
	cfg.Bridge.Origins = splitList(os.Getenv("CHATSYNC_ORIGINS"))
	cfg.Bridge.ChunkSize = readInt("CHATSYNC_CHUNK_SIZE", defaultChunkSize)

	cfg.Fetch.Workers = readInt("CHATSYNC_FETCH_WORKERS", defaultWorkers)
	cfg.Fetch.EndMarginMs = readInt64("CHATSYNC_FETCH_END_MARGIN_MS", defaultEndMarginMs)
	cfg.Fetch.FallbackDurationMs = readInt64("CHATSYNC_FETCH_FALLBACK_DURATION_MS", defaultFallbackMs)

	cfg.Live.FloorMs = readInt("CHATSYNC_LIVE_FLOOR_MS", defaultFloorMs)
	cfg.Live.RetryBackoffMs = readInt("CHATSYNC_LIVE_RETRY_BACKOFF_MS", defaultBackoffMs)

	cfg.Probe.Enabled = readBool("CHATSYNC_PROBE_ENABLED", true)
	cfg.Probe.Path = readString("CHATSYNC_PROBE_PATH", defaultProbePath)
	cfg.Probe.Timeout = time.Duration(readInt("CHATSYNC_PROBE_TIMEOUT_S", int(defaultProbeTimeout/time.Second))) * time.Second

	cfg.Sink.Enabled = readBool("CHATSYNC_SINK_ENABLED", false)
	cfg.Sink.SQLitePath = readString("CHATSYNC_SINK_SQLITE_PATH", defaultSQLitePath)

	cfg.Prefs.Path = readString("CHATSYNC_PREFS_PATH", defaultPrefsPath)

	return cfg
}

func readString(name, def string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	return raw
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readInt64(name string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Summary is the startup-log view of the configuration. Nothing here is
// secret, but paths are the only environment detail worth echoing.
type Summary struct {
	Addr        string   `json:"addr"`
	ChunkSize   int      `json:"chunk_size"`
	Workers     int      `json:"fetch_workers"`
	EndMarginMs int64    `json:"end_margin_ms"`
	FallbackMs  int64    `json:"fallback_duration_ms"`
	FloorMs     int      `json:"live_floor_ms"`
	BackoffMs   int      `json:"live_backoff_ms"`
	Probe       bool     `json:"probe_enabled"`
	ProbePath   string   `json:"probe_path,omitempty"`
	Sink        bool     `json:"sink_enabled"`
	SinkPath    string   `json:"sink_path,omitempty"`
	PrefsPath   string   `json:"prefs_path"`
	Origins     []string `json:"origins,omitempty"`
}

func (c Config) Summary() Summary {
	s := Summary{
		Addr:        c.Bridge.Addr,
		ChunkSize:   c.Bridge.ChunkSize,
		Workers:     c.Fetch.Workers,
		EndMarginMs: c.Fetch.EndMarginMs,
		FallbackMs:  c.Fetch.FallbackDurationMs,
		FloorMs:     c.Live.FloorMs,
		BackoffMs:   c.Live.RetryBackoffMs,
		Probe:       c.Probe.Enabled,
		Sink:        c.Sink.Enabled,
		PrefsPath:   c.Prefs.Path,
		Origins:     append([]string(nil), c.Bridge.Origins...),
	}
	if c.Probe.Enabled {
		s.ProbePath = c.Probe.Path
	}
	if c.Sink.Enabled {
		s.SinkPath = c.Sink.SQLitePath
	}
	return s
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
