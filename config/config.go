package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Precheck PrecheckConfig
	Scan     ScanConfig
	Cache    CacheConfig
	Log      LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port        int           // default: 3000
	Concurrency int           // default: 3 — max parallel browser scans
	HardTimeout time.Duration // default: 70s — whole-request deadline
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	Headless   bool   // default: true
	NoSandbox  bool   // default: true — containerised default
	BrowserBin string // overrides the Chromium binary path; empty means auto-download
}

// PrecheckConfig controls the C3 HTTP pre-checker.
type PrecheckConfig struct {
	MaxRedirects int           // default: 15
	Timeout      time.Duration // default: 8s — per-hop HTTP client timeout
}

// ScanConfig controls the C5/C6 browser-driven scan.
type ScanConfig struct {
	MaxRedirectSteps int           // default: 20 — document redirect cap shared by C5 and C6
	NavTimeout       time.Duration // default: 30s — navigation + settle wall clock
	QuietWindow      time.Duration // default: 650ms — network-idle dwell before declaring settle
	MaxDomains       int           // default: 5000 — seen-host cap
	MaxRedirectLog   int           // default: 50 — redirect-chain cap
}

// CacheConfig controls the persistent domain cache (C2).
type CacheConfig struct {
	TTL  time.Duration // default: 6h
	Path string        // default: "./cache.db"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        envIntOr("PORT", 3000),
			Concurrency: envIntOr("CONCURRENCY", 3),
			HardTimeout: envDurationMsOr("HARD_TIMEOUT_MS", 70*time.Second),
		},
		Browser: BrowserConfig{
			Headless:   true,
			NoSandbox:  envBoolOr("NO_SANDBOX", true),
			BrowserBin: os.Getenv("CHROMIUM_PATH"),
		},
		Precheck: PrecheckConfig{
			MaxRedirects: envIntOr("PRECHECK_MAX_REDIRECTS", 15),
			Timeout:      envDurationMsOr("PRECHECK_TIMEOUT_MS", 8*time.Second),
		},
		Scan: ScanConfig{
			MaxRedirectSteps: envIntOr("MAX_REDIRECT_STEPS", 20),
			NavTimeout:       envDurationMsOr("NAV_TIMEOUT_MS", 30*time.Second),
			QuietWindow:      envDurationMsOr("QUIET_WINDOW_MS", 650*time.Millisecond),
			MaxDomains:       envIntOr("MAX_DOMAINS", 5000),
			MaxRedirectLog:   envIntOr("MAX_REDIRECT_LOG", 50),
		},
		Cache: CacheConfig{
			TTL:  envDurationSecOr("CACHE_TTL_SECONDS", 6*time.Hour),
			Path: envOr("SQLITE_PATH", "./cache.db"),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDurationMsOr reads an integer count of milliseconds, matching this
// service's *_MS environment variable convention.
func envDurationMsOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// envDurationSecOr reads an integer count of seconds.
func envDurationSecOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return fallback
}
