package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/domainrecon/api"
	"github.com/use-agent/domainrecon/browser"
	"github.com/use-agent/domainrecon/cache"
	"github.com/use-agent/domainrecon/config"
	"github.com/use-agent/domainrecon/orchestrator"
	"github.com/use-agent/domainrecon/precheck"
	"github.com/use-agent/domainrecon/scan"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("domainrecon starting",
		"port", cfg.Server.Port,
		"concurrency", cfg.Server.Concurrency,
		"cachePath", cfg.Cache.Path,
	)

	// ── 3. Initialise the domain cache ──────────────────────────────
	domainCache, err := cache.Open(cfg.Cache.Path, cfg.Cache.TTL)
	if err != nil {
		slog.Error("failed to open domain cache", "error", err)
		os.Exit(1)
	}
	defer domainCache.Close()

	// ── 4. Initialise the browser pool (lazy — no process launched yet) ──
	browserPool := browser.New(cfg.Browser)
	defer browserPool.Shutdown()

	// ── 5. Wire the pre-checker, scan engine, and orchestrator ──────
	checker := precheck.New(cfg.Precheck)
	engine := scan.New(browserPool, cfg.Scan)
	orch := orchestrator.New(domainCache, checker, engine, *cfg)

	// ── 6. Start the HTTP server ─────────────────────────────────────
	router := api.NewRouter(orch)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ──────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// browserPool.Shutdown() and domainCache.Close() run via defer.
	slog.Info("domainrecon stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
