// Listing Watch Engine
//
// Standalone binary that polls registered listing sources, detects changes
// against the durable store, and dispatches change events to subscribers.
// The admin surface (target/subscriber CRUD, forced poll/reconcile, status)
// is exposed only as the engine.Engine Go API; wrapping it in HTTP is left
// to an external process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tunahanbr/willhaben/internal/common/lifecycle"
	"github.com/tunahanbr/willhaben/internal/config"
	"github.com/tunahanbr/willhaben/internal/engine"
	"github.com/tunahanbr/willhaben/internal/fetch/htmlfetcher"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.DevMode, cfg.LogLevel)

	slog.Info("starting listing watch engine", "version", version, "build_time", buildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := htmlfetcher.New(&http.Client{Timeout: cfg.Scheduler.RequestTimeout}, loadSelectors(), 20)

	eng, err := engine.New(ctx, cfg, fetcher)
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}

	slog.Info("engine initialized, handing off to supervisor")
	if err := lifecycle.Run(ctx, eng.Services()...); err != nil {
		slog.Error("engine stopped with error", "error", err)
		_ = eng.Close(context.Background())
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Close(shutdownCtx); err != nil {
		slog.Error("error releasing engine resources", "error", err)
	}

	slog.Info("listing watch engine stopped")
}

// loadSelectors returns the per-domain CSS selector sets the HTML fetcher
// needs. Source sites are registered here rather than through a config file
// because the set of supported domains changes with code, not deployment.
func loadSelectors() map[string]htmlfetcher.Selectors {
	return map[string]htmlfetcher.Selectors{
		"example.marketplace": {
			ListingItem: "[data-testid='listing-card']",
			ID:          "data-id",
			Title:       "[data-testid='listing-title']",
			Price:       "[data-testid='listing-price']",
			Condition:   "[data-testid='listing-condition']",
			Location:    "[data-testid='listing-location']",
			URL:         "a[data-testid='listing-link']",
			Image:       "img[data-testid='listing-image']",
			NextPage:    "a[rel='next']",
		},
	}
}

func setupLogging(devMode bool, level string) {
	logLevel := slog.LevelInfo
	if devMode {
		logLevel = slog.LevelDebug
	}
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		// ignore: keep the dev-mode default above on an unrecognized LOG_LEVEL
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
