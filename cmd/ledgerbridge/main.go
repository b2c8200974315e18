package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/config"
	"github.com/agentworkforce/ledgerbridge/internal/engine"
	"github.com/agentworkforce/ledgerbridge/internal/history"
	"github.com/agentworkforce/ledgerbridge/internal/ledger"
	"github.com/agentworkforce/ledgerbridge/internal/tracker"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	configPath := os.Getenv("LEDGERBRIDGE_CONFIG")
	if configPath == "" {
		configPath = "ledgerbridge.json"
	}
	watcher, err := config.Watch(configPath, logger, nil)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", configPath, err)
	}
	defer watcher.Close()

	recorder, err := history.BuildRecorderFromDSN(os.Getenv("LEDGERBRIDGE_HISTORY_DSN"))
	if err != nil {
		log.Fatalf("failed to initialize run history: %v", err)
	}
	defer recorder.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The runner is rebuilt per pass so config edits (new module mappings,
	// a different database) take effect without a restart.
	runPass := func() {
		runner, err := buildRunner(watcher.Current(), recorder, logger)
		if err != nil {
			logger.Printf("skipping pass: %v", err)
			return
		}
		if _, err := runner.RunPass(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("pass failed: %v", err)
		}
	}

	runPass()
	if os.Getenv("LEDGERBRIDGE_ONCE") == "1" {
		return
	}

	interval := durationEnv("LEDGERBRIDGE_INTERVAL", 5*time.Minute)
	logger.Printf("ledgerbridge running every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runPass()
		}
	}
}

func buildRunner(cfg config.Config, recorder history.Recorder, logger engine.Logger) (*engine.Runner, error) {
	ledgerClient := ledger.NewClient(ledger.ClientOptions{
		BaseURL:       os.Getenv("LEDGERBRIDGE_LEDGER_BASE_URL"),
		DatabaseID:    cfg.LedgerDatabaseID,
		TokenProvider: ledger.StaticToken(os.Getenv("LEDGERBRIDGE_LEDGER_TOKEN")),
		MaxRetries:    intEnv("LEDGERBRIDGE_LEDGER_MAX_RETRIES", 0),
		Logger:        logger,
	})
	trackerClient := tracker.NewClient(tracker.ClientOptions{
		BaseURL:    os.Getenv("LEDGERBRIDGE_TRACKER_BASE_URL"),
		WebBaseURL: os.Getenv("LEDGERBRIDGE_TRACKER_WEB_BASE_URL"),
		Token:      os.Getenv("LEDGERBRIDGE_TRACKER_TOKEN"),
		SyncLabel:  cfg.SyncLabel,
		MaxRetries: intEnv("LEDGERBRIDGE_TRACKER_MAX_RETRIES", 0),
		Logger:     logger,
	})
	return engine.NewRunner(engine.RunnerOptions{
		Ledger:  ledgerClient,
		Tracker: trackerClient,
		Routing: cfg.Routing(),
		Logger:  logger,
		OnResult: func(trigger string, started time.Time, result engine.SyncResult) {
			if err := recorder.Append(history.FromResult(trigger, started, result)); err != nil {
				logger.Printf("failed to record run: %v", err)
			}
		},
	})
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
