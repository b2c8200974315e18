package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/config"
	"github.com/agentworkforce/ledgerbridge/internal/engine"
	"github.com/agentworkforce/ledgerbridge/internal/history"
	"github.com/agentworkforce/ledgerbridge/internal/hookqueue"
	"github.com/agentworkforce/ledgerbridge/internal/httpapi"
	"github.com/agentworkforce/ledgerbridge/internal/ledger"
	"github.com/agentworkforce/ledgerbridge/internal/tracker"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	addr := os.Getenv("LEDGERBRIDGE_HOOK_ADDR")
	if addr == "" {
		addr = ":8081"
	}
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

	queue, err := hookqueue.BuildQueueFromDSN(os.Getenv("LEDGERBRIDGE_QUEUE_DSN"), intEnv("LEDGERBRIDGE_QUEUE_CAPACITY", 0))
	if err != nil {
		log.Fatalf("failed to initialize hook queue: %v", err)
	}
	defer queue.Close()

	stream := httpapi.NewRunStream()
	service := &syncService{
		watcher:  watcher,
		recorder: recorder,
		stream:   stream,
		logger:   logger,
	}

	server := httpapi.NewServer(httpapi.ServerOptions{
		Runner:  service,
		Queue:   queue,
		History: recorder,
		Stream:  stream,
		Logger:  logger,
		Config: httpapi.ServerConfig{
			JWTSecret:       os.Getenv("LEDGERBRIDGE_JWT_SECRET"),
			HookHMACSecret:  os.Getenv("LEDGERBRIDGE_HOOK_HMAC_SECRET"),
			HookMaxSkew:     durationEnv("LEDGERBRIDGE_HOOK_MAX_SKEW", 5*time.Minute),
			RateLimitMax:    intEnv("LEDGERBRIDGE_RATE_LIMIT_MAX", 0),
			RateLimitWindow: durationEnv("LEDGERBRIDGE_RATE_LIMIT_WINDOW", time.Minute),
			MaxBodyBytes:    int64Env("LEDGERBRIDGE_MAX_BODY_BYTES", 0),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := hookqueue.NewWorker(queue, service.handleHookEvent, logger)
	go worker.Run(ctx)

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("ledgerbridge hook listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

// syncService builds a fresh runner per invocation so the current config is
// always in effect, and fans completed runs out to the history store and the
// websocket stream.
type syncService struct {
	watcher  *config.Watcher
	recorder history.Recorder
	stream   *httpapi.RunStream
	logger   engine.Logger
}

func (s *syncService) RunPass(ctx context.Context) (engine.SyncResult, error) {
	runner, err := s.runner()
	if err != nil {
		return engine.SyncResult{}, err
	}
	return runner.RunPass(ctx)
}

func (s *syncService) handleHookEvent(ctx context.Context, event hookqueue.HookEvent) error {
	runner, err := s.runner()
	if err != nil {
		return err
	}
	_, err = runner.RunRecord(ctx, event.Item, event.KnownBranchURL)
	return err
}

func (s *syncService) runner() (*engine.Runner, error) {
	cfg := s.watcher.Current()
	ledgerClient := ledger.NewClient(ledger.ClientOptions{
		BaseURL:       os.Getenv("LEDGERBRIDGE_LEDGER_BASE_URL"),
		DatabaseID:    cfg.LedgerDatabaseID,
		TokenProvider: ledger.StaticToken(os.Getenv("LEDGERBRIDGE_LEDGER_TOKEN")),
		MaxRetries:    intEnv("LEDGERBRIDGE_LEDGER_MAX_RETRIES", 0),
		Logger:        s.logger,
	})
	trackerClient := tracker.NewClient(tracker.ClientOptions{
		BaseURL:    os.Getenv("LEDGERBRIDGE_TRACKER_BASE_URL"),
		WebBaseURL: os.Getenv("LEDGERBRIDGE_TRACKER_WEB_BASE_URL"),
		Token:      os.Getenv("LEDGERBRIDGE_TRACKER_TOKEN"),
		SyncLabel:  cfg.SyncLabel,
		MaxRetries: intEnv("LEDGERBRIDGE_TRACKER_MAX_RETRIES", 0),
		Logger:     s.logger,
	})
	return engine.NewRunner(engine.RunnerOptions{
		Ledger:  ledgerClient,
		Tracker: trackerClient,
		Routing: cfg.Routing(),
		Logger:  s.logger,
		OnResult: func(trigger string, started time.Time, result engine.SyncResult) {
			record := history.FromResult(trigger, started, result)
			if err := s.recorder.Append(record); err != nil {
				s.logger.Printf("failed to record run: %v", err)
			}
			s.stream.Publish(record)
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

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
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
