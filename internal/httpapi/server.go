// Package httpapi exposes the reconciler over HTTP: a signed webhook
// ingress for Ledger record events and a small authenticated admin surface
// for triggering passes and reading run history.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
	"github.com/agentworkforce/ledgerbridge/internal/history"
	"github.com/agentworkforce/ledgerbridge/internal/hookqueue"
)

// SyncRunner is the part of the engine the admin surface drives.
type SyncRunner interface {
	RunPass(ctx context.Context) (engine.SyncResult, error)
}

type ServerConfig struct {
	JWTSecret       string
	HookHMACSecret  string
	HookMaxSkew     time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type ServerOptions struct {
	Runner  SyncRunner
	Queue   hookqueue.Queue
	History history.Recorder
	Stream  *RunStream
	Logger  engine.Logger
	Config  ServerConfig
}

type Server struct {
	runner  SyncRunner
	queue   hookqueue.Queue
	history history.Recorder
	stream  *RunStream
	logger  engine.Logger
	cfg     ServerConfig

	rateLimiter    *rateLimiter
	hookReplayMu   sync.Mutex
	hookReplaySeen map[string]time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.HookHMACSecret == "" {
		cfg.HookHMACSecret = "dev-hook-secret"
	}
	if cfg.HookMaxSkew == 0 {
		cfg.HookMaxSkew = 5 * time.Minute
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		runner:         opts.Runner,
		queue:          opts.Queue,
		history:        opts.History,
		stream:         opts.Stream,
		logger:         opts.Logger,
		cfg:            cfg,
		rateLimiter:    limiter,
		hookReplaySeen: map[string]time.Time{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/dashboard" && r.Method == http.MethodGet:
		s.handleDashboard(w, r)
	case r.URL.Path == "/v1/hooks/ledger" && r.Method == http.MethodPost:
		s.handleLedgerHook(w, r)
	case r.URL.Path == "/v1/admin/sync" && r.Method == http.MethodPost:
		s.handleAdminSync(w, r)
	case r.URL.Path == "/v1/admin/runs" && r.Method == http.MethodGet:
		s.handleAdminRuns(w, r)
	case r.URL.Path == "/v1/admin/runs/stream" && r.Method == http.MethodGet:
		s.handleRunStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

// authorizeAdmin runs the shared admin checks: bearer token with the
// required scope, a correlation id, and the per-subject rate limit.
func (s *Server) authorizeAdmin(w http.ResponseWriter, r *http.Request, requiredScope string) (string, bool) {
	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return "", false
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return "", false
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.Subject, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return "", false
		}
	}
	return correlationID, true
}

func (s *Server) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	correlationID, ok := s.authorizeAdmin(w, r, "sync:write")
	if !ok {
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "sync runner is not configured", correlationID)
		return
	}
	result, err := s.runner.RunPass(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created": result.Created,
		"updated": result.Updated,
		"deleted": result.Deleted,
		"failed":  result.Failed,
	})
}

func (s *Server) handleAdminRuns(w http.ResponseWriter, r *http.Request) {
	correlationID, ok := s.authorizeAdmin(w, r, "sync:read")
	if !ok {
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []history.RunRecord{}})
		return
	}
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 50, 1, 500)
	runs, err := s.history.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	if runs == nil {
		runs = []history.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) markHookReplaySeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	window := s.cfg.HookMaxSkew
	if window <= 0 {
		window = 5 * time.Minute
	}
	s.hookReplayMu.Lock()
	defer s.hookReplayMu.Unlock()
	for replayKey, expiresAt := range s.hookReplaySeen {
		if !now.Before(expiresAt) {
			delete(s.hookReplaySeen, replayKey)
		}
	}
	if expiresAt, exists := s.hookReplaySeen[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.hookReplaySeen[key] = now.Add(window)
	return true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}

func (s *Server) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
