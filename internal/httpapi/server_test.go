package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
	"github.com/agentworkforce/ledgerbridge/internal/history"
	"github.com/agentworkforce/ledgerbridge/internal/hookqueue"
)

type fakeRunner struct {
	calls  int32
	result engine.SyncResult
	err    error
}

func (r *fakeRunner) RunPass(ctx context.Context) (engine.SyncResult, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.result, r.err
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func mustTestJWT(t *testing.T, secret, subject string, scopes []string, exp time.Time) string {
	return mustTestJWTWithAudience(t, secret, subject, scopes, "ledgerbridge", exp)
}

func mustTestJWTWithAudience(t *testing.T, secret, subject string, scopes []string, aud string, exp time.Time) string {
	t.Helper()
	headerBytes, err := json.Marshal(map[string]any{
		"alg": "HS256",
		"typ": "JWT",
	})
	if err != nil {
		t.Fatalf("marshal jwt header: %v", err)
	}
	payloadBytes, err := json.Marshal(map[string]any{
		"sub":    subject,
		"scopes": scopes,
		"exp":    exp.Unix(),
		"aud":    aud,
	})
	if err != nil {
		t.Fatalf("marshal jwt payload: %v", err)
	}
	h := base64.RawURLEncoding.EncodeToString(headerBytes)
	p := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signingInput := h + "." + p
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func hookSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func hookBody(t *testing.T, eventID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "record.updated",
		"record": map[string]any{
			"storageId": "page_1",
			"itemId":    "TSK-3",
			"title":     "Add saving",
			"status":    "Reported",
			"type":      "task",
			"module":    "App",
		},
	})
	if err != nil {
		t.Fatalf("marshal hook body: %v", err)
	}
	return body
}

func signedHookRequest(t *testing.T, secret, correlationID string, body []byte) request {
	t.Helper()
	timestamp := time.Now().UTC().Format(time.RFC3339)
	return request{
		method: http.MethodPost,
		path:   "/v1/hooks/ledger",
		headers: map[string]string{
			"X-Correlation-Id":   correlationID,
			"X-Ledger-Timestamp": timestamp,
			"X-Ledger-Signature": hookSignature(secret, timestamp, body),
		},
		body: body,
	}
}

func TestHealth(t *testing.T) {
	server := NewServer(ServerOptions{})
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAdminSyncRequiresAuth(t *testing.T) {
	server := NewServer(ServerOptions{Runner: &fakeRunner{}})

	resp := doRequest(t, server, request{method: http.MethodPost, path: "/v1/admin/sync"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	readOnly := mustTestJWT(t, "dev-secret", "ops", []string{"sync:read"}, time.Now().Add(time.Hour))
	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/admin/sync",
		headers: map[string]string{
			"Authorization":    "Bearer " + readOnly,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %d", resp.Code)
	}

	wrongAud := mustTestJWTWithAudience(t, "dev-secret", "ops", []string{"sync:write"}, "other-service", time.Now().Add(time.Hour))
	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/admin/sync",
		headers: map[string]string{
			"Authorization":    "Bearer " + wrongAud,
			"X-Correlation-Id": "corr_2",
		},
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience, got %d", resp.Code)
	}
}

func TestAdminSyncRunsPass(t *testing.T) {
	runner := &fakeRunner{result: engine.SyncResult{Created: 2, Updated: 1}}
	server := NewServer(ServerOptions{Runner: runner})
	token := mustTestJWT(t, "dev-secret", "ops", []string{"sync:write"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/admin/sync",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if atomic.LoadInt32(&runner.calls) != 1 {
		t.Fatalf("expected runner to be invoked once, got %d", runner.calls)
	}
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["created"] != 2 || out["updated"] != 1 {
		t.Fatalf("unexpected counters %v", out)
	}
}

func TestAdminSyncRequiresCorrelationID(t *testing.T) {
	server := NewServer(ServerOptions{Runner: &fakeRunner{}})
	token := mustTestJWT(t, "dev-secret", "ops", []string{"sync:write"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/admin/sync",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without correlation id, got %d", resp.Code)
	}
}

func TestAdminSyncReportsRunnerFailure(t *testing.T) {
	server := NewServer(ServerOptions{Runner: &fakeRunner{err: errors.New("ledger unreachable")}})
	token := mustTestJWT(t, "dev-secret", "ops", []string{"sync:write"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/admin/sync",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for failed pass, got %d", resp.Code)
	}
}

func TestAdminRunsReturnsHistory(t *testing.T) {
	recorder := history.NewMemoryRecorder(10)
	for i := 1; i <= 3; i++ {
		_ = recorder.Append(history.RunRecord{Trigger: "pass", Created: i})
	}
	server := NewServer(ServerOptions{History: recorder})
	token := mustTestJWT(t, "dev-secret", "ops", []string{"sync:read"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/admin/runs?limit=2",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var out struct {
		Runs []history.RunRecord `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Runs) != 2 || out.Runs[0].Created != 3 {
		t.Fatalf("expected newest two runs, got %+v", out.Runs)
	}
}

func TestLedgerHookAcceptsSignedEnvelope(t *testing.T) {
	queue := hookqueue.NewMemoryQueue(10)
	server := NewServer(ServerOptions{Queue: queue})

	resp := doRequest(t, server, signedHookRequest(t, "dev-hook-secret", "corr_1", hookBody(t, "evt_1")))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", resp.Code, resp.Body.String())
	}
	event, ok := queue.Dequeue(context.Background())
	if !ok {
		t.Fatalf("expected event in queue")
	}
	if event.ID != "evt_1" || event.Item.ID != "TSK-3" || event.Item.Module != "App" {
		t.Fatalf("unexpected queued event %+v", event)
	}
}

func TestLedgerHookRejectsBadSignature(t *testing.T) {
	queue := hookqueue.NewMemoryQueue(10)
	server := NewServer(ServerOptions{Queue: queue})

	req := signedHookRequest(t, "wrong-secret", "corr_1", hookBody(t, "evt_1"))
	resp := doRequest(t, server, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.Code)
	}
	if queue.Depth() != 0 {
		t.Fatalf("expected nothing queued")
	}
}

func TestLedgerHookRejectsReplay(t *testing.T) {
	queue := hookqueue.NewMemoryQueue(10)
	server := NewServer(ServerOptions{Queue: queue})

	req := signedHookRequest(t, "dev-hook-secret", "corr_1", hookBody(t, "evt_1"))
	if resp := doRequest(t, server, req); resp.Code != http.StatusAccepted {
		t.Fatalf("expected first delivery to be accepted, got %d", resp.Code)
	}
	if resp := doRequest(t, server, req); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected, got %d", resp.Code)
	}
	if queue.Depth() != 1 {
		t.Fatalf("expected a single queued event, got %d", queue.Depth())
	}
}

func TestLedgerHookRejectsInvalidEnvelope(t *testing.T) {
	queue := hookqueue.NewMemoryQueue(10)
	server := NewServer(ServerOptions{Queue: queue})

	body, _ := json.Marshal(map[string]any{
		"id": "evt_1",
		"record": map[string]any{
			"itemId": "not-canonical",
			"title":  "Add saving",
			"type":   "task",
			"module": "App",
		},
	})
	resp := doRequest(t, server, signedHookRequest(t, "dev-hook-secret", "corr_1", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for schema violation, got %d (%s)", resp.Code, resp.Body.String())
	}
	if queue.Depth() != 0 {
		t.Fatalf("expected nothing queued")
	}
}

func TestLedgerHookQueueFull(t *testing.T) {
	queue := hookqueue.NewMemoryQueue(1)
	server := NewServer(ServerOptions{Queue: queue})

	if resp := doRequest(t, server, signedHookRequest(t, "dev-hook-secret", "corr_1", hookBody(t, "evt_1"))); resp.Code != http.StatusAccepted {
		t.Fatalf("expected first event accepted, got %d", resp.Code)
	}
	resp := doRequest(t, server, signedHookRequest(t, "dev-hook-secret", "corr_2", hookBody(t, "evt_2")))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when queue is full, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestAdminRateLimit(t *testing.T) {
	server := NewServer(ServerOptions{
		History: history.NewMemoryRecorder(10),
		Config:  ServerConfig{RateLimitMax: 1, RateLimitWindow: time.Minute},
	})
	token := mustTestJWT(t, "dev-secret", "ops", []string{"sync:read"}, time.Now().Add(time.Hour))
	headers := map[string]string{
		"Authorization":    "Bearer " + token,
		"X-Correlation-Id": "corr_1",
	}

	if resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/admin/runs", headers: headers}); resp.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", resp.Code)
	}
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/admin/runs", headers: headers})
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
}

func TestDashboardServed(t *testing.T) {
	server := NewServer(ServerOptions{})
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/dashboard"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("LedgerBridge Runs")) {
		t.Fatalf("expected dashboard html")
	}
}

func TestRunStreamDeliversRecords(t *testing.T) {
	stream := NewRunStream()
	server := NewServer(ServerOptions{Stream: stream})
	ts := httptest.NewServer(server)
	defer ts.Close()

	token := mustTestJWT(t, "dev-secret", "ops", []string{"sync:read"}, time.Now().Add(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, ts.URL+"/v1/admin/runs/stream", &websocket.DialOptions{
		HTTPClient: ts.Client(),
		HTTPHeader: header,
	})
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The server registers the subscription after the handshake, so keep
	// publishing until the read observes a record.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				stream.Publish(history.RunRecord{Trigger: "pass", Created: 4})
			}
		}
	}()

	var record history.RunRecord
	if err := wsjson.Read(ctx, conn, &record); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if record.Trigger != "pass" || record.Created != 4 {
		t.Fatalf("unexpected streamed record %+v", record)
	}
}

func TestRunStreamRequiresAuth(t *testing.T) {
	server := NewServer(ServerOptions{Stream: NewRunStream()})
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/admin/runs/stream"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
