package httpapi

import (
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/ledgerbridge/internal/history"
)

// RunStream fans completed run records out to websocket subscribers. A
// subscriber that cannot keep up loses records rather than blocking the
// engine; the run history endpoint is the lossless record.
type RunStream struct {
	mu   sync.Mutex
	next int
	subs map[int]chan history.RunRecord
}

func NewRunStream() *RunStream {
	return &RunStream{subs: map[int]chan history.RunRecord{}}
}

// Publish delivers the record to every subscriber without blocking.
func (s *RunStream) Publish(record history.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- record:
		default:
		}
	}
}

func (s *RunStream) subscribe() (<-chan history.RunRecord, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan history.RunRecord, 16)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, "sync:read", time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "run stream is not configured", getCorrelationID(r))
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	records, cancel := s.stream.subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case record := <-records:
			if err := wsjson.Write(ctx, conn, record); err != nil {
				return
			}
		}
	}
}
