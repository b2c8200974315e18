package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
	"github.com/agentworkforce/ledgerbridge/internal/hookqueue"
)

// hookEnvelopeSchema pins the webhook contract: an event id plus the
// record snapshot the single-record sync needs. Anything else is rejected
// before it reaches the queue.
const hookEnvelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "record"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"type": "string"},
    "record": {
      "type": "object",
      "required": ["itemId", "title", "type", "module"],
      "properties": {
        "storageId": {"type": "string"},
        "itemId": {"type": "string", "pattern": "^[A-Z]+-[0-9]+$"},
        "title": {"type": "string", "minLength": 1},
        "status": {"type": "string"},
        "type": {"type": "string", "minLength": 1},
        "module": {"type": "string", "minLength": 1},
        "branchUrl": {"type": "string"}
      },
      "additionalProperties": false
    },
    "knownBranchUrl": {"type": "string"}
  },
  "additionalProperties": false
}`

var compiledHookSchema = mustCompileHookSchema()

func mustCompileHookSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(hookEnvelopeSchema))
	if err != nil {
		panic(fmt.Sprintf("httpapi: hook schema is not valid JSON: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("hook-envelope.json", doc); err != nil {
		panic(fmt.Sprintf("httpapi: register hook schema: %v", err))
	}
	schema, err := compiler.Compile("hook-envelope.json")
	if err != nil {
		panic(fmt.Sprintf("httpapi: compile hook schema: %v", err))
	}
	return schema
}

type hookEnvelope struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Record struct {
		StorageID string `json:"storageId"`
		ItemID    string `json:"itemId"`
		Title     string `json:"title"`
		Status    string `json:"status"`
		Type      string `json:"type"`
		Module    string `json:"module"`
		BranchURL string `json:"branchUrl"`
	} `json:"record"`
	KnownBranchURL string `json:"knownBranchUrl"`
}

func (s *Server) handleLedgerHook(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	now := time.Now().UTC()
	timestamp := r.Header.Get("X-Ledger-Timestamp")
	signature := r.Header.Get("X-Ledger-Signature")
	if authErr := verifyHookHMAC(s.cfg.HookHMACSecret, timestamp, signature, body, now, s.cfg.HookMaxSkew); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if !s.markHookReplaySeen(timestamp, signature, now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "hook request replay detected", correlationID)
		return
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	if err := compiledHookSchema.Validate(doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_envelope", err.Error(), correlationID)
		return
	}

	var envelope hookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	event := hookqueue.HookEvent{
		ID:         envelope.ID,
		ReceivedAt: now,
		Item: engine.WorkItem{
			StorageID: envelope.Record.StorageID,
			ID:        envelope.Record.ItemID,
			Title:     envelope.Record.Title,
			Status:    envelope.Record.Status,
			Type:      envelope.Record.Type,
			Module:    envelope.Record.Module,
			BranchURL: envelope.Record.BranchURL,
		},
		KnownBranchURL: envelope.KnownBranchURL,
	}
	if s.queue == nil || !s.queue.TryEnqueue(event) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "queue_full", "hook queue is full", correlationID)
		return
	}
	s.logf("queued hook event %s for %s", event.ID, event.Item.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     event.ID,
		"status": "queued",
		"depth":  s.queue.Depth(),
	})
}
