// Package history records completed reconciliation passes. Storage is
// pluggable: an in-memory ring by default, a JSON file, or Postgres,
// selected by DSN scheme.
package history

import (
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

// RunFailure captures one failed operation of a pass.
type RunFailure struct {
	Action string `json:"action"`
	ItemID string `json:"itemId,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error"`
}

// RunRecord is the durable summary of one reconciliation run.
type RunRecord struct {
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Created    int          `json:"created"`
	Updated    int          `json:"updated"`
	Deleted    int          `json:"deleted"`
	Failed     int          `json:"failed"`
	Failures   []RunFailure `json:"failures,omitempty"`
}

// Recorder persists run records and serves them back newest-first.
type Recorder interface {
	Append(record RunRecord) error
	Recent(limit int) ([]RunRecord, error)
	Close() error
}

// FromResult summarizes a sync result into a record.
func FromResult(trigger string, started time.Time, result engine.SyncResult) RunRecord {
	record := RunRecord{
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Created:    result.Created,
		Updated:    result.Updated,
		Deleted:    result.Deleted,
		Failed:     result.Failed,
	}
	for _, outcome := range result.Outcomes {
		if outcome.Outcome != engine.OutcomeFailure {
			continue
		}
		failure := RunFailure{
			Action: string(outcome.Operation.Action),
			Reason: outcome.Operation.Reason,
			Error:  outcome.Err,
		}
		if outcome.Operation.Item != nil {
			failure.ItemID = outcome.Operation.Item.ID
		}
		record.Failures = append(record.Failures, failure)
	}
	return record
}
