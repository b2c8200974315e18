package engine

import (
	"fmt"
	"strings"
	"time"
)

// PlanRecord is the single-record variant used by webhook-style triggers.
// Given one work item and its currently-known branch URL in the Tracker
// (empty when no branch exists yet), it produces at most a branch-creation
// plus a Ledger branch-link update. It reuses the batch planner's
// comparison primitives but never consults a full snapshot.
func (p *Planner) PlanRecord(item WorkItem, knownBranchURL string) []SyncOperation {
	if missing := missingRequiredFields(item); len(missing) > 0 {
		p.logf("skipping work item %q: missing %s; it cannot be routed or titled safely", item.ID, strings.Join(missing, ", "))
		return nil
	}
	now := time.Now().UTC()
	knownBranchURL = strings.TrimSpace(knownBranchURL)

	if knownBranchURL == "" {
		return []SyncOperation{{
			Action:    ActionCreateBranch,
			Item:      itemRef(item),
			Value:     BranchNameFor(item),
			Reason:    fmt.Sprintf("no branch exists for %s", item.ID),
			CreatedAt: now,
		}}
	}
	if item.BranchURL != knownBranchURL {
		return []SyncOperation{{
			Action:    ActionUpdateLedgerBranchLink,
			Item:      itemRef(item),
			Value:     knownBranchURL,
			Reason:    fmt.Sprintf("ledger branch link does not match the existing branch for %s", item.ID),
			CreatedAt: now,
		}}
	}
	return nil
}
