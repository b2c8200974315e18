package engine

// ledgerStateTable maps Ledger statuses onto the Tracker's two states.
var ledgerStateTable = map[string]string{
	StatusReported:   TrackerStateOpen,
	StatusBlocked:    TrackerStateOpen,
	StatusInProgress: TrackerStateOpen,
	StatusInReview:   TrackerStateOpen,
	StatusFixed:      TrackerStateClosed,
	StatusRejected:   TrackerStateClosed,
}

// LedgerStatusToTrackerState maps a Ledger status to the Tracker state it
// implies. Unknown statuses map to "open": an unrecognized input must never
// silently close an issue.
func LedgerStatusToTrackerState(status string) string {
	if state, ok := ledgerStateTable[status]; ok {
		return state
	}
	return TrackerStateOpen
}

// TrackerStateToLedgerStatus maps a Tracker state to the Ledger status it
// implies, given the currently stored status. A closed issue leaves an
// already-terminal status (Fixed, Rejected) untouched so that repeated
// passes do not flap the record; an open issue only forces a status change
// when the stored one is terminal, meaning the Tracker reopened a
// previously-closed item.
func TrackerStateToLedgerStatus(state, currentStatus string) string {
	terminal := currentStatus == StatusFixed || currentStatus == StatusRejected
	switch state {
	case TrackerStateClosed:
		if terminal {
			return currentStatus
		}
		return StatusFixed
	case TrackerStateOpen:
		if terminal {
			return StatusReported
		}
		return currentStatus
	default:
		return currentStatus
	}
}

// PRStateToPullRequestStatus maps a pull request onto the Ledger's
// PR-status field.
func PRStateToPullRequestStatus(pr PullRequest) string {
	switch {
	case pr.Merged:
		return PRStatusMerged
	case pr.State == TrackerStateOpen:
		return PRStatusOpen
	default:
		return PRStatusClosed
	}
}
