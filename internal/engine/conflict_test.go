package engine

import (
	"testing"
	"time"
)

func TestResolveConflictLastWriterWins(t *testing.T) {
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := ResolveConflict(WorkItem{LastModified: t1}, TrackerIssue{UpdatedAt: t2}); got != LedgerWins {
		t.Fatalf("expected ledger to win with the newer edit, got %v", got)
	}
	if got := ResolveConflict(WorkItem{LastModified: t2}, TrackerIssue{UpdatedAt: t1}); got != TrackerWins {
		t.Fatalf("expected tracker to win with the newer edit, got %v", got)
	}
}

func TestResolveConflictTieFavorsLedger(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := ResolveConflict(WorkItem{LastModified: ts}, TrackerIssue{UpdatedAt: ts}); got != LedgerWins {
		t.Fatalf("expected exact tie to favor the ledger, got %v", got)
	}
}

func TestResolveConflictMissingTimestampLoses(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := ResolveConflict(WorkItem{}, TrackerIssue{UpdatedAt: ts}); got != TrackerWins {
		t.Fatalf("expected side with a real timestamp to win, got %v", got)
	}
	if got := ResolveConflict(WorkItem{LastModified: ts}, TrackerIssue{}); got != LedgerWins {
		t.Fatalf("expected side with a real timestamp to win, got %v", got)
	}
}
