package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newRunner(t *testing.T, ledger *fakeLedger, tracker *fakeTracker, opts ...func(*RunnerOptions)) *Runner {
	t.Helper()
	o := RunnerOptions{Ledger: ledger, Tracker: tracker, Routing: testRouting()}
	for _, fn := range opts {
		fn(&o)
	}
	r, err := NewRunner(o)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestNewRunnerValidatesDependencies(t *testing.T) {
	if _, err := NewRunner(RunnerOptions{Tracker: newFakeTracker(), Routing: testRouting()}); err == nil {
		t.Fatalf("expected error for missing ledger store")
	}
	if _, err := NewRunner(RunnerOptions{Ledger: newFakeLedger(), Routing: testRouting()}); err == nil {
		t.Fatalf("expected error for missing tracker store")
	}
	if _, err := NewRunner(RunnerOptions{Ledger: newFakeLedger(), Tracker: newFakeTracker()}); err == nil {
		t.Fatalf("expected error for empty routing")
	}
}

func TestRunPassCreatesMissingIssue(t *testing.T) {
	item := bugItem("CBUG-1")
	item.StorageID = "page_1"
	ledger := newFakeLedger(item)
	tracker := newFakeTracker()

	result, err := newRunner(t, ledger, tracker).RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if result.Created != 1 || result.Failed != 0 {
		t.Fatalf("expected one creation, got %+v", result)
	}
	if len(tracker.issues["acme/app"]) != 1 {
		t.Fatalf("expected issue in acme/app, got %v", tracker.issues)
	}
	if !strings.Contains(ledger.links["page_1"], "/issues/") {
		t.Fatalf("expected issue link written back, got %q", ledger.links["page_1"])
	}
}

func TestRunPassFetchesEachRepositoryOnce(t *testing.T) {
	routing := Routing{
		Repositories: map[string]string{"App": "acme/app", "UI": "acme/app", "API": "acme/api"},
		DefaultBase:  "main",
	}
	ledger := newFakeLedger()
	tracker := newFakeTracker()
	r := newRunner(t, ledger, tracker, func(o *RunnerOptions) { o.Routing = routing })

	if _, err := r.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	var issueFetches []string
	for _, call := range tracker.calls {
		if strings.HasPrefix(call, "fetch_issues:") {
			issueFetches = append(issueFetches, call)
		}
	}
	want := []string{"fetch_issues:acme/api", "fetch_issues:acme/app"}
	if len(issueFetches) != len(want) {
		t.Fatalf("expected fetches %v, got %v", want, issueFetches)
	}
	for i := range want {
		if issueFetches[i] != want[i] {
			t.Fatalf("expected fetches %v, got %v", want, issueFetches)
		}
	}
}

func TestRunPassFailsWhenSnapshotFetchFails(t *testing.T) {
	ledger := newFakeLedger()
	ledger.fetchErr = errors.New("ledger unreachable")
	tracker := newFakeTracker()

	if _, err := newRunner(t, ledger, tracker).RunPass(context.Background()); err == nil {
		t.Fatalf("expected fetch error to abort the pass")
	}

	ledger = newFakeLedger()
	tracker = newFakeTracker()
	tracker.fetchErr = errors.New("tracker unreachable")
	if _, err := newRunner(t, ledger, tracker).RunPass(context.Background()); err == nil {
		t.Fatalf("expected tracker fetch error to abort the pass")
	}
}

func TestRunPassContinuesWhenWriteAccessCheckFails(t *testing.T) {
	item := bugItem("CBUG-1")
	item.StorageID = "page_1"
	ledger := newFakeLedger(item)
	tracker := newFakeTracker()
	tracker.accessErr = errors.New("read-only token")

	result, err := newRunner(t, ledger, tracker).RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected operations to run despite failed access check, got %+v", result)
	}
}

func TestRunPassPublishesResult(t *testing.T) {
	item := bugItem("CBUG-1")
	item.StorageID = "page_1"
	ledger := newFakeLedger(item)
	tracker := newFakeTracker()

	var gotTrigger string
	var gotResult SyncResult
	r := newRunner(t, ledger, tracker, func(o *RunnerOptions) {
		o.OnResult = func(trigger string, started time.Time, result SyncResult) {
			gotTrigger = trigger
			gotResult = result
			if started.IsZero() {
				t.Errorf("expected a start timestamp")
			}
		}
	})
	if _, err := r.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if gotTrigger != "pass" {
		t.Fatalf("expected trigger %q, got %q", "pass", gotTrigger)
	}
	if gotResult.Created != 1 {
		t.Fatalf("expected published result to match, got %+v", gotResult)
	}
}

func TestRunRecordCreatesBranchAndPublishes(t *testing.T) {
	item := taskItem("TSK-3")
	item.StorageID = "page_3"
	ledger := newFakeLedger()
	tracker := newFakeTracker()

	var gotTrigger string
	r := newRunner(t, ledger, tracker, func(o *RunnerOptions) {
		o.OnResult = func(trigger string, started time.Time, result SyncResult) {
			gotTrigger = trigger
		}
	})
	result, err := r.RunRecord(context.Background(), item, "")
	if err != nil {
		t.Fatalf("RunRecord: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected branch creation, got %+v", result)
	}
	if gotTrigger != "record:TSK-3" {
		t.Fatalf("unexpected trigger %q", gotTrigger)
	}
	patches := ledger.patches["page_3"]
	if len(patches) != 1 || patches[0].BranchURL == nil {
		t.Fatalf("expected branch link patch, got %+v", patches)
	}
}

func TestRunPassCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ledger := newFakeLedger()
	ledger.fetchErr = context.Canceled
	tracker := newFakeTracker()
	tracker.fetchErr = context.Canceled

	if _, err := newRunner(t, ledger, tracker).RunPass(ctx); err == nil {
		t.Fatalf("expected canceled pass to fail")
	}
}
