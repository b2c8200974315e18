package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// RunnerOptions wires a Runner. OnResult, when set, receives every completed
// pass (the batch loop and webhook-triggered single-record actions alike).
type RunnerOptions struct {
	Ledger   LedgerStore
	Tracker  TrackerStore
	Routing  Routing
	Logger   Logger
	OnResult func(trigger string, started time.Time, result SyncResult)
}

// Runner drives one reconciliation pass end to end: concurrent snapshot
// fetch, pure planning, sequential execution. Separate invocations (a
// scheduled pass and a webhook action) may run concurrently; the engine
// provides no cross-invocation locking and relies on the next pass to
// correct any interleaving.
type Runner struct {
	ledger   LedgerStore
	tracker  TrackerStore
	routing  Routing
	logger   Logger
	planner  *Planner
	onResult func(trigger string, started time.Time, result SyncResult)
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("tracker store is required")
	}
	if len(opts.Routing.Repositories) == 0 {
		return nil, fmt.Errorf("at least one module repository mapping is required")
	}
	return &Runner{
		ledger:   opts.Ledger,
		tracker:  opts.Tracker,
		routing:  opts.Routing,
		logger:   opts.Logger,
		planner:  NewPlanner(opts.Logger),
		onResult: opts.OnResult,
	}, nil
}

type trackerSnapshot struct {
	issues []TrackerIssue
	prs    []PullRequest
}

// RunPass performs one full reconciliation. A snapshot-fetch failure is
// fatal for the pass; every per-item and per-operation problem downstream is
// aggregated into the returned SyncResult instead.
func (r *Runner) RunPass(ctx context.Context) (SyncResult, error) {
	started := time.Now().UTC()
	repos := r.repositories()

	// The two snapshots are independent reads; fetch them in parallel to
	// cut wall-clock latency before planning starts.
	itemsCh := make(chan []WorkItem, 1)
	trackerCh := make(chan trackerSnapshot, 1)
	errCh := make(chan error, 2)

	go func() {
		items, err := r.ledger.FetchAll(ctx)
		if err != nil {
			errCh <- fmt.Errorf("fetch ledger snapshot: %w", err)
			return
		}
		itemsCh <- items
	}()
	go func() {
		var snap trackerSnapshot
		for _, repo := range repos {
			issues, err := r.tracker.FetchSyncedIssues(ctx, repo)
			if err != nil {
				errCh <- fmt.Errorf("fetch issues for %s: %w", repo, err)
				return
			}
			prs, err := r.tracker.FetchPullRequests(ctx, repo)
			if err != nil {
				errCh <- fmt.Errorf("fetch pull requests for %s: %w", repo, err)
				return
			}
			snap.issues = append(snap.issues, issues...)
			snap.prs = append(snap.prs, prs...)
		}
		trackerCh <- snap
	}()

	var items []WorkItem
	var tracker trackerSnapshot
	for i := 0; i < 2; i++ {
		select {
		case items = <-itemsCh:
		case tracker = <-trackerCh:
		case err := <-errCh:
			return SyncResult{}, err
		case <-ctx.Done():
			return SyncResult{}, ctx.Err()
		}
	}

	r.preflight(ctx, repos)

	ops := r.planner.Plan(items, tracker.issues, tracker.prs)
	result := r.execute(ctx, ops)
	r.publish("pass", started, result)
	return result, nil
}

// RunRecord performs the single-record webhook variant: ensure a branch
// exists for the item and that the Ledger points at it.
func (r *Runner) RunRecord(ctx context.Context, item WorkItem, knownBranchURL string) (SyncResult, error) {
	started := time.Now().UTC()
	ops := r.planner.PlanRecord(item, knownBranchURL)
	result := r.execute(ctx, ops)
	r.publish("record:"+item.ID, started, result)
	return result, nil
}

func (r *Runner) execute(ctx context.Context, ops []SyncOperation) SyncResult {
	exec := &Executor{
		Ledger:  r.ledger,
		Tracker: r.tracker,
		Routing: r.routing,
		Logger:  r.logger,
	}
	return exec.Execute(ctx, ops)
}

// preflight checks write scope once per pass. A missing scope is only a
// warning: the pass still attempts every operation and degrades into
// per-operation failures instead of stopping cold.
func (r *Runner) preflight(ctx context.Context, repos []string) {
	for _, repo := range repos {
		if err := r.tracker.CheckWriteAccess(ctx, repo); err != nil {
			logf(r.logger, "write access check failed for %s: %v; attempting operations anyway", repo, err)
		}
	}
}

func (r *Runner) repositories() []string {
	seen := map[string]struct{}{}
	var repos []string
	for _, repo := range r.routing.Repositories {
		if repo == "" {
			continue
		}
		if _, ok := seen[repo]; ok {
			continue
		}
		seen[repo] = struct{}{}
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos
}

func (r *Runner) publish(trigger string, started time.Time, result SyncResult) {
	if r.onResult == nil {
		return
	}
	r.onResult(trigger, started, result)
}
