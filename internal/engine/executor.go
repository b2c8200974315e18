package engine

import (
	"context"
	"fmt"
)

// LedgerStore is the mutation surface the executor needs from the Ledger.
type LedgerStore interface {
	FetchAll(ctx context.Context) ([]WorkItem, error)
	UpdateStatus(ctx context.Context, storageID, status string) error
	UpdateLink(ctx context.Context, storageID, url string) error
	UpdateProperties(ctx context.Context, storageID string, patch ItemPatch) error
}

// ItemPatch is a partial update of a Ledger record; nil fields are left
// untouched.
type ItemPatch struct {
	Status            *string
	IssueLink         *string
	BranchURL         *string
	PullRequestStatus *string
	PullRequestLink   *string
}

// TrackerStore is the surface the engine needs from the issue tracker.
type TrackerStore interface {
	FetchSyncedIssues(ctx context.Context, repository string) ([]TrackerIssue, error)
	CreateIssue(ctx context.Context, repository string, item WorkItem) (TrackerIssue, error)
	SetState(ctx context.Context, repository string, number int, state string) error
	AddComment(ctx context.Context, repository string, number int, text string) error
	SetBody(ctx context.Context, repository string, number int, body string) error
	Lock(ctx context.Context, repository string, number int) error
	FetchPullRequests(ctx context.Context, repository string) ([]PullRequest, error)
	CreateBranch(ctx context.Context, repository, name, base string) (string, error)
	CheckWriteAccess(ctx context.Context, repository string) error
}

// Executor applies planned operations against the external stores.
// Operations run strictly in list order, one at a time: the stores are
// rate-limited and one record may be the target of several operations in a
// single pass, so concurrent writes would only race against themselves.
type Executor struct {
	Ledger  LedgerStore
	Tracker TrackerStore
	Routing Routing
	Logger  Logger
}

// Execute applies the operations sequentially. Each operation is isolated:
// a failure is tallied and recorded, then execution moves on to the next
// operation; one failure never aborts the batch.
func (e *Executor) Execute(ctx context.Context, ops []SyncOperation) SyncResult {
	var result SyncResult
	for _, op := range ops {
		err := e.apply(ctx, op)
		outcome := OperationOutcome{Operation: op, Outcome: OutcomeSuccess}
		if err != nil {
			outcome.Outcome = OutcomeFailure
			outcome.Err = err.Error()
			result.Failed++
			e.logf("operation %s failed: %v (%s)", op.Action, err, op.Reason)
		} else {
			switch op.Action {
			case ActionCreate, ActionCreateBranch:
				result.Created++
			case ActionDelete:
				result.Deleted++
			default:
				result.Updated++
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result
}

func (e *Executor) apply(ctx context.Context, op SyncOperation) error {
	switch op.Action {
	case ActionCreate:
		return e.applyCreate(ctx, op)
	case ActionDelete:
		return e.applyDelete(ctx, op)
	case ActionUpdateTrackerState:
		return e.Tracker.SetState(ctx, op.Issue.Repository, op.Issue.Number, op.Value)
	case ActionUpdateTrackerBody:
		return e.applyBodyPatch(ctx, op)
	case ActionUpdateLedgerStatus:
		return e.Ledger.UpdateStatus(ctx, op.Item.StorageID, op.Value)
	case ActionUpdateLedgerLink:
		return e.Ledger.UpdateLink(ctx, op.Item.StorageID, op.Value)
	case ActionUpdateLedgerPRStatus:
		return e.Ledger.UpdateProperties(ctx, op.Item.StorageID, ItemPatch{PullRequestStatus: strRef(op.Value)})
	case ActionUpdateLedgerPRLink:
		return e.Ledger.UpdateProperties(ctx, op.Item.StorageID, ItemPatch{PullRequestLink: strRef(op.Value)})
	case ActionClearLedgerPR:
		return e.Ledger.UpdateProperties(ctx, op.Item.StorageID, ItemPatch{
			PullRequestStatus: strRef(PRStatusNone),
			PullRequestLink:   strRef(""),
		})
	case ActionUpdateLedgerBranchLink:
		return e.Ledger.UpdateProperties(ctx, op.Item.StorageID, ItemPatch{BranchURL: strRef(op.Value)})
	case ActionCreateBranch:
		return e.applyCreateBranch(ctx, op)
	default:
		return fmt.Errorf("unsupported operation action: %s", op.Action)
	}
}

func (e *Executor) applyCreate(ctx context.Context, op SyncOperation) error {
	item := *op.Item
	repo, ok := e.Routing.RepositoryFor(item.Module)
	if !ok {
		return fmt.Errorf("no repository mapping for module %q", item.Module)
	}
	issue, err := e.Tracker.CreateIssue(ctx, repo, item)
	if err != nil {
		return err
	}
	// Write the fresh issue URL back so the next pass starts converged.
	// Best effort: the issue exists either way and a later pass fixes the
	// link through the normal comparison path.
	if linkErr := e.Ledger.UpdateLink(ctx, item.StorageID, issue.URL); linkErr != nil {
		e.logf("created issue #%d for %s but could not store its link: %v", issue.Number, item.ID, linkErr)
	}
	return nil
}

// applyDelete closes and locks an orphaned issue; most trackers have no true
// delete. The explanatory comment is best-effort annotation: a comment
// failure never blocks the close.
func (e *Executor) applyDelete(ctx context.Context, op SyncOperation) error {
	issue := *op.Issue
	comment := fmt.Sprintf("The linked work item %s was removed from the ledger; closing and locking this issue.", issue.LinkedItemID)
	if err := e.Tracker.AddComment(ctx, issue.Repository, issue.Number, comment); err != nil {
		e.logf("could not annotate issue #%d before closing: %v", issue.Number, err)
	}
	if err := e.Tracker.SetState(ctx, issue.Repository, issue.Number, TrackerStateClosed); err != nil {
		return err
	}
	return e.Tracker.Lock(ctx, issue.Repository, issue.Number)
}

func (e *Executor) applyBodyPatch(ctx context.Context, op SyncOperation) error {
	issue := *op.Issue
	item := *op.Item
	patched, changed := UpsertBranchSection(issue.Body, BranchNameFor(item), item.BranchURL, e.Routing.FooterMarker)
	if !changed {
		return nil
	}
	return e.Tracker.SetBody(ctx, issue.Repository, issue.Number, patched)
}

func (e *Executor) applyCreateBranch(ctx context.Context, op SyncOperation) error {
	item := *op.Item
	repo, ok := e.Routing.RepositoryFor(item.Module)
	if !ok {
		return fmt.Errorf("no repository mapping for module %q", item.Module)
	}
	url, err := e.Tracker.CreateBranch(ctx, repo, op.Value, e.Routing.DefaultBase)
	if err != nil {
		return err
	}
	if linkErr := e.Ledger.UpdateProperties(ctx, item.StorageID, ItemPatch{BranchURL: strRef(url)}); linkErr != nil {
		e.logf("created branch %s for %s but could not store its link: %v", op.Value, item.ID, linkErr)
	}
	return nil
}

func strRef(s string) *string { return &s }

func (e *Executor) logf(format string, args ...any) {
	logf(e.Logger, format, args...)
}
