// Package engine implements the reconciliation core that keeps Ledger work
// items and Tracker issues/pull requests converged. Planning is pure and
// synchronous; only the executor and the runner touch the external stores.
package engine

import (
	"strings"
	"time"
)

// Ledger work item statuses.
const (
	StatusReported   = "Reported"
	StatusBlocked    = "Blocked"
	StatusInProgress = "In Progress"
	StatusInReview   = "In Review"
	StatusFixed      = "Fixed"
	StatusRejected   = "Rejected"
)

// Tracker issue / pull request states.
const (
	TrackerStateOpen   = "open"
	TrackerStateClosed = "closed"
)

// Ledger pull-request status field values.
const (
	PRStatusNone   = "None"
	PRStatusOpen   = "Open"
	PRStatusMerged = "Merged"
	PRStatusClosed = "Closed"
)

// WorkItem is one Ledger record, either a bug or a task.
type WorkItem struct {
	ID                string
	Title             string
	Status            string
	Type              string
	Module            string
	Description       string
	DetailText        string
	IssueLink         string
	BranchURL         string
	PullRequestStatus string
	PullRequestLink   string
	LastModified      time.Time
	StorageID         string
}

// IsTask reports whether the item only gets branch/PR tracking; bug-like
// items additionally get a Tracker issue of their own.
func (w WorkItem) IsTask() bool {
	return strings.EqualFold(strings.TrimSpace(w.Type), "task")
}

// TrackerIssue is one issue in the Tracker that carries the sync marker
// label. LinkedItemID is derived from the title and is empty for issues the
// engine does not recognize as linked.
type TrackerIssue struct {
	Number       int
	URL          string
	Repository   string
	Title        string
	Body         string
	State        string
	Labels       []string
	UpdatedAt    time.Time
	LinkedItemID string
}

// PullRequest is one Tracker pull request. LinkedItemID is derived from the
// branch name (`<id>/<slug>`).
type PullRequest struct {
	Number       int
	URL          string
	Repository   string
	State        string
	Merged       bool
	Mergeable    *bool
	BranchName   string
	BaseBranch   string
	UpdatedAt    time.Time
	MergedAt     *time.Time
	ClosedAt     *time.Time
	LinkedItemID string
}

// Action identifies the kind of mutation a SyncOperation performs.
type Action string

const (
	ActionCreate                 Action = "create"
	ActionDelete                 Action = "delete"
	ActionUpdateTrackerState     Action = "update_tracker_state"
	ActionUpdateTrackerBody      Action = "update_tracker_body"
	ActionUpdateLedgerStatus     Action = "update_ledger_status"
	ActionUpdateLedgerLink       Action = "update_ledger_link"
	ActionUpdateLedgerPRStatus   Action = "update_ledger_pr_status"
	ActionUpdateLedgerPRLink     Action = "update_ledger_pr_link"
	ActionClearLedgerPR          Action = "clear_ledger_pr"
	ActionCreateBranch           Action = "create_branch"
	ActionUpdateLedgerBranchLink Action = "update_ledger_branch_link"
)

// SyncOperation is one planned mutation. Item is the Ledger side (nil for
// orphan deletes), Issue/PR the Tracker side when one is involved. Value
// carries the desired state, status, link, or branch name for the simple
// update actions.
type SyncOperation struct {
	Action    Action
	Item      *WorkItem
	Issue     *TrackerIssue
	PR        *PullRequest
	Value     string
	Reason    string
	CreatedAt time.Time
}

// Outcome values for executed operations.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// OperationOutcome records how a single operation fared.
type OperationOutcome struct {
	Operation SyncOperation
	Outcome   string
	Err       string
}

// SyncResult tallies one reconciliation pass.
type SyncResult struct {
	Created  int
	Updated  int
	Deleted  int
	Failed   int
	Outcomes []OperationOutcome
}

// Routing is the immutable module-to-repository configuration handed to the
// planner's runner and the executor at call time. Repositories maps a Ledger
// module name to a Tracker repository (e.g. "acme/app"). DefaultBase is the
// base branch for created branches. FooterMarker, when non-empty, anchors
// where the branch section is inserted into issue bodies.
type Routing struct {
	Repositories map[string]string
	DefaultBase  string
	FooterMarker string
}

// RepositoryFor resolves the Tracker repository for a module.
func (r Routing) RepositoryFor(module string) (string, bool) {
	repo, ok := r.Repositories[strings.TrimSpace(module)]
	return repo, ok && strings.TrimSpace(repo) != ""
}

// Logger is the minimal logging surface injected through options structs.
type Logger interface {
	Printf(format string, args ...any)
}
