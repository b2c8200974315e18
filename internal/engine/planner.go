package engine

import (
	"fmt"
	"strings"
	"time"
)

// Planner walks an indexed snapshot and emits the ordered operation list
// that converges both stores. Plan is pure: it never touches the stores and
// only reports data-quality findings through the logger.
type Planner struct {
	logger Logger
}

func NewPlanner(logger Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan computes the minimal operation set for one reconciliation pass.
// Operations are appended in work item order (ascending id, so fixtures are
// reproducible), orphan deletions last. No operation depends on another
// within one pass.
func (p *Planner) Plan(items []WorkItem, issues []TrackerIssue, prs []PullRequest) []SyncOperation {
	idx := BuildIndices(items, issues, prs, p.logger)
	now := time.Now().UTC()

	var ops []SyncOperation
	for _, id := range sortedItemIDs(idx.ItemByID) {
		item := idx.ItemByID[id]
		if missing := missingRequiredFields(item); len(missing) > 0 {
			p.logf("skipping work item %q: missing %s; it cannot be routed or titled safely", item.ID, strings.Join(missing, ", "))
			continue
		}
		if !item.IsTask() {
			if issue, ok := idx.IssueByID[item.ID]; ok {
				ops = append(ops, p.planIssueSync(item, issue, now)...)
			} else {
				if item.IssueLink != "" {
					p.logf("work item %s carries issue link %s but no synced issue matched; the link may be orphaned", item.ID, item.IssueLink)
				}
				ops = append(ops, SyncOperation{
					Action:    ActionCreate,
					Item:      itemRef(item),
					Reason:    fmt.Sprintf("no tracker issue found for %s", item.ID),
					CreatedAt: now,
				})
			}
		}
		ops = append(ops, p.planPRSync(item, idx.PRsByID[item.ID], now)...)
	}

	for _, id := range sortedIssueIDs(idx.IssueByID) {
		if _, ok := idx.ItemByID[id]; ok {
			continue
		}
		issue := idx.IssueByID[id]
		ops = append(ops, SyncOperation{
			Action:    ActionDelete,
			Issue:     issueRef(issue),
			Reason:    fmt.Sprintf("work item %s no longer exists in the ledger", id),
			CreatedAt: now,
		})
	}
	return ops
}

func (p *Planner) planIssueSync(item WorkItem, issue TrackerIssue, now time.Time) []SyncOperation {
	var ops []SyncOperation

	wantState := LedgerStatusToTrackerState(item.Status)
	wantStatus := TrackerStateToLedgerStatus(issue.State, item.Status)
	trackerStale := wantState != issue.State
	ledgerStale := wantStatus != item.Status

	stateOp := SyncOperation{
		Action:    ActionUpdateTrackerState,
		Item:      itemRef(item),
		Issue:     issueRef(issue),
		Value:     wantState,
		Reason:    fmt.Sprintf("ledger status %q implies %s issue state", item.Status, wantState),
		CreatedAt: now,
	}
	statusOp := SyncOperation{
		Action:    ActionUpdateLedgerStatus,
		Item:      itemRef(item),
		Issue:     issueRef(issue),
		Value:     wantStatus,
		Reason:    fmt.Sprintf("tracker issue is %s, implying ledger status %q", issue.State, wantStatus),
		CreatedAt: now,
	}
	switch {
	case trackerStale && ledgerStale:
		if ResolveConflict(item, issue) == LedgerWins {
			stateOp.Reason += "; ledger edit is at least as recent"
			ops = append(ops, stateOp)
		} else {
			statusOp.Reason += "; tracker edit is more recent"
			ops = append(ops, statusOp)
		}
	case trackerStale:
		ops = append(ops, stateOp)
	case ledgerStale:
		ops = append(ops, statusOp)
	}

	if item.IssueLink == "" || item.IssueLink != issue.URL {
		ops = append(ops, SyncOperation{
			Action:    ActionUpdateLedgerLink,
			Item:      itemRef(item),
			Issue:     issueRef(issue),
			Value:     issue.URL,
			Reason:    fmt.Sprintf("ledger issue link does not match tracker issue #%d", issue.Number),
			CreatedAt: now,
		})
	}

	if item.BranchURL != "" && !strings.Contains(issue.Body, item.BranchURL) {
		ops = append(ops, SyncOperation{
			Action:    ActionUpdateTrackerBody,
			Item:      itemRef(item),
			Issue:     issueRef(issue),
			Value:     item.BranchURL,
			Reason:    fmt.Sprintf("issue body is missing the branch link for %s", item.ID),
			CreatedAt: now,
		})
	}
	return ops
}

func (p *Planner) planPRSync(item WorkItem, prs []PullRequest, now time.Time) []SyncOperation {
	var ops []SyncOperation
	pr, ok := MostRelevantPR(prs)
	if !ok {
		if item.PullRequestStatus != "" && item.PullRequestStatus != PRStatusNone {
			if item.BranchURL != "" {
				// Branch exists but no PR has been opened yet: an expected
				// transient state, not something to clear.
				return nil
			}
			ops = append(ops, SyncOperation{
				Action:    ActionClearLedgerPR,
				Item:      itemRef(item),
				Reason:    fmt.Sprintf("no pull request exists for %s but its PR status is %q", item.ID, item.PullRequestStatus),
				CreatedAt: now,
			})
		}
		return ops
	}

	wantStatus := PRStateToPullRequestStatus(pr)
	if item.PullRequestStatus != wantStatus {
		ops = append(ops, SyncOperation{
			Action:    ActionUpdateLedgerPRStatus,
			Item:      itemRef(item),
			PR:        prRef(pr),
			Value:     wantStatus,
			Reason:    fmt.Sprintf("pull request #%d implies PR status %q", pr.Number, wantStatus),
			CreatedAt: now,
		})
	}
	if item.PullRequestLink != pr.URL {
		ops = append(ops, SyncOperation{
			Action:    ActionUpdateLedgerPRLink,
			Item:      itemRef(item),
			PR:        prRef(pr),
			Value:     pr.URL,
			Reason:    fmt.Sprintf("ledger PR link does not match pull request #%d", pr.Number),
			CreatedAt: now,
		})
	}
	return ops
}

// MostRelevantPR selects the single pull request that represents an item's
// PR state: open beats merged beats closed-unmerged, ties broken by most
// recent UpdatedAt, then by highest number so the choice is a total order
// independent of input ordering.
func MostRelevantPR(prs []PullRequest) (PullRequest, bool) {
	if len(prs) == 0 {
		return PullRequest{}, false
	}
	best := prs[0]
	for _, pr := range prs[1:] {
		if morePRRelevant(pr, best) {
			best = pr
		}
	}
	return best, true
}

func morePRRelevant(a, b PullRequest) bool {
	pa, pb := prPriority(a), prPriority(b)
	if pa != pb {
		return pa > pb
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.Number > b.Number
}

func prPriority(pr PullRequest) int {
	switch {
	case pr.State == TrackerStateOpen:
		return 3
	case pr.Merged:
		return 2
	default:
		return 1
	}
}

func missingRequiredFields(item WorkItem) []string {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"id", item.ID},
		{"title", item.Title},
		{"module", item.Module},
		{"type", item.Type},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

func itemRef(item WorkItem) *WorkItem          { return &item }
func issueRef(issue TrackerIssue) *TrackerIssue { return &issue }
func prRef(pr PullRequest) *PullRequest        { return &pr }

func (p *Planner) logf(format string, args ...any) {
	logf(p.logger, format, args...)
}
