package engine

import "sort"

// Indices are the lookup structures one reconciliation pass plans from.
// ItemByID holds one work item per id (last one wins on duplicates).
// IssueByID holds one issue per linked id; when several Tracker issues
// resolve to the same id the last-scanned one wins, a deliberate
// simplification surfaced as a warning rather than treated as fatal.
// PRsByID is plural: branch iteration routinely yields several pull
// requests per id.
type Indices struct {
	ItemByID  map[string]WorkItem
	IssueByID map[string]TrackerIssue
	PRsByID   map[string][]PullRequest
}

// BuildIndices derives the indexed snapshot from the raw fetches. Issues and
// PRs whose identity cannot be derived are ignored as unrelated. Duplicate
// ids are logged as data-quality warnings.
func BuildIndices(items []WorkItem, issues []TrackerIssue, prs []PullRequest, logger Logger) Indices {
	idx := Indices{
		ItemByID:  make(map[string]WorkItem, len(items)),
		IssueByID: make(map[string]TrackerIssue, len(issues)),
		PRsByID:   map[string][]PullRequest{},
	}
	for _, item := range items {
		if _, dup := idx.ItemByID[item.ID]; dup && item.ID != "" {
			logf(logger, "duplicate work item id %s in ledger snapshot; keeping the last one", item.ID)
		}
		idx.ItemByID[item.ID] = item
	}
	for _, issue := range issues {
		id := issue.LinkedItemID
		if id == "" {
			if derived, ok := ExtractID(issue.Title); ok {
				id = derived
			}
		}
		if id == "" {
			continue
		}
		issue.LinkedItemID = id
		if prev, dup := idx.IssueByID[id]; dup {
			logf(logger, "multiple tracker issues resolve to %s (#%d and #%d); keeping the last-scanned one", id, prev.Number, issue.Number)
		}
		idx.IssueByID[id] = issue
	}
	for _, pr := range prs {
		id := pr.LinkedItemID
		if id == "" {
			if derived, ok := BranchItemID(pr.BranchName); ok {
				id = derived
			}
		}
		if id == "" {
			continue
		}
		pr.LinkedItemID = id
		idx.PRsByID[id] = append(idx.PRsByID[id], pr)
	}
	return idx
}

// sortedIDs returns map keys in ascending order so that planning walks the
// snapshot in a reproducible order.
func sortedItemIDs(items map[string]WorkItem) []string {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedIssueIDs(issues map[string]TrackerIssue) []string {
	ids := make([]string, 0, len(issues))
	for id := range issues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
