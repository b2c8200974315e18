package engine

// Resolution says which side's value wins a two-way disagreement.
type Resolution int

const (
	LedgerWins Resolution = iota
	TrackerWins
)

// ResolveConflict applies last-writer-wins between a work item and its
// matched issue. Missing timestamps are their zero value, which biases
// resolution toward the side carrying a real timestamp. An exact tie favors
// the Ledger; that rule is preserved as-is from the established behavior
// (see DESIGN.md) rather than adjusted.
func ResolveConflict(item WorkItem, issue TrackerIssue) Resolution {
	if item.LastModified.Before(issue.UpdatedAt) {
		return TrackerWins
	}
	return LedgerWins
}
