package engine

import (
	"regexp"
	"strings"
)

var (
	// Canonical id: uppercase prefix, dash, digits (CBUG-7, TSK-21).
	idPattern = regexp.MustCompile(`^[A-Z]+-[0-9]+$`)

	// "<ID>: rest", the form sync-created issue titles use.
	colonTitlePattern = regexp.MustCompile(`^([A-Z]+-[0-9]+)\s*:`)

	// "[tag]/<ID> rest", the form tagged titles use.
	taggedTitlePattern = regexp.MustCompile(`^\[[^\]]*\]/([A-Z]+-[0-9]+)(\s|$)`)

	slugStripPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// ExtractID derives the canonical work item id from a free-form Tracker
// title. A bare "<ID>-rest" form is deliberately not matched; titles that
// merely contain hyphens must not link up by accident. The second return is
// false when no pattern matches, which callers treat as "unrelated", not as
// an error.
func ExtractID(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if m := colonTitlePattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := taggedTitlePattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

// BranchItemID derives the work item id from a branch named "<id>/<slug>".
func BranchItemID(branchName string) (string, bool) {
	branchName = strings.TrimSpace(branchName)
	idx := strings.Index(branchName, "/")
	if idx <= 0 {
		return "", false
	}
	id := branchName[:idx]
	if !idPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// IsCanonicalID reports whether s has the "<PREFIX>-<n>" shape.
func IsCanonicalID(s string) bool {
	return idPattern.MatchString(strings.TrimSpace(s))
}

// BranchNameFor builds the branch name "<id>/<slug>" for a work item.
func BranchNameFor(item WorkItem) string {
	return item.ID + "/" + slugify(item.Title)
}

func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugStripPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	if slug == "" {
		slug = "work"
	}
	return slug
}
