package ledger

import (
	"strings"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

// Property names used by the Ledger database. Everything outside this file
// works with the canonical WorkItem fields only.
const (
	propID          = "ID"
	propStatus      = "Status"
	propType        = "Type"
	propModule      = "Module"
	propDescription = "Description"
	propDetails     = "Details"
	propIssueLink   = "Issue"
	propBranchURL   = "Branch"
	propPRStatus    = "PR Status"
	propPRLink      = "PR"
)

// ParseItem adapts one raw record into the canonical WorkItem. Missing or
// oddly-typed properties come back as zero values; validation happens in the
// planner, not here.
func ParseItem(record map[string]any) engine.WorkItem {
	props, _ := record["properties"].(map[string]any)
	item := engine.WorkItem{
		StorageID:         asString(record["id"]),
		ID:                strings.TrimSpace(propertyText(props, propID)),
		Title:             strings.TrimSpace(titleText(props)),
		Status:            propertySelect(props, propStatus),
		Type:              propertySelect(props, propType),
		Module:            propertySelect(props, propModule),
		Description:       propertyText(props, propDescription),
		DetailText:        propertyText(props, propDetails),
		IssueLink:         propertyURL(props, propIssueLink),
		BranchURL:         propertyURL(props, propBranchURL),
		PullRequestStatus: propertySelect(props, propPRStatus),
		PullRequestLink:   propertyURL(props, propPRLink),
	}
	if item.PullRequestStatus == "" {
		item.PullRequestStatus = engine.PRStatusNone
	}
	if raw := asString(record["last_edited_time"]); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			item.LastModified = ts.UTC()
		}
	}
	return item
}

// patchProperties renders an ItemPatch into the wire property shapes.
func patchProperties(patch engine.ItemPatch) map[string]any {
	properties := map[string]any{}
	if patch.Status != nil {
		properties[propStatus] = selectValue(*patch.Status)
	}
	if patch.IssueLink != nil {
		properties[propIssueLink] = urlValue(*patch.IssueLink)
	}
	if patch.BranchURL != nil {
		properties[propBranchURL] = urlValue(*patch.BranchURL)
	}
	if patch.PullRequestStatus != nil {
		properties[propPRStatus] = selectValue(*patch.PullRequestStatus)
	}
	if patch.PullRequestLink != nil {
		properties[propPRLink] = urlValue(*patch.PullRequestLink)
	}
	return properties
}

func selectValue(name string) map[string]any {
	if name == "" || name == engine.PRStatusNone {
		return map[string]any{"select": nil}
	}
	return map[string]any{"select": map[string]any{"name": name}}
}

func urlValue(url string) map[string]any {
	if url == "" {
		return map[string]any{"url": nil}
	}
	return map[string]any{"url": url}
}

// titleText finds the record's title property by type rather than by name;
// databases are free to rename it.
func titleText(props map[string]any) string {
	for _, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if asString(prop["type"]) != "title" {
			continue
		}
		if fragments, ok := prop["title"].([]any); ok {
			return joinPlainText(fragments)
		}
	}
	return ""
}

func propertyText(props map[string]any, name string) string {
	prop, ok := props[name].(map[string]any)
	if !ok {
		return ""
	}
	if fragments, ok := prop["rich_text"].([]any); ok {
		return joinPlainText(fragments)
	}
	if fragments, ok := prop["title"].([]any); ok {
		return joinPlainText(fragments)
	}
	return asString(prop["plain_text"])
}

func propertySelect(props map[string]any, name string) string {
	prop, ok := props[name].(map[string]any)
	if !ok {
		return ""
	}
	if sel, ok := prop["select"].(map[string]any); ok {
		return asString(sel["name"])
	}
	if status, ok := prop["status"].(map[string]any); ok {
		return asString(status["name"])
	}
	return ""
}

func propertyURL(props map[string]any, name string) string {
	prop, ok := props[name].(map[string]any)
	if !ok {
		return ""
	}
	return asString(prop["url"])
}

func joinPlainText(fragments []any) string {
	var b strings.Builder
	for _, raw := range fragments {
		fragment, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text := asString(fragment["plain_text"]); text != "" {
			b.WriteString(text)
			continue
		}
		if inner, ok := fragment["text"].(map[string]any); ok {
			b.WriteString(asString(inner["content"]))
		}
	}
	return b.String()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
