package ledger

import (
	"testing"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

func TestParseItemFullRecord(t *testing.T) {
	record := map[string]any{
		"id":               "page_42",
		"last_edited_time": "2024-03-01T10:00:00Z",
		"properties": map[string]any{
			"Name": map[string]any{
				"type": "title",
				"title": []any{
					map[string]any{"plain_text": "CBUG-12: Crash "},
					map[string]any{"plain_text": "when saving"},
				},
			},
			"ID": map[string]any{
				"type":      "rich_text",
				"rich_text": []any{map[string]any{"plain_text": " CBUG-12 "}},
			},
			"Status": map[string]any{
				"type":   "select",
				"select": map[string]any{"name": "In Progress"},
			},
			"Type": map[string]any{
				"type":   "select",
				"select": map[string]any{"name": "bug"},
			},
			"Module": map[string]any{
				"type":   "select",
				"select": map[string]any{"name": "App"},
			},
			"Description": map[string]any{
				"type":      "rich_text",
				"rich_text": []any{map[string]any{"text": map[string]any{"content": "Crashes on save"}}},
			},
			"Issue": map[string]any{
				"type": "url",
				"url":  "https://tracker.example/acme/app/issues/41",
			},
			"Branch": map[string]any{
				"type": "url",
				"url":  "https://tracker.example/acme/app/tree/CBUG-12/crash-when-saving",
			},
			"PR Status": map[string]any{
				"type":   "select",
				"select": map[string]any{"name": "Open"},
			},
			"PR": map[string]any{
				"type": "url",
				"url":  "https://tracker.example/acme/app/pull/7",
			},
		},
	}

	item := ParseItem(record)
	if item.StorageID != "page_42" || item.ID != "CBUG-12" {
		t.Fatalf("unexpected identity %+v", item)
	}
	if item.Title != "CBUG-12: Crash when saving" {
		t.Fatalf("unexpected title %q", item.Title)
	}
	if item.Status != engine.StatusInProgress || item.Type != "bug" || item.Module != "App" {
		t.Fatalf("unexpected classification %+v", item)
	}
	if item.Description != "Crashes on save" {
		t.Fatalf("unexpected description %q", item.Description)
	}
	if item.IssueLink == "" || item.BranchURL == "" || item.PullRequestLink == "" {
		t.Fatalf("expected all links populated, got %+v", item)
	}
	if item.PullRequestStatus != engine.PRStatusOpen {
		t.Fatalf("unexpected PR status %q", item.PullRequestStatus)
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !item.LastModified.Equal(want) {
		t.Fatalf("unexpected last modified %v", item.LastModified)
	}
}

func TestParseItemTolerantOfMissingProperties(t *testing.T) {
	item := ParseItem(map[string]any{"id": "page_1"})
	if item.StorageID != "page_1" {
		t.Fatalf("expected storage id, got %+v", item)
	}
	if item.ID != "" || item.Title != "" || item.Status != "" {
		t.Fatalf("expected zero values for missing properties, got %+v", item)
	}
	if item.PullRequestStatus != engine.PRStatusNone {
		t.Fatalf("expected None PR status default, got %q", item.PullRequestStatus)
	}
	if !item.LastModified.IsZero() {
		t.Fatalf("expected zero last modified, got %v", item.LastModified)
	}
}

func TestParseItemIgnoresMalformedShapes(t *testing.T) {
	record := map[string]any{
		"id": "page_2",
		"properties": map[string]any{
			"Status": "not a map",
			"ID":     map[string]any{"type": "rich_text", "rich_text": "not a list"},
			"Name":   map[string]any{"type": "title", "title": []any{"not a map"}},
		},
	}
	item := ParseItem(record)
	if item.Status != "" || item.ID != "" || item.Title != "" {
		t.Fatalf("expected malformed properties to parse as empty, got %+v", item)
	}
}

func TestParseItemStatusPropertyVariant(t *testing.T) {
	record := map[string]any{
		"id": "page_3",
		"properties": map[string]any{
			"Status": map[string]any{
				"type":   "status",
				"status": map[string]any{"name": "Blocked"},
			},
		},
	}
	if got := ParseItem(record).Status; got != engine.StatusBlocked {
		t.Fatalf("expected status variant to parse, got %q", got)
	}
}
