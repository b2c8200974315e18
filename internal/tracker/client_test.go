package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

func testItem(id string) engine.WorkItem {
	return engine.WorkItem{
		ID:          id,
		Title:       "Crash when saving",
		Status:      engine.StatusReported,
		Type:        "bug",
		Module:      "App",
		Description: "Crashes on save",
	}
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient(ClientOptions{
		BaseURL:    server.URL,
		WebBaseURL: "https://git.example",
		Token:      "token_abc",
		SyncLabel:  "ledger-sync",
		HTTPClient: server.Client(),
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func TestFetchSyncedIssuesFiltersAndPaginates(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/issues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("labels") != "ledger-sync" || r.URL.Query().Get("state") != "all" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if page == "1" {
			issues := make([]map[string]any, 0, 100)
			for i := 1; i <= 99; i++ {
				issues = append(issues, map[string]any{
					"number":     i,
					"title":      fmt.Sprintf("CBUG-%d: Crash", i),
					"state":      "open",
					"updated_at": "2024-01-01T00:00:00Z",
				})
			}
			issues = append(issues, map[string]any{
				"number":       100,
				"title":        "CBUG-100: A pull request in disguise",
				"state":        "open",
				"updated_at":   "2024-01-01T00:00:00Z",
				"pull_request": map[string]any{},
			})
			_ = json.NewEncoder(w).Encode(issues)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"number":     101,
			"title":      "CBUG-101: Last one",
			"state":      "closed",
			"updated_at": "2024-01-02T00:00:00Z",
			"labels":     []map[string]any{{"name": "ledger-sync"}},
		}})
	}))
	defer server.Close()

	issues, err := newTestClient(server).FetchSyncedIssues(context.Background(), "acme/app")
	if err != nil {
		t.Fatalf("FetchSyncedIssues: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected two pages, got %v", pages)
	}
	if len(issues) != 100 {
		t.Fatalf("expected 100 issues after PR filtering, got %d", len(issues))
	}
	last := issues[len(issues)-1]
	if last.Number != 101 || last.State != "closed" || last.Repository != "acme/app" {
		t.Fatalf("unexpected last issue %+v", last)
	}
	if len(last.Labels) != 1 || last.Labels[0] != "ledger-sync" {
		t.Fatalf("unexpected labels %v", last.Labels)
	}
}

func TestFetchSyncedIssuesEscapesLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "labels=needs+triage%26sync") {
			t.Errorf("label not escaped in query %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("labels") != "needs triage&sync" {
			t.Errorf("unexpected decoded label %q", r.URL.Query().Get("labels"))
		}
		if r.URL.Query().Get("state") != "all" {
			t.Errorf("label corrupted the rest of the query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer server.Close()

	client := NewClient(ClientOptions{
		BaseURL:    server.URL,
		Token:      "token_abc",
		SyncLabel:  "needs triage&sync",
		HTTPClient: server.Client(),
	})
	if _, err := client.FetchSyncedIssues(context.Background(), "acme/app"); err != nil {
		t.Fatalf("FetchSyncedIssues: %v", err)
	}
}

func TestCreateIssueSendsMarkerLabelAndTitle(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/app/issues" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number":   42,
			"html_url": "https://git.example/acme/app/issues/42",
			"title":    captured["title"],
			"state":    "open",
		})
	}))
	defer server.Close()

	item := testItem("CBUG-12")
	issue, err := newTestClient(server).CreateIssue(context.Background(), "acme/app", item)
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if captured["title"] != "CBUG-12: Crash when saving" {
		t.Fatalf("unexpected title %v", captured["title"])
	}
	labels, _ := captured["labels"].([]any)
	if len(labels) != 1 || labels[0] != "ledger-sync" {
		t.Fatalf("expected marker label, got %v", captured["labels"])
	}
	body, _ := captured["body"].(string)
	if !strings.Contains(body, "Crashes on save") {
		t.Fatalf("expected description in body, got %q", body)
	}
	if issue.Number != 42 || issue.LinkedItemID != "CBUG-12" {
		t.Fatalf("unexpected issue %+v", issue)
	}
}

func TestSetStateAndLock(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/lock") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server)
	if err := client.SetState(context.Background(), "acme/app", 7, "closed"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := client.Lock(context.Background(), "acme/app", 7); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	want := []string{"PATCH /repos/acme/app/issues/7", "PUT /repos/acme/app/issues/7/lock"}
	if len(requests) != 2 || requests[0] != want[0] || requests[1] != want[1] {
		t.Fatalf("unexpected requests %v", requests)
	}
}

func TestFetchPullRequestsMapsMergeState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/pulls" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"number":     7,
				"html_url":   "https://git.example/acme/app/pull/7",
				"state":      "closed",
				"merged_at":  "2024-02-01T00:00:00Z",
				"head":       map[string]any{"ref": "CBUG-12/crash-when-saving"},
				"base":       map[string]any{"ref": "main"},
				"updated_at": "2024-02-01T00:00:00Z",
			},
			{
				"number":     8,
				"html_url":   "https://git.example/acme/app/pull/8",
				"state":      "open",
				"head":       map[string]any{"ref": "TSK-3/add-saving"},
				"base":       map[string]any{"ref": "main"},
				"updated_at": "2024-02-02T00:00:00Z",
			},
		})
	}))
	defer server.Close()

	prs, err := newTestClient(server).FetchPullRequests(context.Background(), "acme/app")
	if err != nil {
		t.Fatalf("FetchPullRequests: %v", err)
	}
	if len(prs) != 2 {
		t.Fatalf("expected 2 pull requests, got %d", len(prs))
	}
	if !prs[0].Merged || prs[0].BranchName != "CBUG-12/crash-when-saving" {
		t.Fatalf("unexpected merged PR %+v", prs[0])
	}
	if prs[1].Merged || prs[1].State != "open" {
		t.Fatalf("unexpected open PR %+v", prs[1])
	}
}

func TestCreateBranchResolvesBaseRef(t *testing.T) {
	var createdRef map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/app/git/ref/heads/main":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": map[string]any{"sha": "abc123"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/app/git/refs":
			_ = json.NewDecoder(r.Body).Decode(&createdRef)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	url, err := newTestClient(server).CreateBranch(context.Background(), "acme/app", "TSK-3/add-saving", "main")
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if createdRef["ref"] != "refs/heads/TSK-3/add-saving" || createdRef["sha"] != "abc123" {
		t.Fatalf("unexpected ref payload %v", createdRef)
	}
	if url != "https://git.example/acme/app/tree/TSK-3/add-saving" {
		t.Fatalf("unexpected branch url %q", url)
	}
}

func TestCheckWriteAccess(t *testing.T) {
	push := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"permissions": map[string]any{"push": push},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	if err := client.CheckWriteAccess(context.Background(), "acme/app"); err != nil {
		t.Fatalf("expected write access, got %v", err)
	}
	push = false
	if err := client.CheckWriteAccess(context.Background(), "acme/app"); err == nil {
		t.Fatalf("expected write access error")
	}
}

func TestClientRetriesThenReturnsTypedError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	}))
	defer server.Close()

	err := newTestClient(server).SetState(context.Background(), "acme/app", 1, "closed")
	var apiErr *HTTPError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "Validation Failed" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected retry before permanent failure, got %d calls", atomic.LoadInt32(&calls))
	}
}
