// Package tracker implements the issue-tracker side of the sync against a
// GitHub-style REST API: issues filtered by the sync marker label, pull
// requests linked through their branch names, and git refs for branch
// creation.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

// HTTPError reports a non-retryable API failure.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("tracker api error: status=%d message=%s", e.StatusCode, e.Message)
}

type ClientOptions struct {
	BaseURL    string
	WebBaseURL string
	Token      string
	SyncLabel  string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     engine.Logger
}

// Client implements engine.TrackerStore.
type Client struct {
	baseURL    string
	webBaseURL string
	token      string
	syncLabel  string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     engine.Logger
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	webBaseURL := strings.TrimRight(strings.TrimSpace(opts.WebBaseURL), "/")
	if webBaseURL == "" {
		webBaseURL = "https://github.com"
	}
	syncLabel := strings.TrimSpace(opts.SyncLabel)
	if syncLabel == "" {
		syncLabel = "ledger-sync"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		webBaseURL: webBaseURL,
		token:      strings.TrimSpace(opts.Token),
		syncLabel:  syncLabel,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     opts.Logger,
	}
}

type wireLabel struct {
	Name string `json:"name"`
}

type wireIssue struct {
	Number      int         `json:"number"`
	HTMLURL     string      `json:"html_url"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	State       string      `json:"state"`
	Labels      []wireLabel `json:"labels"`
	UpdatedAt   time.Time   `json:"updated_at"`
	PullRequest *struct{}   `json:"pull_request,omitempty"`
}

type wirePull struct {
	Number   int        `json:"number"`
	HTMLURL  string     `json:"html_url"`
	State    string     `json:"state"`
	MergedAt *time.Time `json:"merged_at"`
	ClosedAt *time.Time `json:"closed_at"`
	Head     struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FetchSyncedIssues lists every issue carrying the sync marker label,
// open and closed alike. Pull requests surfaced by the issues listing are
// skipped; they arrive through FetchPullRequests.
func (c *Client) FetchSyncedIssues(ctx context.Context, repository string) ([]engine.TrackerIssue, error) {
	var issues []engine.TrackerIssue
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/issues?labels=%s&state=all&per_page=100&page=%d", repository, url.QueryEscape(c.syncLabel), page)
		var batch []wireIssue
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, raw := range batch {
			if raw.PullRequest != nil {
				continue
			}
			issues = append(issues, c.toIssue(repository, raw))
		}
		if len(batch) < 100 {
			break
		}
	}
	return issues, nil
}

func (c *Client) toIssue(repository string, raw wireIssue) engine.TrackerIssue {
	labels := make([]string, 0, len(raw.Labels))
	for _, label := range raw.Labels {
		labels = append(labels, label.Name)
	}
	return engine.TrackerIssue{
		Number:     raw.Number,
		URL:        raw.HTMLURL,
		Repository: repository,
		Title:      raw.Title,
		Body:       raw.Body,
		State:      raw.State,
		Labels:     labels,
		UpdatedAt:  raw.UpdatedAt.UTC(),
	}
}

// CreateIssue opens a tracker issue for the work item, titled with the
// canonical id prefix and tagged with the sync marker label.
func (c *Client) CreateIssue(ctx context.Context, repository string, item engine.WorkItem) (engine.TrackerIssue, error) {
	payload := map[string]any{
		"title":  item.ID + ": " + item.Title,
		"body":   issueBody(item),
		"labels": []string{c.syncLabel},
	}
	var raw wireIssue
	if err := c.do(ctx, http.MethodPost, "/repos/"+repository+"/issues", payload, &raw); err != nil {
		return engine.TrackerIssue{}, err
	}
	issue := c.toIssue(repository, raw)
	issue.LinkedItemID = item.ID
	return issue, nil
}

func issueBody(item engine.WorkItem) string {
	var b strings.Builder
	if desc := strings.TrimSpace(item.Description); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n")
	}
	if detail := strings.TrimSpace(item.DetailText); detail != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(detail)
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Client) SetState(ctx context.Context, repository string, number int, state string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d", repository, number)
	return c.do(ctx, http.MethodPatch, path, map[string]any{"state": state}, nil)
}

func (c *Client) AddComment(ctx context.Context, repository string, number int, text string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repository, number)
	return c.do(ctx, http.MethodPost, path, map[string]any{"body": text}, nil)
}

func (c *Client) SetBody(ctx context.Context, repository string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d", repository, number)
	return c.do(ctx, http.MethodPatch, path, map[string]any{"body": body}, nil)
}

func (c *Client) Lock(ctx context.Context, repository string, number int) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/lock", repository, number)
	return c.do(ctx, http.MethodPut, path, map[string]any{"lock_reason": "resolved"}, nil)
}

// FetchPullRequests lists all pull requests; linkage to work items is
// derived downstream from the head branch name.
func (c *Client) FetchPullRequests(ctx context.Context, repository string) ([]engine.PullRequest, error) {
	var prs []engine.PullRequest
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/pulls?state=all&per_page=100&page=%d", repository, page)
		var batch []wirePull
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, raw := range batch {
			prs = append(prs, engine.PullRequest{
				Number:     raw.Number,
				URL:        raw.HTMLURL,
				Repository: repository,
				State:      raw.State,
				Merged:     raw.MergedAt != nil,
				BranchName: raw.Head.Ref,
				BaseBranch: raw.Base.Ref,
				UpdatedAt:  raw.UpdatedAt.UTC(),
				MergedAt:   raw.MergedAt,
				ClosedAt:   raw.ClosedAt,
			})
		}
		if len(batch) < 100 {
			break
		}
	}
	return prs, nil
}

// CreateBranch resolves the base ref's commit and creates
// refs/heads/<name> from it, returning the branch's web URL.
func (c *Client) CreateBranch(ctx context.Context, repository, name, base string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+repository+"/git/ref/heads/"+base, nil, &ref); err != nil {
		return "", fmt.Errorf("resolve base branch %s: %w", base, err)
	}
	payload := map[string]any{
		"ref": "refs/heads/" + name,
		"sha": ref.Object.SHA,
	}
	if err := c.do(ctx, http.MethodPost, "/repos/"+repository+"/git/refs", payload, nil); err != nil {
		return "", fmt.Errorf("create branch %s: %w", name, err)
	}
	return c.webBaseURL + "/" + repository + "/tree/" + name, nil
}

// CheckWriteAccess verifies the token can push to the repository.
func (c *Client) CheckWriteAccess(ctx context.Context, repository string) error {
	var repo struct {
		Permissions struct {
			Push bool `json:"push"`
		} `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+repository, nil, &repo); err != nil {
		return err
	}
	if !repo.Permissions.Push {
		return fmt.Errorf("token has no write access to %s", repository)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.token == "" {
		return fmt.Errorf("tracker token is required")
	}
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/vnd.github+json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if retryableStatus(resp.StatusCode) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return apiError(resp.StatusCode, respBody)
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func apiError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && strings.TrimSpace(parsed.Message) != "" {
		message = parsed.Message
	}
	return &HTTPError{StatusCode: status, Message: message}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
