// Package ledger talks to the Ledger's database API. Records arrive as
// untyped property bags; the adapter in this package is the only place that
// knows the external field names.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

// AccessTokenProvider supplies the bearer token for each request. Tokens
// may rotate between calls.
type AccessTokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token as a provider.
func StaticToken(token string) AccessTokenProvider {
	return func(ctx context.Context) (string, error) { return token, nil }
}

// HTTPError reports a non-retryable API failure with whatever structured
// detail the response carried.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger api error: status=%d message=%s", e.StatusCode, e.Message)
}

type ClientOptions struct {
	BaseURL       string
	DatabaseID    string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	APIVersion    string
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Logger        engine.Logger
}

// Client implements engine.LedgerStore against the HTTP API.
type Client struct {
	baseURL       string
	databaseID    string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	apiVersion    string
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	logger        engine.Logger
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
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
		baseURL:       baseURL,
		databaseID:    strings.TrimSpace(opts.DatabaseID),
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		apiVersion:    apiVersion,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		logger:        opts.Logger,
	}
}

type queryResponse struct {
	Results    []map[string]any `json:"results"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor"`
}

// FetchAll pages through the configured database and adapts every record.
func (c *Client) FetchAll(ctx context.Context) ([]engine.WorkItem, error) {
	if c.databaseID == "" {
		return nil, fmt.Errorf("ledger database id is required")
	}
	var items []engine.WorkItem
	cursor := ""
	for {
		payload := map[string]any{"page_size": 100}
		if cursor != "" {
			payload["start_cursor"] = cursor
		}
		var page queryResponse
		if err := c.do(ctx, http.MethodPost, "/v1/databases/"+c.databaseID+"/query", payload, &page); err != nil {
			return nil, err
		}
		for _, record := range page.Results {
			items = append(items, ParseItem(record))
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return items, nil
}

func (c *Client) UpdateStatus(ctx context.Context, storageID, status string) error {
	return c.UpdateProperties(ctx, storageID, engine.ItemPatch{Status: &status})
}

func (c *Client) UpdateLink(ctx context.Context, storageID, url string) error {
	return c.UpdateProperties(ctx, storageID, engine.ItemPatch{IssueLink: &url})
}

// UpdateProperties patches only the fields set on the patch; the record's
// other properties are untouched.
func (c *Client) UpdateProperties(ctx context.Context, storageID string, patch engine.ItemPatch) error {
	if strings.TrimSpace(storageID) == "" {
		return fmt.Errorf("ledger record id is required")
	}
	properties := patchProperties(patch)
	if len(properties) == 0 {
		return nil
	}
	payload := map[string]any{"properties": properties}
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+storageID, payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.tokenProvider == nil {
		return fmt.Errorf("ledger token provider is required")
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("ledger token is empty")
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Notion-Version", c.apiVersion)
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
			if out == nil {
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
	apiErr := &HTTPError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			apiErr.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			apiErr.Message = message
		}
	}
	return apiErr
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
