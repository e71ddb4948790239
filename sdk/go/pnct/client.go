// Package pnct is a small HTTP client for the pnctd query API.
package pnct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Synchronous queries can take several minutes, so it is generous.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with the pnctd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ToolError describes why a tool call failed.
type ToolError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ToolResult is the outcome of one tool call made while answering a query.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Name    string          `json:"name"`
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ToolError      `json:"error,omitempty"`
}

// Result is the final answer to a query.
type Result struct {
	QueryID     string       `json:"query_id"`
	ContainerID string       `json:"container_id,omitempty"`
	Answer      string       `json:"answer"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Status      string       `json:"status"`
	Incomplete  bool         `json:"incomplete,omitempty"`
	TimedOut    bool         `json:"timed_out,omitempty"`
	Rounds      int          `json:"rounds"`
	ErrorCode   string       `json:"error_code,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Query is the submitted question.
type Query struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Record is the stored view of a query, with its result once finished.
type Record struct {
	Query     Query   `json:"query"`
	Status    string  `json:"status"`
	Result    *Result `json:"result,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	LastError string  `json:"last_error,omitempty"`
	Published bool    `json:"published"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// Done reports whether the query has a final result.
func (r Record) Done() bool { return r.Result != nil }

// Stats aggregates stored queries.
type Stats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	TimedOut    int `json:"timed_out"`
	Incomplete  int `json:"incomplete"`
	Unpublished int `json:"unpublished"`
}

// ListFilter narrows ListQueries and Stats. Zero values are ignored.
type ListFilter struct {
	Statuses    []string
	ContainerID string
	Query       string
	Limit       int
	Offset      int
	Ascending   bool
}

func (f ListFilter) values() url.Values {
	v := url.Values{}
	if len(f.Statuses) > 0 {
		v.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.ContainerID != "" {
		v.Set("container_id", f.ContainerID)
	}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Ascending {
		v.Set("order", "asc")
	}
	return v
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("pnct api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("pnct api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the pnctd API. When httpClient is nil a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

type submission struct {
	ID    string `json:"id,omitempty"`
	Query string `json:"query"`
}

// Ask submits a question and blocks until the server returns the answer.
// Resubmitting the same id returns the stored result.
func (c *Client) Ask(ctx context.Context, id, question string) (Result, error) {
	var res Result
	if err := c.post(ctx, "/api/v1/queries", nil, submission{ID: id, Query: question}, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Submit starts a question in the background and returns its record.
func (c *Client) Submit(ctx context.Context, id, question string) (Record, error) {
	var rec Record
	params := url.Values{"async": []string{"true"}}
	if err := c.post(ctx, "/api/v1/queries", params, submission{ID: id, Query: question}, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetQuery fetches a stored query by id.
func (c *Client) GetQuery(ctx context.Context, id string) (Record, error) {
	var rec Record
	if err := c.get(ctx, "/api/v1/queries/"+url.PathEscape(id), nil, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListQueries returns stored queries matching the filter.
func (c *Client) ListQueries(ctx context.Context, filter ListFilter) ([]Record, error) {
	var out []Record
	if err := c.get(ctx, "/api/v1/queries", filter.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns aggregate counters for queries matching the filter.
func (c *Client) Stats(ctx context.Context, filter ListFilter) (Stats, error) {
	var out Stats
	if err := c.get(ctx, "/api/v1/queries/stats", filter.values(), &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// WaitForResult polls GetQuery until the query has a result or ctx ends.
func (c *Client) WaitForResult(ctx context.Context, id string, interval time.Duration) (Result, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := c.GetQuery(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if rec.Done() {
			return *rec.Result, nil
		}
		if rec.Status == "failed" {
			return Result{}, &APIError{StatusCode: http.StatusOK, Code: rec.ErrorCode, Message: rec.LastError}
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, params url.Values, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, params, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, params url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
