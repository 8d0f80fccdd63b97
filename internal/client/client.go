// Package client is a Go client for the pacer HTTP API
package client

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

	"github.com/foxzi/pacer/internal/api"
	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
)

// Error is a non-2xx API response
type Error struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	if len(e.Fields) == 0 {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}

	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return fmt.Sprintf("API error (%d): %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
}

// Client is a pacer API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new pacer API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// request performs an HTTP request to the pacer API
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Error
			apiErr.Fields = errResp.Fields
		}
		return apiErr
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Health checks server health
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.request(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start starts a campaign. A nil request starts the server's default
// campaign.
func (c *Client) Start(ctx context.Context, req *api.StartRequest) (*api.ProgressResponse, error) {
	var body any
	if req != nil {
		body = req
	}

	var resp api.ProgressResponse
	if err := c.request(ctx, http.MethodPost, "/api/v1/campaign/start", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop stops the active campaign
func (c *Client) Stop(ctx context.Context) (*api.ProgressResponse, error) {
	return c.action(ctx, "stop")
}

// Pause pauses the active campaign
func (c *Client) Pause(ctx context.Context) (*api.ProgressResponse, error) {
	return c.action(ctx, "pause")
}

// Resume resumes a paused campaign
func (c *Client) Resume(ctx context.Context) (*api.ProgressResponse, error) {
	return c.action(ctx, "resume")
}

// Skip skips the recipient whose send is pending
func (c *Client) Skip(ctx context.Context) (*api.ProgressResponse, error) {
	return c.action(ctx, "skip")
}

func (c *Client) action(ctx context.Context, name string) (*api.ProgressResponse, error) {
	var resp api.ProgressResponse
	if err := c.request(ctx, http.MethodPost, "/api/v1/campaign/"+name, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Progress gets the controller state
func (c *Client) Progress(ctx context.Context) (*api.ProgressResponse, error) {
	var resp api.ProgressResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/campaign", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Log gets the campaign log, newest first. limit <= 0 returns everything.
func (c *Client) Log(ctx context.Context, limit int) (*api.LogResponse, error) {
	path := "/api/v1/campaign/log"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp api.LogResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkDelivery sets the delivery status of the log entry at index
// (newest first)
func (c *Client) MarkDelivery(ctx context.Context, index int, status campaign.DeliveryStatus) error {
	path := "/api/v1/campaign/log/" + strconv.Itoa(index)
	return c.request(ctx, http.MethodPatch, path, api.MarkRequest{DeliveryStatus: string(status)}, nil)
}

// ListRuns lists archived runs
func (c *Client) ListRuns(ctx context.Context, status campaign.Status, limit, offset int) (*api.RunsResponse, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", string(status))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	path := "/api/v1/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp api.RunsResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun gets an archived run with its log
func (c *Client) GetRun(ctx context.Context, id string) (*archive.Run, error) {
	var resp archive.Run
	if err := c.request(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteRun deletes an archived run
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/runs/"+url.PathEscape(id), nil, nil)
}
