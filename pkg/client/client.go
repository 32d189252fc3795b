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
	"time"

	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// Client is an HTTP client for the hazard worker
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// RunStatus mirrors the worker's run status response
type RunStatus struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Workflow  string    `json:"workflow"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a new pipeline client. Synchronous runs call two model
// services, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Process runs the hazard workflow synchronously on the worker
func (c *Client) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResponse, error) {
	var resp pipeline.ProcessResponse
	if err := c.do(ctx, http.MethodPost, "/v1/process", req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessAsync enqueues the hazard workflow and returns its run ID
func (c *Client) ProcessAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	var resp pipeline.ProcessResponse
	if err := c.do(ctx, http.MethodPost, "/v1/process/async", req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Status fetches the state of an enqueued run
func (c *Client) Status(ctx context.Context, runID string) (*RunStatus, error) {
	var status RunStatus
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Runs lists the most recent queued runs of the hazard job, newest first
func (c *Client) Runs(ctx context.Context, limit int) ([]RunStatus, error) {
	query := url.Values{"job": {pipeline.JobHazardAssessment}, "limit": {strconv.Itoa(limit)}}
	var resp struct {
		Runs []RunStatus `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs?"+query.Encode(), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Upload stores a source image on the worker. The returned key is the one to
// process.
func (c *Client) Upload(ctx context.Context, bucket, key string, r io.Reader, contentType string) (*pipeline.UploadResponse, error) {
	query := url.Values{"bucket": {bucket}, "key": {key}}
	var resp pipeline.UploadResponse
	if err := c.send(ctx, http.MethodPost, "/v1/content?"+query.Encode(), r, contentType, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, wantStatus int, out interface{}) error {
	if in == nil {
		return c.send(ctx, method, path, nil, "", wantStatus, out)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.send(ctx, method, path, bytes.NewReader(data), "application/json", wantStatus, out)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, wantStatus int, out interface{}) error {
	// Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	// Execute request
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != wantStatus {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	// Parse response
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
