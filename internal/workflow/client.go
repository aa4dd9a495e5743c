package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a REST client for the workflow automation backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authHeader string
}

// NewClient creates a new workflow backend client. An empty apiKey leaves
// the client unconfigured; every call then fails with ErrNotConfigured.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	if apiKey != "" {
		c.authHeader = "Bearer " + apiKey
	}
	return c
}

// Configured reports whether a credential is set.
func (c *Client) Configured() bool { return c.authHeader != "" }

type createWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
}

type createJobRequest struct {
	Input any `json:"input"`
}

type createJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status,omitempty"`
}

type jobStatusResponse struct {
	Status string  `json:"status"`
	Error  *string `json:"error"`
}

type auditResponse struct {
	JobExecutionID string          `json:"jobExecutionId"`
	AuditTrail     json.RawMessage `json:"auditTrail"`
}

// CreateWorkflow registers def and returns its id.
func (c *Client) CreateWorkflow(ctx context.Context, def Definition) (string, error) {
	var resp createWorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/workflows", def, &resp); err != nil {
		return "", err
	}
	if resp.WorkflowID == "" {
		return "", fmt.Errorf("%w: create workflow returned no workflow_id", ErrMalformedResponse)
	}
	return resp.WorkflowID, nil
}

// CreateJob starts one execution of workflowID with input.
func (c *Client) CreateJob(ctx context.Context, workflowID string, input any) (string, error) {
	var resp createJobResponse
	path := "/workflows/" + url.PathEscape(workflowID) + "/jobs"
	if err := c.do(ctx, http.MethodPost, path, createJobRequest{Input: input}, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: create job returned no job_id", ErrMalformedResponse)
	}
	return resp.JobID, nil
}

// GetJobStatus queries the status of jobID.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (JobState, error) {
	var resp jobStatusResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/status", nil, &resp); err != nil {
		return JobState{}, err
	}
	status, err := ParseStatus(resp.Status)
	if err != nil {
		return JobState{}, err
	}
	st := JobState{Status: status}
	if resp.Error != nil {
		st.Error = *resp.Error
	}
	return st, nil
}

// GetJobAudit fetches the audit trail of a finished job.
func (c *Client) GetJobAudit(ctx context.Context, jobID string) (*Audit, error) {
	var resp auditResponse
	if err := c.do(ctx, http.MethodGet, "/job/"+url.PathEscape(jobID)+"/audit", nil, &resp); err != nil {
		return nil, err
	}
	return parseAudit(resp.JobExecutionID, resp.AuditTrail)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body from %s", ErrMalformedResponse, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workflow API error %d: %s", e.StatusCode, e.Body)
}
