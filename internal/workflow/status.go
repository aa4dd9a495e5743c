package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// JobStatus is the lifecycle state reported by the backend.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus maps a backend status string. Unknown non-empty values are
// treated as still running.
func ParseStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	case "":
		return "", fmt.Errorf("%w: job status missing", ErrMalformedResponse)
	default:
		return StatusRunning, nil
	}
}

// JobState is one status observation.
type JobState struct {
	Status JobStatus
	Error  string
}

// JobHandle identifies a launched job.
type JobHandle struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

var (
	// ErrNotConfigured is returned when no backend credential is set.
	ErrNotConfigured = errors.New("workflow backend not configured")
	// ErrJobTimeout is returned when a job stays non-terminal past the wait budget.
	ErrJobTimeout = errors.New("workflow job timeout")
	// ErrMalformedResponse is returned for 2xx responses missing required fields.
	ErrMalformedResponse = errors.New("malformed workflow response")
)

// JobFailedError carries the backend-reported failure reason.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}
