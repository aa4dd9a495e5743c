package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/refset/civic-intake/internal/workflow"
)

// Category classifies a pipeline failure for callers.
type Category string

const (
	CategoryInvalidIntake   Category = "invalid_intake"
	CategoryConfigMissing   Category = "config_missing"
	CategoryWorkflowBackend Category = "workflow_backend"
	CategoryJobFailed       Category = "job_failed"
	CategoryTimeout         Category = "timeout"
	CategoryCanceled        Category = "canceled"
	CategoryNotification    Category = "notification"
)

// Error is the structured failure returned by RunPipeline.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf returns the category of err, or "" when err is not a pipeline
// error.
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

func newError(cat Category, msg string, err error) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// workflowError classifies a workflow-stage failure. Failing to obtain a
// workflow id at all is a configuration problem.
func workflowError(stage string, err error) *Error {
	var failed *workflow.JobFailedError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(CategoryCanceled, stage+" canceled", err)
	case errors.Is(err, workflow.ErrNotConfigured):
		return newError(CategoryConfigMissing, "workflow backend not configured", err)
	case errors.As(err, &failed):
		return newError(CategoryJobFailed, "workflow job failed", err)
	case errors.Is(err, workflow.ErrJobTimeout):
		return newError(CategoryTimeout, "timed out waiting for workflow job", err)
	case stage == "workflow setup":
		return newError(CategoryConfigMissing, "workflow unavailable", err)
	default:
		return newError(CategoryWorkflowBackend, stage+" failed", err)
	}
}
