package workflow

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Backend is the workflow automation service.
type Backend interface {
	Configured() bool
	CreateWorkflow(ctx context.Context, def Definition) (string, error)
	CreateJob(ctx context.Context, workflowID string, input any) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (JobState, error)
	GetJobAudit(ctx context.Context, jobID string) (*Audit, error)
}

// Orchestrator registers the intake workflow, launches jobs and waits for
// them to finish.
type Orchestrator struct {
	backend    Backend
	appBaseURL string

	mu         sync.Mutex
	workflowID string

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewOrchestrator creates an orchestrator. A non-empty workflowID is used
// as-is and no definition is created.
func NewOrchestrator(backend Backend, workflowID, appBaseURL string) *Orchestrator {
	return &Orchestrator{
		backend:    backend,
		appBaseURL: appBaseURL,
		workflowID: workflowID,
		now:        time.Now,
		after:      time.After,
	}
}

// Configured reports whether the backend has credentials.
func (o *Orchestrator) Configured() bool {
	return o.backend != nil && o.backend.Configured()
}

// CreateWorkflowDefinition registers the seven-stage intake workflow and
// returns its id.
func (o *Orchestrator) CreateWorkflowDefinition(ctx context.Context) (string, error) {
	if !o.Configured() {
		return "", ErrNotConfigured
	}
	id, err := o.backend.CreateWorkflow(ctx, CivicIntakeDefinition(o.appBaseURL))
	if err != nil {
		return "", fmt.Errorf("failed to create workflow: %w", err)
	}
	log.Printf("Created workflow %s", id)
	return id, nil
}

// WorkflowID returns the configured workflow id, creating and caching a
// definition on first use.
func (o *Orchestrator) WorkflowID(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.workflowID != "" {
		return o.workflowID, nil
	}
	id, err := o.CreateWorkflowDefinition(ctx)
	if err != nil {
		return "", err
	}
	o.workflowID = id
	return id, nil
}

// LaunchJob starts one job of workflowID with inputs.
func (o *Orchestrator) LaunchJob(ctx context.Context, workflowID string, inputs any) (JobHandle, error) {
	if !o.Configured() {
		return JobHandle{}, ErrNotConfigured
	}
	id, err := o.backend.CreateJob(ctx, workflowID, inputs)
	if err != nil {
		return JobHandle{}, fmt.Errorf("failed to launch job: %w", err)
	}
	return JobHandle{JobID: id, Status: StatusQueued}, nil
}

// PollUntilTerminal checks jobID until it completes or fails. A completed job
// returns its audit trail immediately. It gives up with ErrJobTimeout once
// maxWait has elapsed, sleeping at most interval between checks and never
// past the deadline.
func (o *Orchestrator) PollUntilTerminal(ctx context.Context, jobID string, maxWait, interval time.Duration) (*Audit, error) {
	if !o.Configured() {
		return nil, ErrNotConfigured
	}
	if interval <= 0 {
		interval = time.Second
	}

	start := o.now()
	checks := 0
	for {
		st, err := o.backend.GetJobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to get status of job %s: %w", jobID, err)
		}
		checks++

		switch st.Status {
		case StatusCompleted:
			audit, err := o.backend.GetJobAudit(ctx, jobID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch audit of job %s: %w", jobID, err)
			}
			return audit, nil
		case StatusFailed:
			return nil, &JobFailedError{JobID: jobID, Reason: st.Error}
		}

		elapsed := o.now().Sub(start)
		if elapsed >= maxWait {
			return nil, fmt.Errorf("%w: job %s still %s after %s (%d checks)", ErrJobTimeout, jobID, st.Status, elapsed.Round(time.Millisecond), checks)
		}
		wait := interval
		if remaining := maxWait - elapsed; remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.after(wait):
		}
	}
}
