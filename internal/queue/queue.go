// Package queue is a bounded job queue drained by a fixed worker pool.
package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotStarted = errors.New("queue not started")
	ErrFull       = errors.New("queue full")
	ErrStopped    = errors.New("queue stopped")
)

// Job is one unit of work.
type Job struct {
	ID       string
	Source   string
	Work     func(context.Context) error
	OnFinish func(error)
}

// Stats is a snapshot of queue state.
type Stats struct {
	Length    int    `json:"length"`
	Capacity  int    `json:"capacity"`
	Workers   int    `json:"workers"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Queue runs jobs with a per-job timeout.
type Queue struct {
	jobs    chan Job
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	processed atomic.Uint64
	failed    atomic.Uint64
}

func New(capacity, workers int, timeout time.Duration) *Queue {
	return &Queue{
		jobs:    make(chan Job, capacity),
		workers: workers,
		timeout: timeout,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue adds j without blocking.
func (q *Queue) Enqueue(j Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	switch {
	case !q.started:
		return ErrNotStarted
	case q.stopped:
		return ErrStopped
	}
	select {
	case q.jobs <- j:
		return nil
	default:
		log.Printf("Warning: job queue full, dropping %s job %s", j.Source, j.ID)
		return ErrFull
	}
}

// Stop rejects new jobs and waits for queued ones to drain or ctx to end.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Length:    len(q.jobs),
		Capacity:  cap(q.jobs),
		Workers:   q.workers,
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, j)
		}
	}
}

func (q *Queue) run(ctx context.Context, j Job) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s panic recovered: %v", j.ID, r)
			q.failed.Add(1)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	err = j.Work(jobCtx)
	cancel()
	q.processed.Add(1)
	if err != nil {
		q.failed.Add(1)
	}
	if j.OnFinish != nil {
		j.OnFinish(err)
	}
	status := "ok"
	if err != nil {
		status = err.Error()
	}
	log.Printf("Job %s/%s finished in %dms: %s", j.Source, j.ID, time.Since(start).Milliseconds(), status)
}
