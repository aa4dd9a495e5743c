// Package metrics keeps in-process pipeline counters.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Counters tracks pipeline outcomes.
type Counters struct {
	succeeded atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	byError  map[string]int64
	degraded map[string]int64
}

func New() *Counters {
	return &Counters{byError: map[string]int64{}, degraded: map[string]int64{}}
}

func (c *Counters) IncSucceeded() { c.succeeded.Add(1) }

// IncFailed counts a run that ended with an error of category.
func (c *Counters) IncFailed(category string) {
	c.failed.Add(1)
	c.mu.Lock()
	c.byError[category]++
	c.mu.Unlock()
}

// IncDegraded counts a stage that fell back to its default.
func (c *Counters) IncDegraded(stage string) {
	c.mu.Lock()
	c.degraded[stage]++
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Succeeded int64            `json:"runs_succeeded"`
	Failed    int64            `json:"runs_failed"`
	Errors    map[string]int64 `json:"errors_by_category"`
	Degraded  map[string]int64 `json:"degraded_stages"`
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Errors:    make(map[string]int64, len(c.byError)),
		Degraded:  make(map[string]int64, len(c.degraded)),
	}
	for k, v := range c.byError {
		s.Errors[k] = v
	}
	for k, v := range c.degraded {
		s.Degraded[k] = v
	}
	return s
}
