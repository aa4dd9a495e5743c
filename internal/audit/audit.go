// Package audit persists the audit record of every completed intake job.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/refset/civic-intake/internal/extraction"
)

// ErrNotFound is returned by Get for unknown job ids.
var ErrNotFound = errors.New("audit record not found")

// Department is the routing outcome recorded for a job.
type Department struct {
	Department  string `json:"department"`
	ServiceCode string `json:"service_code,omitempty"`
	SLAHours    int    `json:"sla_hours,omitempty"`
}

// Record is the immutable summary of one completed job.
type Record struct {
	Timestamp  time.Time         `json:"timestamp"`
	JobID      string            `json:"job_id"`
	Extracted  extraction.Result `json:"extracted"`
	Department Department        `json:"department"`
	Confidence float64           `json:"confidence"`
}

// Store saves and loads audit records. Records are write-once: saving a
// job id that already exists keeps the first record.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Open returns the store for driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		if dsn == "" {
			dsn = "civic-audit.db"
		}
		return OpenSQLite(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres audit store requires a DSN")
		}
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", driver)
	}
}

func validate(rec Record) error {
	if rec.JobID == "" {
		return fmt.Errorf("job id required")
	}
	return nil
}
