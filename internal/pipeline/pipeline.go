// Package pipeline runs one resident intake from extraction to a localized
// confirmation.
package pipeline

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/refset/civic-intake/internal/audit"
	"github.com/refset/civic-intake/internal/catalog"
	"github.com/refset/civic-intake/internal/extraction"
	"github.com/refset/civic-intake/internal/metrics"
	"github.com/refset/civic-intake/internal/workflow"
)

// Degraded stage names recorded on Result.
const (
	StageExtraction   = "extraction"
	StageCatalogInit  = "catalog_init"
	StageRouting      = "routing"
	StageAuditStore   = "audit_store"
	StageAuditPublish = "audit_publish"
)

type Extractor interface {
	Extract(ctx context.Context, p extraction.Payload) (extraction.Result, bool)
}

type Router interface {
	EnsureInitialized(ctx context.Context) error
	FindBestMatch(ctx context.Context, query string, limit int) *catalog.ServiceRecord
}

type Orchestrator interface {
	WorkflowID(ctx context.Context) (string, error)
	LaunchJob(ctx context.Context, workflowID string, inputs any) (workflow.JobHandle, error)
	PollUntilTerminal(ctx context.Context, jobID string, maxWait, interval time.Duration) (*workflow.Audit, error)
}

type Notifier interface {
	Compose(ctx context.Context, department, jobID, lang string) (string, error)
}

type AuditSaver interface {
	Save(ctx context.Context, rec audit.Record) error
}

type AuditPublisher interface {
	PublishAudit(ctx context.Context, rec audit.Record) error
}

// Deps are the collaborators of a Controller. Audit, Publisher and Metrics
// are optional.
type Deps struct {
	Extractor    Extractor
	Router       Router
	Orchestrator Orchestrator
	Notifier     Notifier
	Audit        AuditSaver
	Publisher    AuditPublisher
	Metrics      *metrics.Counters

	MaxWait      time.Duration
	PollInterval time.Duration
}

// AuditRecord is the summary of a completed job.
type AuditRecord = audit.Record

// Result is the outcome of a successful run.
type Result struct {
	JobID    string      `json:"job_id"`
	Audit    AuditRecord `json:"audit"`
	Message  string      `json:"message"`
	Degraded []string    `json:"degraded,omitempty"`
}

// Controller sequences the intake stages.
type Controller struct {
	deps Deps
	now  func() time.Time
}

func NewController(deps Deps) *Controller {
	if deps.MaxWait <= 0 {
		deps.MaxWait = 30 * time.Second
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = time.Second
	}
	return &Controller{deps: deps, now: time.Now}
}

// RunPipeline processes one intake. Degradable stages fall back to defaults
// and are listed in Result.Degraded. Workflow failures return a *Error and no
// audit record is written. A notification failure returns the Result together
// with a CategoryNotification error.
func (c *Controller) RunPipeline(ctx context.Context, kind, content, lang string) (*Result, error) {
	res, err := c.run(ctx, kind, content, lang)
	if c.deps.Metrics != nil {
		if err != nil {
			c.deps.Metrics.IncFailed(string(CategoryOf(err)))
		} else {
			c.deps.Metrics.IncSucceeded()
		}
		if res != nil {
			for _, stage := range res.Degraded {
				c.deps.Metrics.IncDegraded(stage)
			}
		}
	}
	return res, err
}

func (c *Controller) run(ctx context.Context, kind, content, lang string) (*Result, error) {
	k, err := extraction.ParseKind(kind)
	if err != nil {
		return nil, newError(CategoryInvalidIntake, "invalid intake", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, newError(CategoryInvalidIntake, "missing intake content", nil)
	}
	if lang == "" {
		lang = "en"
	}

	res := &Result{}

	extracted, ok := c.deps.Extractor.Extract(ctx, extraction.Payload{Kind: k, Content: content, Language: lang})
	if !ok {
		res.degrade(StageExtraction)
	}

	c.attempt(res, StageCatalogInit, func() error { return c.deps.Router.EnsureInitialized(ctx) })
	service := c.deps.Router.FindBestMatch(ctx, extracted.IssueType, 1)
	if service == nil {
		res.degrade(StageRouting)
	}

	workflowID, err := c.deps.Orchestrator.WorkflowID(ctx)
	if err != nil {
		return nil, workflowError("workflow setup", err)
	}
	submitted := c.now()
	handle, err := c.deps.Orchestrator.LaunchJob(ctx, workflowID, jobInput(submitted, k, lang, extracted, service))
	if err != nil {
		return nil, workflowError("job launch", err)
	}
	res.JobID = handle.JobID
	log.Printf("Launched job %s on workflow %s", handle.JobID, workflowID)

	trail, err := c.deps.Orchestrator.PollUntilTerminal(ctx, handle.JobID, c.deps.MaxWait, c.deps.PollInterval)
	if err != nil {
		return nil, workflowError("job polling", err)
	}

	res.Audit = buildRecord(submitted, handle.JobID, extracted, service, trail)
	if c.deps.Audit != nil {
		c.attempt(res, StageAuditStore, func() error { return c.deps.Audit.Save(ctx, res.Audit) })
	}
	if c.deps.Publisher != nil {
		c.attempt(res, StageAuditPublish, func() error { return c.deps.Publisher.PublishAudit(ctx, res.Audit) })
	}

	msg, err := c.deps.Notifier.Compose(ctx, res.Audit.Department.Department, handle.JobID, lang)
	if err != nil {
		return res, newError(CategoryNotification, "could not notify resident", err)
	}
	res.Message = msg
	return res, nil
}

// attempt runs an optional stage. A failure is logged and recorded as
// degraded; the run continues.
func (c *Controller) attempt(res *Result, stage string, fn func() error) {
	if err := fn(); err != nil {
		log.Printf("Warning: %s failed, continuing with defaults: %v", stage, err)
		res.degrade(stage)
	}
}

func (r *Result) degrade(stage string) {
	r.Degraded = append(r.Degraded, stage)
}

func jobInput(ts time.Time, kind extraction.Kind, lang string, extracted extraction.Result, service *catalog.ServiceRecord) map[string]any {
	return map[string]any{
		"timestamp":  ts.UTC().Format(time.RFC3339Nano),
		"intake":     map[string]any{"type": kind, "language": lang},
		"extraction": extracted,
		"service":    service,
	}
}

func buildRecord(ts time.Time, jobID string, extracted extraction.Result, service *catalog.ServiceRecord, trail *workflow.Audit) AuditRecord {
	rec := AuditRecord{
		Timestamp:  ts.UTC(),
		JobID:      jobID,
		Extracted:  extracted,
		Department: audit.Department{Department: catalog.Department(service)},
		Confidence: extracted.Confidence,
	}
	if service != nil {
		rec.Department.ServiceCode = service.ServiceCode
		rec.Department.SLAHours = service.SLAHours
	}
	if trail == nil {
		return rec
	}
	if d := trail.Department; d != nil {
		rec.Department = audit.Department{Department: d.Department, ServiceCode: d.ServiceCode, SLAHours: d.SLAHours}
	}
	if trail.Confidence != nil {
		rec.Confidence = *trail.Confidence
	}
	return rec
}
