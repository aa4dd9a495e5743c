// Package app wires the intake components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/refset/civic-intake/internal/audit"
	"github.com/refset/civic-intake/internal/catalog"
	"github.com/refset/civic-intake/internal/config"
	"github.com/refset/civic-intake/internal/embedding"
	"github.com/refset/civic-intake/internal/extraction"
	"github.com/refset/civic-intake/internal/httpapi"
	"github.com/refset/civic-intake/internal/inbox"
	"github.com/refset/civic-intake/internal/kafka"
	"github.com/refset/civic-intake/internal/metrics"
	"github.com/refset/civic-intake/internal/notify"
	"github.com/refset/civic-intake/internal/ollama"
	"github.com/refset/civic-intake/internal/pipeline"
	"github.com/refset/civic-intake/internal/qdrant"
	"github.com/refset/civic-intake/internal/queue"
	"github.com/refset/civic-intake/internal/workflow"
)

// App holds the components built from one configuration.
type App struct {
	cfg *config.Config

	Extraction   *extraction.Service
	Catalog      *catalog.Index
	Orchestrator *workflow.Orchestrator
	Composer     *notify.Composer
	Audit        audit.Store
	Metrics      *metrics.Counters
	Controller   *pipeline.Controller

	closers []func() error
}

// New builds every component. Backends without configuration are left out
// and the pipeline degrades around them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, Metrics: metrics.New()}

	var (
		gen     extraction.Generator
		backend embedding.Backend
	)
	if cfg.AI.BaseURL != "" {
		client, err := ollama.NewClient(cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.TranslateModel, cfg.AI.EmbedModel, cfg.AI.Timeout)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			log.Printf("Warning: Ollama at %s not reachable: %v", cfg.AI.BaseURL, err)
		}
		gen, backend = client, client
	}
	a.Extraction = extraction.NewService(gen)

	var store catalog.VectorStore
	if cfg.Qdrant.Host != "" {
		qs, err := qdrant.Dial(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, qs.Close)
		store = qs
	}
	a.Catalog = catalog.NewIndex(store, embedding.NewProvider(backend, cfg.Embedding.Dimension), cfg.Qdrant.Collection, nil)

	wfClient := workflow.NewClient(cfg.Workflow.BaseURL, cfg.Workflow.APIKey, 30*time.Second)
	a.Orchestrator = workflow.NewOrchestrator(wfClient, cfg.Workflow.WorkflowID, cfg.Workflow.AppBaseURL)
	a.Composer = notify.NewComposer(a.Extraction)

	st, err := audit.Open(ctx, cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Audit = st
	a.closers = append(a.closers, st.Close)

	deps := pipeline.Deps{
		Extractor:    a.Extraction,
		Router:       a.Catalog,
		Orchestrator: a.Orchestrator,
		Notifier:     a.Composer,
		Audit:        st,
		Metrics:      a.Metrics,
		MaxWait:      cfg.Workflow.MaxWait,
		PollInterval: cfg.Workflow.PollInterval,
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		a.closers = append(a.closers, producer.Close)
		deps.Publisher = producer
	}
	a.Controller = pipeline.NewController(deps)

	log.Printf("Civic intake configured")
	log.Printf("  AI backend: %s", orNone(cfg.AI.BaseURL))
	log.Printf("  Qdrant: %s", orNone(cfg.Qdrant.Host))
	log.Printf("  Workflow: %s (configured: %v)", cfg.Workflow.BaseURL, a.Orchestrator.Configured())
	log.Printf("  Kafka: %v", cfg.Kafka.Brokers)
	log.Printf("  Audit store: %s", cfg.Audit.Driver)
	return a, nil
}

// Close releases backend connections in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Serve runs the HTTP API and, when an inbox directory is configured, the
// drop-folder watcher until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	handler := httpapi.NewHandler(a.Controller, a.Catalog, a.Audit, a.Composer, a.Metrics)
	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: handler.Router()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP listening on %s", a.cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Inbox.Dir != "" {
		q := queue.New(a.cfg.Inbox.QueueSize, a.cfg.Inbox.Workers, a.cfg.Inbox.JobTimeout)
		q.Start(gctx)
		w := inbox.New(a.cfg.Inbox.Dir, a.cfg.Inbox.Language, a.Controller, q)
		g.Go(func() error {
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Inbox.JobTimeout)
				defer cancel()
				q.Stop(stopCtx)
			}()
			return w.Run(gctx)
		})
	}

	return g.Wait()
}

func orNone(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
