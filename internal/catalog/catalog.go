// Package catalog holds the department service records and finds the one
// closest to a resident's issue by vector similarity.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/refset/civic-intake/internal/embedding"
)

// ServiceRecord is one department service in the catalog.
type ServiceRecord struct {
	ID                 uint64   `json:"id"`
	Department         string   `json:"department"`
	ServiceCode        string   `json:"service_code"`
	SLAHours           int      `json:"sla_hours"`
	SupportedLanguages []string `json:"languages"`
	Description        string   `json:"description,omitempty"`
}

// Supports reports whether lang is one of the record's languages.
func (r ServiceRecord) Supports(lang string) bool {
	for _, l := range r.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// GeneralServices is the department used when routing finds no match.
const GeneralServices = "General Services"

// Point is a catalog record with its embedding, as stored in the vector
// store.
type Point struct {
	Record ServiceRecord
	Vector []float32
	Mode   embedding.Mode
}

// Match is a search hit.
type Match struct {
	Record ServiceRecord
	Mode   embedding.Mode
	Score  float32
}

// VectorStore is the similarity-search backend.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Count(ctx context.Context, name string) (uint64, error)
	Upsert(ctx context.Context, name string, points []Point) error
	Search(ctx context.Context, name string, vector []float32, limit int) ([]Match, error)
}

// Embedder produces mode-tagged vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) embedding.Vector
	Dimension() int
}

var ErrNotConfigured = errors.New("vector store not configured")

const probeText = "dimension probe"

// Index is the lazily initialized service catalog. It is safe for
// concurrent use.
type Index struct {
	store      VectorStore
	embedder   Embedder
	collection string
	seed       []Seed

	mu          sync.Mutex
	initialized bool
	mode        embedding.Mode
	dimension   int
}

// NewIndex creates an index over store. A nil store makes every lookup miss.
func NewIndex(store VectorStore, embedder Embedder, collection string, seed []Seed) *Index {
	if seed == nil {
		seed = DefaultSeed()
	}
	return &Index{
		store:      store,
		embedder:   embedder,
		collection: collection,
		seed:       seed,
	}
}

// EnsureInitialized creates the collection and loads the seed catalog on
// first use. Later calls return immediately. A failed attempt is retried on
// the next call.
func (x *Index) EnsureInitialized(ctx context.Context) error {
	if x.store == nil {
		return ErrNotConfigured
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.initialized {
		return nil
	}

	probe := x.embedder.Embed(ctx, probeText)
	if probe.Dim() == 0 {
		return errors.New("embedding probe returned an empty vector")
	}
	if err := x.store.EnsureCollection(ctx, x.collection, probe.Dim()); err != nil {
		return fmt.Errorf("ensure collection %s: %w", x.collection, err)
	}

	count, err := x.store.Count(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("count %s: %w", x.collection, err)
	}
	if count < uint64(len(x.seed)) {
		points := make([]Point, 0, len(x.seed))
		for _, s := range x.seed {
			v := x.embedder.Embed(ctx, s.Text)
			if v.Mode != probe.Mode || v.Dim() != probe.Dim() {
				return fmt.Errorf("seed %s embedded as %s/%d, probe was %s/%d", s.Record.ServiceCode, v.Mode, v.Dim(), probe.Mode, probe.Dim())
			}
			points = append(points, Point{Record: s.Record, Vector: v.Values, Mode: v.Mode})
		}
		if err := x.store.Upsert(ctx, x.collection, points); err != nil {
			return fmt.Errorf("load seed catalog: %w", err)
		}
		log.Printf("Loaded %d services into %s (%s embeddings, dim %d)", len(points), x.collection, probe.Mode, probe.Dim())
	}

	x.mode = probe.Mode
	x.dimension = probe.Dim()
	x.initialized = true
	return nil
}

// FindBestMatch returns the closest service record to query, or nil when the
// catalog is empty, unreachable or was built with a different embedding mode.
// limit is clamped to at least 1.
func (x *Index) FindBestMatch(ctx context.Context, query string, limit int) *ServiceRecord {
	if x.store == nil {
		return nil
	}
	if limit < 1 {
		limit = 1
	}
	x.mu.Lock()
	initialized, mode, dim := x.initialized, x.mode, x.dimension
	x.mu.Unlock()

	q := x.embedder.Embed(ctx, query)
	if initialized && (q.Mode != mode || q.Dim() != dim) {
		if mode != embedding.ModeHash {
			log.Printf("Warning: query embedded as %s but catalog uses %s, skipping routing", q.Mode, mode)
			return nil
		}
		q = embedding.HashEmbed(query, dim)
	}

	matches, err := x.store.Search(ctx, x.collection, q.Values, limit)
	if err != nil {
		log.Printf("Warning: catalog search failed: %v", err)
		return nil
	}
	for _, m := range matches {
		if m.Mode != "" && m.Mode != q.Mode {
			continue
		}
		rec := m.Record
		return &rec
	}
	return nil
}

// Department returns the department name of rec, or GeneralServices when rec
// is nil.
func Department(rec *ServiceRecord) string {
	if rec == nil || rec.Department == "" {
		return GeneralServices
	}
	return rec.Department
}
