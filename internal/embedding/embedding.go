// Package embedding turns free text into fixed-length vectors, either through
// an embedding model or through a deterministic content hash when no model is
// reachable.
package embedding

import (
	"context"
	"log"
	"math"
)

// Mode records which path produced a vector. Vectors of different modes are
// not comparable.
type Mode string

const (
	ModeModel Mode = "model"
	ModeHash  Mode = "hash"
)

// Vector is an embedding together with the provider mode that produced it.
type Vector struct {
	Values []float32
	Mode   Mode
}

// Dim returns the vector length.
func (v Vector) Dim() int { return len(v.Values) }

// Backend is a remote embedding model.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider embeds text with Backend and falls back to HashEmbed when the
// backend is missing or fails.
type Provider struct {
	backend   Backend
	dimension int
}

// NewProvider creates a provider. A nil backend always uses the hash path.
func NewProvider(backend Backend, dimension int) *Provider {
	return &Provider{backend: backend, dimension: dimension}
}

// Dimension is the length of hash-path vectors.
func (p *Provider) Dimension() int { return p.dimension }

// Embed never fails; the returned vector's Mode tells the caller which path
// was taken.
func (p *Provider) Embed(ctx context.Context, text string) Vector {
	if p.backend != nil {
		values, err := p.backend.Embed(ctx, text)
		if err == nil && len(values) > 0 {
			return Vector{Values: values, Mode: ModeModel}
		}
		if err != nil {
			log.Printf("Warning: embedding backend failed, using hash embedding: %v", err)
		} else {
			log.Printf("Warning: embedding backend returned an empty vector, using hash embedding")
		}
	}
	return HashEmbed(text, p.dimension)
}

// HashEmbed computes a pseudo-embedding from the text's code points. Each
// code point is added into bucket i%dim, kept modulo 1000, and the buckets are
// scaled by the largest absolute bucket so every component lies in [-1, 1].
// An empty text yields the zero vector.
func HashEmbed(text string, dim int) Vector {
	out := make([]float32, dim)
	if dim <= 0 {
		return Vector{Values: out, Mode: ModeHash}
	}
	buckets := make([]int64, dim)
	i := 0
	for _, r := range text {
		b := i % dim
		buckets[b] = (buckets[b] + int64(r)) % 1000
		i++
	}
	var maxAbs int64
	for _, v := range buckets {
		if a := absInt(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}
	for j, v := range buckets {
		out[j] = float32(float64(v) / float64(maxAbs))
	}
	return Vector{Values: out, Mode: ModeHash}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
