// Package embedding turns tool descriptions and routing requests into
// fixed-dimension vectors. Two backends: a deterministic hash embedder that
// needs no external service, and an Ollama HTTP embedder for real semantic
// vectors.
package embedding

import (
	"context"
	"fmt"
	"math"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

type Config struct {
	Provider  string
	Endpoint  string
	Model     string
	Dimension int
}

func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.Endpoint, cfg.Model, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// Cosine returns the cosine similarity of two vectors, or an error on
// dimension mismatch. Zero-magnitude vectors compare as 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: dimension mismatch %d != %d", len(a), len(b))
	}
	var dot, ma, mb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		ma += float64(a[i]) * float64(a[i])
		mb += float64(b[i]) * float64(b[i])
	}
	if ma == 0 || mb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(ma) * math.Sqrt(mb)), nil
}

// Normalize scales v to unit length in place. A zero vector is left as-is.
func Normalize(v []float32) {
	var m float64
	for _, x := range v {
		m += float64(x) * float64(x)
	}
	if m == 0 {
		return
	}
	m = math.Sqrt(m)
	for i := range v {
		v[i] = float32(float64(v[i]) / m)
	}
}
