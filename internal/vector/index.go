// Package vector stores modality-tagged embeddings and answers
// nearest-neighbour queries against them.
package vector

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// Metric selects the distance function of a collection.
type Metric string

const (
	Cosine Metric = "cosine"
	Euclid Metric = "euclid"
	Dot    Metric = "dot"
)

// ParseMetric maps a configuration value to a Metric. Empty means Cosine.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Cosine, nil
	case Cosine, Euclid, Dot:
		return m, nil
	}
	return "", fmt.Errorf("unknown vector metric %q", s)
}

// Similarity converts a distance into a relevance score where higher is
// better.
func (m Metric) Similarity(d float32) float32 {
	switch m {
	case Euclid:
		return 1 / (1 + d)
	case Dot:
		return -d
	default:
		return 1 - d
	}
}

// Distance computes the distance between a and b. Smaller is closer.
func (m Metric) Distance(a, b []float32) float32 {
	switch m {
	case Euclid:
		var s float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			s += d * d
		}
		return float32(math.Sqrt(s))
	case Dot:
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return float32(-s)
	default:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
	}
}

// Record is one stored entry.
type Record struct {
	ID       string
	Vector   []float32
	Document string
	Metadata domain.Metadata
}

// Neighbor is one search hit.
type Neighbor struct {
	ID       string
	Distance float32
	Document string
	Metadata domain.Metadata
}

// Index is the vector engine. Operations on a missing collection are not
// errors: deletes are no-ops, searches return nothing and counts are zero.
type Index interface {
	CreateCollection(ctx context.Context, name string, dim int, metric Metric) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, records []Record) error
	// Search returns at most k neighbours ordered by increasing distance.
	Search(ctx context.Context, name string, vec []float32, k int) ([]Neighbor, error)
	Count(ctx context.Context, name string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
