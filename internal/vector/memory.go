package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

type memCollection struct {
	dim     int
	metric  Metric
	records []Record
	pos     map[string]int
}

// MemoryIndex is a brute-force in-process engine.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemoryIndex creates an empty in-memory engine.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memCollection)}
}

func (m *MemoryIndex) CreateCollection(_ context.Context, name string, dim int, metric Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("%w: collection %s has dimension %d, not %d", domain.ErrInvariantViolation, name, c.dim, dim)
		}
		return nil
	}
	m.collections[name] = &memCollection{dim: dim, metric: metric, pos: make(map[string]int)}
	return nil
}

func (m *MemoryIndex) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, name string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: collection %s", domain.ErrNotFound, name)
	}
	for _, r := range records {
		if len(r.Vector) != c.dim {
			return fmt.Errorf("%w: record %s has dimension %d, collection %s expects %d",
				domain.ErrInvariantViolation, r.ID, len(r.Vector), name, c.dim)
		}
		if i, ok := c.pos[r.ID]; ok {
			c.records[i] = r
			continue
		}
		c.pos[r.ID] = len(c.records)
		c.records = append(c.records, r)
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, name string, vec []float32, k int) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok || k <= 0 {
		return nil, nil
	}
	if len(vec) != c.dim {
		return nil, fmt.Errorf("%w: query dimension %d, collection %s expects %d",
			domain.ErrInvariantViolation, len(vec), name, c.dim)
	}

	hits := make([]Neighbor, len(c.records))
	for i, r := range c.records {
		hits[i] = Neighbor{
			ID:       r.ID,
			Distance: c.metric.Distance(vec, r.Vector),
			Document: r.Document,
			Metadata: r.Metadata,
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) Count(_ context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[name]; ok {
		return len(c.records), nil
	}
	return 0, nil
}

func (m *MemoryIndex) Ping(context.Context) error { return nil }

func (m *MemoryIndex) Close() error { return nil }

var _ Index = (*MemoryIndex)(nil)
