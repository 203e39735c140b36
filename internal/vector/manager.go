package vector

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/embed"
)

// DefaultPrefix is prepended to the per-modality collection names.
const DefaultPrefix = "repolens_"

// Manager owns the textual and code collections of the active repository.
type Manager struct {
	index  Index
	prefix string
	metric Metric
	log    *zap.Logger

	mu      sync.Mutex
	created map[string]bool
}

// NewManager creates a manager over index.
func NewManager(index Index, prefix string, metric Metric, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if metric == "" {
		metric = Cosine
	}
	return &Manager{
		index:   index,
		prefix:  prefix,
		metric:  metric,
		log:     log,
		created: make(map[string]bool),
	}
}

// Collection returns the collection name used for a modality.
func (m *Manager) Collection(mod domain.Modality) string {
	return m.prefix + string(mod)
}

// Metric returns the distance metric of both collections.
func (m *Manager) Metric() Metric { return m.metric }

// Reset drops both collections. Missing collections are not errors, so
// calling Reset twice is the same as calling it once.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result *multierror.Error
	for _, mod := range domain.Modalities {
		name := m.Collection(mod)
		if err := m.index.DeleteCollection(ctx, name); err != nil {
			result = multierror.Append(result, fmt.Errorf("reset %s: %w", name, err))
			continue
		}
		delete(m.created, name)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	m.log.Debug("vector collections reset", zap.String("prefix", m.prefix))
	return nil
}

// Add stores vectors with their documents and metadata in the collection of
// mod. The collection is created on first use with the dimension of the
// first vector.
func (m *Manager) Add(ctx context.Context, mod domain.Modality, vecs []embed.Vector, docs []string, metas []domain.Metadata) error {
	if len(vecs) != len(docs) || len(vecs) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d documents, %d metadata entries",
			domain.ErrInvariantViolation, len(vecs), len(docs), len(metas))
	}
	if len(vecs) == 0 {
		return nil
	}
	for i, v := range vecs {
		if v.Modality != mod {
			return fmt.Errorf("%w: vector %d is %s, collection is %s",
				domain.ErrInvariantViolation, i, v.Modality, mod)
		}
	}

	name := m.Collection(mod)
	if err := m.ensure(ctx, name, vecs[0].Dim()); err != nil {
		return err
	}

	records := make([]Record, len(vecs))
	for i, v := range vecs {
		records[i] = Record{
			ID:       recordID(metas[i], i),
			Vector:   v.Values,
			Document: docs[i],
			Metadata: metas[i],
		}
	}
	if err := m.index.Upsert(ctx, name, records); err != nil {
		return fmt.Errorf("add to %s: %w", name, err)
	}
	m.log.Debug("vectors added", zap.String("collection", name), zap.Int("count", len(records)))
	return nil
}

func (m *Manager) ensure(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created[name] {
		return nil
	}
	if err := m.index.CreateCollection(ctx, name, dim, m.metric); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	m.created[name] = true
	return nil
}

// recordID derives a stable UUID from the chunk's file and index.
func recordID(meta domain.Metadata, pos int) string {
	key := meta[domain.MetaFileName] + "#" + meta[domain.MetaChunkIndex]
	if meta[domain.MetaFileName] == "" {
		key = "#" + strconv.Itoa(pos)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Query searches the collection matching the vector's modality. Missing or
// under-filled collections yield fewer results, never an error.
func (m *Manager) Query(ctx context.Context, v embed.Vector, k int) ([]Neighbor, error) {
	name := m.Collection(v.Modality)
	hits, err := m.index.Search(ctx, name, v.Values, k)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	return hits, nil
}

// Count returns the number of stored entries for mod.
func (m *Manager) Count(ctx context.Context, mod domain.Modality) (int, error) {
	return m.index.Count(ctx, m.Collection(mod))
}
