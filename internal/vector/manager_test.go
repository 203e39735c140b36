package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/embed"
)

func vec(mod domain.Modality, vals ...float32) embed.Vector {
	return embed.Vector{Modality: mod, Values: vals}
}

func meta(file string, idx string) domain.Metadata {
	return domain.Metadata{domain.MetaFileName: file, domain.MetaChunkIndex: idx}
}

func TestManagerAddAndQuery(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryIndex(), "t_", Cosine, nil)

	err := m.Add(ctx, domain.ModalityTextual,
		[]embed.Vector{vec(domain.ModalityTextual, 1, 0), vec(domain.ModalityTextual, 0, 1), vec(domain.ModalityTextual, 1, 1)},
		[]string{"east", "north", "diagonal"},
		[]domain.Metadata{meta("a.md", "0"), meta("a.md", "1"), meta("b.md", "0")},
	)
	require.NoError(t, err)

	n, err := m.Count(ctx, domain.ModalityTextual)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := m.Query(ctx, vec(domain.ModalityTextual, 1, 0), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].Document)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	assert.Equal(t, "diagonal", hits[1].Document)
	assert.Equal(t, "a.md", hits[0].Metadata[domain.MetaFileName])

	// The code collection was never written.
	hits, err = m.Query(ctx, vec(domain.ModalityCode, 1, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestManagerUnderfilledCollection(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryIndex(), "t_", Cosine, nil)
	require.NoError(t, m.Add(ctx, domain.ModalityCode,
		[]embed.Vector{vec(domain.ModalityCode, 1, 2)}, []string{"only"}, []domain.Metadata{meta("x.go", "0")}))

	hits, err := m.Query(ctx, vec(domain.ModalityCode, 1, 2), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestManagerResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryIndex(), "t_", Cosine, nil)
	require.NoError(t, m.Add(ctx, domain.ModalityTextual,
		[]embed.Vector{vec(domain.ModalityTextual, 1)}, []string{"a"}, []domain.Metadata{meta("a", "0")}))

	require.NoError(t, m.Reset(ctx))
	require.NoError(t, m.Reset(ctx))

	hits, err := m.Query(ctx, vec(domain.ModalityTextual, 1), 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Collections are recreated lazily with a new dimension after a reset.
	require.NoError(t, m.Add(ctx, domain.ModalityTextual,
		[]embed.Vector{vec(domain.ModalityTextual, 1, 2, 3)}, []string{"b"}, []domain.Metadata{meta("b", "0")}))
	n, err := m.Count(ctx, domain.ModalityTextual)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManagerRejectsMismatches(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryIndex(), "t_", Cosine, nil)

	err := m.Add(ctx, domain.ModalityTextual,
		[]embed.Vector{vec(domain.ModalityTextual, 1)}, []string{"a", "b"}, []domain.Metadata{meta("a", "0")})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	err = m.Add(ctx, domain.ModalityTextual,
		[]embed.Vector{vec(domain.ModalityCode, 1)}, []string{"a"}, []domain.Metadata{meta("a", "0")})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	n, err := m.Count(ctx, domain.ModalityTextual)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManagerSelfSimilarity(t *testing.T) {
	ctx := context.Background()
	h := embed.NewHashEmbedder(128, "textual")
	texts := []string{"install the package with go get", "the server listens on port 8080", "tests run with make test"}
	raw, err := h.Embed(ctx, texts)
	require.NoError(t, err)

	vecs := make([]embed.Vector, len(raw))
	metas := make([]domain.Metadata, len(raw))
	for i, r := range raw {
		vecs[i] = embed.Vector{Modality: domain.ModalityTextual, Values: r}
		metas[i] = meta("doc.md", string(rune('0'+i)))
	}
	m := NewManager(NewMemoryIndex(), "t_", Cosine, nil)
	require.NoError(t, m.Add(ctx, domain.ModalityTextual, vecs, texts, metas))

	for i := range vecs {
		hits, err := m.Query(ctx, vecs[i], 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, texts[i], hits[0].Document)
		assert.InDelta(t, 1.0, m.Metric().Similarity(hits[0].Distance), 1e-5)
	}
}

type failingIndex struct {
	*MemoryIndex
	deleteErr error
}

func (f *failingIndex) DeleteCollection(context.Context, string) error { return f.deleteErr }

func TestManagerResetAggregatesErrors(t *testing.T) {
	boom := errors.New("engine down")
	m := NewManager(&failingIndex{MemoryIndex: NewMemoryIndex(), deleteErr: boom}, "t_", Cosine, nil)
	err := m.Reset(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "t_textual")
	assert.Contains(t, err.Error(), "t_code")
}

func TestMetricSimilarity(t *testing.T) {
	assert.InDelta(t, 0.75, Cosine.Similarity(0.25), 1e-6)
	assert.InDelta(t, 0.5, Euclid.Similarity(1), 1e-6)
	assert.InDelta(t, 3, Dot.Similarity(-3), 1e-6)

	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, Cosine, m)
	_, err = ParseMetric("manhattan")
	assert.Error(t, err)
}

func TestMemoryIndexTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.CreateCollection(ctx, "c", 2, Euclid))
	require.NoError(t, idx.Upsert(ctx, "c", []Record{
		{ID: "1", Vector: []float32{1, 0}, Document: "first"},
		{ID: "2", Vector: []float32{-1, 0}, Document: "second"},
		{ID: "3", Vector: []float32{0, 1}, Document: "third"},
	}))
	hits, err := idx.Search(ctx, "c", []float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{hits[0].Document, hits[1].Document, hits[2].Document})
}
