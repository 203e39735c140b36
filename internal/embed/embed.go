// Package embed turns text into modality-tagged vectors.
package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// DefaultBatchSize bounds the number of texts sent per provider call.
const DefaultBatchSize = 64

// Embedder produces one vector per input text, positionally aligned.
// Every llm.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Vector is an embedding tagged with the space it belongs to.
type Vector struct {
	Modality domain.Modality
	Values   []float32
}

// Dim returns the vector dimension.
func (v Vector) Dim() int { return len(v.Values) }

// Generator embeds text with the natural-language model and code with the
// code model.
type Generator struct {
	text Embedder
	code Embedder
	log  *zap.Logger

	BatchSize int
	memo      *cache.Cache
}

// NewGenerator creates a generator. Single-string embeddings are memoised
// for cacheTTL; zero disables the memo.
func NewGenerator(text, code Embedder, cacheTTL time.Duration, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Generator{text: text, code: code, log: log, BatchSize: DefaultBatchSize}
	if cacheTTL > 0 {
		g.memo = cache.New(cacheTTL, 2*cacheTTL)
	}
	return g
}

func (g *Generator) embedder(m domain.Modality) (Embedder, error) {
	switch m {
	case domain.ModalityTextual:
		return g.text, nil
	case domain.ModalityCode:
		return g.code, nil
	}
	return nil, fmt.Errorf("%w: unknown modality %q", domain.ErrInvariantViolation, m)
}

// EmbedText embeds s in the textual space.
func (g *Generator) EmbedText(ctx context.Context, s string) (Vector, error) {
	return g.Embed(ctx, domain.ModalityTextual, s)
}

// EmbedCode embeds s in the code space.
func (g *Generator) EmbedCode(ctx context.Context, s string) (Vector, error) {
	return g.Embed(ctx, domain.ModalityCode, s)
}

// Embed embeds a single string in the given space.
func (g *Generator) Embed(ctx context.Context, m domain.Modality, s string) (Vector, error) {
	key := string(m) + "\x00" + s
	if g.memo != nil {
		if v, ok := g.memo.Get(key); ok {
			return v.(Vector), nil
		}
	}
	vecs, err := g.EmbedChunks(ctx, m, []string{s})
	if err != nil {
		return Vector{}, err
	}
	if g.memo != nil {
		g.memo.SetDefault(key, vecs[0])
	}
	return vecs[0], nil
}

// EmbedChunks embeds texts in batches. The result is aligned with texts and
// every vector shares one dimension.
func (g *Generator) EmbedChunks(ctx context.Context, m domain.Modality, texts []string) ([]Vector, error) {
	e, err := g.embedder(m)
	if err != nil {
		return nil, err
	}
	batch := g.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	out := make([]Vector, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		values, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %s batch %d-%d: %w", domain.ErrEmbeddingProvider, m, start, end, err)
		}
		if len(values) != end-start {
			return nil, fmt.Errorf("%w: %s embeddings returned %d vectors for %d texts",
				domain.ErrInvariantViolation, m, len(values), end-start)
		}
		for _, v := range values {
			if len(v) == 0 || (len(out) > 0 && len(v) != out[0].Dim()) {
				return nil, fmt.Errorf("%w: %s embedding dimension %d is inconsistent",
					domain.ErrInvariantViolation, m, len(v))
			}
			out = append(out, Vector{Modality: m, Values: v})
		}
	}
	g.log.Debug("embedded texts", zap.String("modality", string(m)), zap.Int("count", len(out)))
	return out, nil
}
