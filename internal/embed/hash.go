package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDim is the dimension of HashEmbedder vectors.
const DefaultHashDim = 256

// HashEmbedder is a deterministic feature-hashing embedder that needs no
// network. Token counts are non-negative, so cosine similarity between two
// outputs lies in [0, 1].
type HashEmbedder struct {
	Dim  int
	Seed string
}

// NewHashEmbedder creates a hash embedder. Different seeds produce unrelated
// spaces.
func NewHashEmbedder(dim int, seed string) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDim
	}
	return &HashEmbedder{Dim: dim, Seed: seed}
}

func (h *HashEmbedder) Name() string { return "hash" }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.Dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(h.Seed))
		_, _ = f.Write([]byte{0})
		_, _ = f.Write([]byte(tok))
		v[f.Sum64()%uint64(h.Dim)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
