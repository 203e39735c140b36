// Package retrieve finds the chunks most relevant to a question in both
// embedding spaces.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/embed"
	"github.com/efebarandurmaz/repolens/internal/vector"
)

// DefaultTopK is the number of chunks kept per modality.
const DefaultTopK = 3

// overfetch multiplies topK when querying each collection.
const overfetch = 2

// previewRunes bounds the content shown in a Source.
const previewRunes = 500

// QuestionEmbedder embeds a question in each space.
type QuestionEmbedder interface {
	EmbedText(ctx context.Context, s string) (embed.Vector, error)
	EmbedCode(ctx context.Context, s string) (embed.Vector, error)
}

// Store answers nearest-neighbour queries.
type Store interface {
	Query(ctx context.Context, v embed.Vector, k int) ([]vector.Neighbor, error)
	Metric() vector.Metric
}

// RetrievedChunk is a ranked hit.
type RetrievedChunk struct {
	Score    float32
	Content  string
	Metadata domain.Metadata
	Modality domain.Modality
}

// Result holds the ranked hits of both modalities.
type Result struct {
	Textual []RetrievedChunk
	Code    []RetrievedChunk
}

// Of returns the hits of one modality.
func (r Result) Of(m domain.Modality) []RetrievedChunk {
	if m == domain.ModalityCode {
		return r.Code
	}
	return r.Textual
}

// Len returns the total number of hits.
func (r Result) Len() int { return len(r.Textual) + len(r.Code) }

// Source is a flattened, API-facing view of a hit.
type Source struct {
	FileName     string  `json:"file_name"`
	ContentType  string  `json:"content_type"`
	Score        float32 `json:"score"`
	Content      string  `json:"content"`
	FileContents string  `json:"file_contents"`
}

// Sources lists textual hits, then code hits, each with a content preview.
func (r Result) Sources() []Source {
	out := make([]Source, 0, r.Len())
	for _, m := range domain.Modalities {
		for _, c := range r.Of(m) {
			fileName := c.Metadata[domain.MetaFileName]
			if fileName == "" {
				fileName = "unknown"
			}
			contentType := c.Metadata[domain.MetaContentType]
			if contentType == "" {
				contentType = string(m)
			}
			out = append(out, Source{
				FileName:     fileName,
				ContentType:  contentType,
				Score:        c.Score,
				Content:      preview(c.Content),
				FileContents: c.Content,
			})
		}
	}
	return out
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "..."
}

// Retriever ranks stored chunks against a question.
type Retriever struct {
	embedder QuestionEmbedder
	store    Store
	log      *zap.Logger
}

// New creates a retriever.
func New(embedder QuestionEmbedder, store Store, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{embedder: embedder, store: store, log: log}
}

// Retrieve embeds the question once per modality and returns at most topK
// hits per modality, best first. A non-positive topK selects DefaultTopK.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	var res Result
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range domain.Modalities {
		g.Go(func() error {
			hits, err := r.retrieve(gctx, m, question, topK)
			if err != nil {
				return err
			}
			if m == domain.ModalityCode {
				res.Code = hits
			} else {
				res.Textual = hits
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	r.log.Debug("retrieved chunks",
		zap.Int("textual", len(res.Textual)),
		zap.Int("code", len(res.Code)),
		zap.Int("top_k", topK),
	)
	return res, nil
}

func (r *Retriever) retrieve(ctx context.Context, m domain.Modality, question string, topK int) ([]RetrievedChunk, error) {
	embedQuestion := r.embedder.EmbedText
	if m == domain.ModalityCode {
		embedQuestion = r.embedder.EmbedCode
	}
	v, err := embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}
	neighbors, err := r.store.Query(ctx, v, topK*overfetch)
	if err != nil {
		return nil, fmt.Errorf("retrieving %s chunks: %w", m, err)
	}

	metric := r.store.Metric()
	hits := make([]RetrievedChunk, len(neighbors))
	for i, n := range neighbors {
		hits[i] = RetrievedChunk{
			Score:    metric.Similarity(n.Distance),
			Content:  n.Document,
			Metadata: n.Metadata,
			Modality: m,
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
