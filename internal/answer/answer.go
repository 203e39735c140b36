// Package answer composes retrieved chunks into a prompt and asks a
// completion model to answer it.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/llm"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/retrieve"
)

const (
	// Instruction opens every prompt.
	Instruction = "You are a repository analyser, use the provided chunks to answer any related questions about the repository:"
	// SystemPrompt constrains the model to the supplied context.
	SystemPrompt = "You are a helpful assistant. Answer the question using only the provided context."

	DefaultMaxTokens   = 500
	DefaultTemperature = 0.1
)

// Synthesize renders the question and the ranked chunks of both modalities.
// Both section headers are always present; a modality without hits carries
// an explicit marker under its header.
func Synthesize(question string, res retrieve.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nQuestion: %s\n\nContext:\n", Instruction, question)
	for _, m := range domain.Modalities {
		chunks := res.Of(m)
		fmt.Fprintf(&b, "\n--- %s Chunks ---\n", m.Label())
		if len(chunks) == 0 {
			fmt.Fprintf(&b, "No %s chunks found\n", m.Label())
			continue
		}
		for _, c := range chunks {
			fmt.Fprintf(&b, "Score: %.4f\n", c.Score)
			fmt.Fprintf(&b, "Content: %s\n", c.Content)
			fmt.Fprintf(&b, "Metadata: %s\n\n", c.Metadata)
		}
	}
	b.WriteString("\nAnswer:")
	return b.String()
}

// Completer is the completion half of llm.Provider.
type Completer interface {
	Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error)
	Name() string
}

// Config holds the generation settings.
type Config struct {
	MaxTokens   int
	Temperature float64
	StopSeqs    []string
}

// DefaultConfig returns low-randomness settings.
func DefaultConfig() Config {
	return Config{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature}
}

// Answerer sends synthesized prompts to a completion model.
type Answerer struct {
	provider Completer
	cfg      Config
	log      *zap.Logger
}

// New creates an answerer. Zero MaxTokens selects DefaultMaxTokens.
func New(provider Completer, cfg Config, log *zap.Logger) *Answerer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Answerer{provider: provider, cfg: cfg, log: log}
}

// Name returns the provider name, or "none" when no provider is configured.
func (a *Answerer) Name() string {
	if a.provider == nil {
		return "none"
	}
	return a.provider.Name()
}

// Answer returns the model's reply with reasoning blocks removed.
func (a *Answerer) Answer(ctx context.Context, prompt string) (string, error) {
	if a.provider == nil {
		return "", fmt.Errorf("%w: no completion provider configured", domain.ErrCompletionProvider)
	}
	start := time.Now()
	resp, err := a.provider.Complete(ctx, &llm.Prompt{
		SystemPrompt: SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	}, &llm.RequestOptions{
		MaxTokens:   llm.Int(a.cfg.MaxTokens),
		Temperature: llm.Float(a.cfg.Temperature),
		StopSeqs:    a.cfg.StopSeqs,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrCompletionProvider, a.provider.Name(), err)
	}

	observability.RecordLLMMetrics(trace.SpanFromContext(ctx), resp.InputTokens, resp.OutputTokens, time.Since(start))
	a.log.Debug("completion received",
		zap.String("provider", a.provider.Name()),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.String("stop_reason", resp.StopReason),
	)
	return llm.StripThinkingTags(resp.Content), nil
}
