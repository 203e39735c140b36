package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures rate limiting for LLM providers.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// TokensPerMinute limits total completion tokens per minute (0 = unlimited)
	TokensPerMinute int
	// BurstSize allows temporary burst above the rate limit
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 60,
		TokensPerMinute:   60000,
		BurstSize:         3,
	}
}

// RateLimitProvider wraps a provider with request and token budgets.
type RateLimitProvider struct {
	inner    Provider
	config   *RateLimitConfig
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := max(config.BurstSize, 1)

	r := &RateLimitProvider{
		inner:    inner,
		config:   config,
		requests: rate.NewLimiter(rate.Inf, burst),
		tokens:   rate.NewLimiter(rate.Inf, 1),
	}
	if config.RequestsPerMinute > 0 {
		r.requests = rate.NewLimiter(perMinute(config.RequestsPerMinute), burst)
	}
	if config.TokensPerMinute > 0 {
		r.tokens = rate.NewLimiter(perMinute(config.TokensPerMinute), config.TokensPerMinute)
	}
	return r
}

func perMinute(n int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(n))
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Complete waits for capacity and delegates to the inner provider. Token
// usage is charged after the call returns.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := r.inner.Complete(ctx, prompt, opts)
	if err == nil && resp != nil {
		r.charge(resp.InputTokens + resp.OutputTokens)
	}
	return resp, err
}

// Embed waits for request capacity and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

func (r *RateLimitProvider) wait(ctx context.Context) error {
	if err := r.requests.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	// An exhausted token budget blocks until at least one token is back.
	if err := r.tokens.WaitN(ctx, 1); err != nil {
		return fmt.Errorf("token budget: %w", err)
	}
	return nil
}

func (r *RateLimitProvider) charge(tokens int) {
	if tokens <= 0 {
		return
	}
	if r.config.TokensPerMinute > 0 {
		// Charged after the fact; later callers wait.
		r.tokens.ReserveN(time.Now(), min(tokens, r.config.TokensPerMinute))
	}
}

// WithRateLimit wraps a provider with rate limiting.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, config)
}
