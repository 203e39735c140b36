package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryConfig configures retry behavior for LLM calls.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (0 = no retries)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries (caps exponential backoff)
	Timeout    time.Duration // Per-request timeout
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    2 * time.Minute,
	}
}

// RetryProvider wraps a Provider with per-attempt timeouts and exponential
// backoff.
type RetryProvider struct {
	inner  Provider
	config *RetryConfig
}

// NewRetryProvider wraps an existing provider with retry logic.
func NewRetryProvider(inner Provider, config *RetryConfig) *RetryProvider {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryProvider{
		inner:  inner,
		config: config,
	}
}

// Name returns the underlying provider name.
func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) options(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(r.config.MaxRetries + 1)),
		retry.Delay(r.config.RetryDelay),
		retry.MaxDelay(r.config.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
}

// attempt runs fn under the per-attempt timeout and marks permanent
// failures so retry-go stops early.
func attempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil && !isRetryable(err) {
		return v, retry.Unrecoverable(err)
	}
	return v, err
}

// Complete sends a prompt with timeout and retry logic.
func (r *RetryProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	resp, err := retry.DoWithData(func() (*Response, error) {
		return attempt(ctx, r.config.Timeout, func(c context.Context) (*Response, error) {
			return r.inner.Complete(c, prompt, opts)
		})
	}, r.options(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("%s complete: %w", r.inner.Name(), err)
	}
	return resp, nil
}

// Embed sends an embedding request with timeout and retry logic.
func (r *RetryProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := retry.DoWithData(func() ([][]float32, error) {
		return attempt(ctx, r.config.Timeout, func(c context.Context) ([][]float32, error) {
			return r.inner.Embed(c, texts)
		})
	}, r.options(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", r.inner.Name(), err)
	}
	return out, nil
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Caller cancelled.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		// Daily token limits (TPD) won't reset with retries.
		if strings.Contains(statusErr.Body, "tokens per day") || strings.Contains(statusErr.Body, "TPD") {
			return false
		}
		return statusErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Unknown errors are retried.
	return true
}

// WrapWithRetry wraps a provider with retry logic from config. A provider
// configured with zero retries and no timeout is returned unchanged.
func WrapWithRetry(provider Provider, cfg ProviderConfig) Provider {
	if provider == nil {
		return nil
	}
	if cfg.MaxRetries <= 0 && cfg.Timeout <= 0 {
		return provider
	}

	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return NewRetryProvider(provider, &RetryConfig{
		MaxRetries: max(cfg.MaxRetries, 0),
		RetryDelay: retryDelay,
		MaxDelay:   30 * time.Second,
		Timeout:    cfg.Timeout,
	})
}
