package domain

import "errors"

// Sentinel errors shared across the pipeline. Callers wrap them with %w and
// match with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrCompletionProvider = errors.New("completion provider error")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrNotReady           = errors.New("repository not indexed yet")
	ErrBusy               = errors.New("indexing already in progress")
	ErrNoContent          = errors.New("repository has no indexable content")
	ErrInvalidRepo        = errors.New("invalid repository identifier")
	ErrEmptyQuestion      = errors.New("question must not be empty")
)
