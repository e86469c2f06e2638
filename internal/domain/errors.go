package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Every typed error below matches its sentinel.
var (
	ErrValidation        = errors.New("validation error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrIndexNotLoaded    = errors.New("index not loaded")
	ErrCacheIO           = errors.New("cache i/o error")
	ErrExternalSource    = errors.New("external source error")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DimensionMismatchError reports vectors from incompatible embedding models.
type DimensionMismatchError struct {
	Want, Got           int
	WantModel, GotModel string
}

func (e *DimensionMismatchError) Error() string {
	if e.WantModel != e.GotModel {
		return fmt.Sprintf("dimension mismatch: model %q (dim %d) vs %q (dim %d)", e.WantModel, e.Want, e.GotModel, e.Got)
	}
	return fmt.Sprintf("dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// CacheIOError reports a persistence failure. The in-memory cache keeps working.
type CacheIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }

func (e *CacheIOError) Is(target error) bool { return target == ErrCacheIO }

// ExternalSourceError reports a network or parse failure in one source.
type ExternalSourceError struct {
	Source SourceID
	Err    error
}

func (e *ExternalSourceError) Error() string {
	return fmt.Sprintf("external source %s: %v", e.Source, e.Err)
}

func (e *ExternalSourceError) Unwrap() error { return e.Err }

func (e *ExternalSourceError) Is(target error) bool { return target == ErrExternalSource }

// RateLimitError reports a call refused by a source's limiter.
type RateLimitError struct {
	Source     SourceID
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s (retry after %s)", e.Source, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Source)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// IsCallerVisible reports whether err must fail the logical operation.
// Everything else degrades to a warning attached to a partial result.
func IsCallerVisible(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrIndexNotLoaded)
}
