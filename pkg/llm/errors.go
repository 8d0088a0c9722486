package llm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingKey means neither the request nor the service configuration
	// provided an API key.
	ErrMissingKey = errors.New("no API key available for request")

	// ErrBlockedByPolicy means the provider refused the completion on
	// safety grounds.
	ErrBlockedByPolicy = errors.New("completion blocked by provider policy")

	// ErrEmptyCompletion means the provider returned a well-formed response
	// containing no text.
	ErrEmptyCompletion = errors.New("provider returned an empty completion")

	// ErrDeadline means the call exceeded its context deadline.
	ErrDeadline = errors.New("llm call deadline exceeded")
)

// TransportError wraps a network or provider failure that is safe to retry.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("llm transport failure: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitedError means the provider rejected the call for quota reasons.
// RetryAfter is the provider's hint when present, zero otherwise.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string { return fmt.Sprintf("llm rate limited: %v", e.Err) }
func (e *RateLimitedError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error may succeed on a later attempt.
func IsRetryable(err error) bool {
	var te *TransportError
	var rl *RateLimitedError
	return errors.As(err, &te) || errors.As(err, &rl)
}
