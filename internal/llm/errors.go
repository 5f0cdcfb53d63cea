package llm

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for conditions that carry no payload.
var (
	// ErrOperationNotSupported is returned by providers that cannot
	// perform rollback or model switching.
	ErrOperationNotSupported = errors.New("llm: operation not supported")

	// ErrConcurrentMessage means the provider rejected the request
	// because a prior one is still streaming for the same account.
	ErrConcurrentMessage = errors.New("llm: concurrent message in flight")

	// ErrRequestTimeout is a transport-level timeout.
	ErrRequestTimeout = errors.New("llm: request timeout")

	// ErrAuthenticationFailed means the credential was rejected.
	ErrAuthenticationFailed = errors.New("llm: authentication failed")
)

// RateLimitError reports a provider-side rate limit with an estimated
// time at which retrying makes sense.
type RateLimitError struct {
	EstimatedAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm: rate limit exceeded, retry at %s", e.EstimatedAt.Format(time.RFC3339))
}

// RequestError wraps any other transport failure.
type RequestError struct {
	Cause error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("llm: request failed: %v", e.Cause)
}

func (e *RequestError) Unwrap() error { return e.Cause }
