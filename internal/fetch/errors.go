package fetch

import (
	"errors"
	"fmt"
	"time"
)

// NetworkError represents a transport-level failure: connection refused,
// DNS resolution, broken pipe mid-transfer. Always retryable.
type NetworkError struct {
	URL string // Request URL that failed
	Err error  // Underlying error from the transport
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a single attempt exceeded its configured
// deadline. Retryable up to the configured retry count.
type TimeoutError struct {
	URL     string        // Request URL that timed out
	Timeout time.Duration // Deadline that was exceeded
	Err     error         // Underlying context error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// RedirectLoopError indicates the redirect chain exceeded the configured
// hop limit. Never retried.
type RedirectLoopError struct {
	URL   string // Original request URL
	Limit int    // Maximum redirects that were allowed
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("too many redirects fetching %s (limit %d)", e.URL, e.Limit)
}

// StatusError represents a non-success HTTP status. 5xx responses are
// retryable, 4xx responses are not.
type StatusError struct {
	URL        string // Request URL
	StatusCode int    // HTTP status code returned by the server
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// Retryable reports whether the failed request may be retried.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// retryable classifies an attempt error as retryable or terminal.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var redirectErr *RedirectLoopError
	if errors.As(err, &redirectErr) {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
