// Package federation talks to external sports-federation APIs on behalf of
// configured connectors: authenticated requests, bounded retries, paginated
// roster fetches, and mapping of raw member payloads into the local schema.
package federation

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an API failure for the orchestrator's propagation
// policy.
type ErrorKind string

const (
	// ErrorAuth marks authentication failures. Not retried beyond the
	// single OAuth2 refresh attempt; retrying bad credentials triggers
	// federation-side lockouts.
	ErrorAuth ErrorKind = "auth"
	// ErrorRateLimited marks 429 responses. Retryable; carries the
	// server's Retry-After hint when present.
	ErrorRateLimited ErrorKind = "rate_limited"
	// ErrorServer marks 5xx responses. Retryable.
	ErrorServer ErrorKind = "server"
	// ErrorTerminal marks every other non-2xx response.
	ErrorTerminal ErrorKind = "terminal"
)

// APIError is a typed federation API failure carrying the status code and
// response body for diagnostics.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	// RetryAfter is the parsed Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("federation api: %s (HTTP %d, retry after %s)", e.Kind, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("federation api: %s (HTTP %d): %s", e.Kind, e.StatusCode, truncate(e.Body, 200))
}

// HTTPStatus exposes the status code to the backoff retryability check.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfterHint exposes the server's Retry-After value so the backoff
// loop waits what the federation asked for instead of the computed delay.
func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// IsAuthError reports whether err is a federation authentication failure.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == ErrorAuth
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return ErrorAuth
	case code == 429:
		return ErrorRateLimited
	case code >= 500:
		return ErrorServer
	default:
		return ErrorTerminal
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
