// Package backoff implements exponential retry delays with jitter and a
// bounded retry wrapper used around federation API calls.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"syscall"
	"time"
)

const (
	// DefaultBaseDelay is the first-attempt delay before jitter.
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps the exponential growth.
	DefaultMaxDelay = 30 * time.Second
	// DefaultMaxAttempts bounds WithRetry when the policy leaves it zero.
	DefaultMaxAttempts = 3
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the retry policy used by the sync pipeline.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// ComputeDelay returns the sleep before retry number attempt (zero-indexed):
// min(base*2^attempt, max) scaled by a uniform jitter factor in [0.5, 1.0].
// The jitter spreads concurrent retries from multiple connectors in time so
// they do not synchronize into retry storms.
func ComputeDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryHinter is implemented by errors that carry a server-provided
// Retry-After hint. A positive hint replaces the computed delay.
type RetryHinter interface {
	RetryAfterHint() time.Duration
}

// retryDelay picks the sleep before the next attempt: the server's
// Retry-After hint when present, otherwise the jittered exponential delay.
// Either way the policy's cap applies.
func retryDelay(err error, attempt int, p Policy) time.Duration {
	var hinter RetryHinter
	if errors.As(err, &hinter) {
		if hint := hinter.RetryAfterHint(); hint > 0 {
			if hint > p.MaxDelay {
				hint = p.MaxDelay
			}
			return hint
		}
	}
	return ComputeDelay(attempt, p.BaseDelay, p.MaxDelay)
}

// IsRetryable reports whether err is a transient failure worth retrying:
// recognized network errors (timeouts, resets, name resolution) or an HTTP
// status in {429, 500, 502, 503, 504}. Auth and client errors propagate
// immediately; retrying a bad credential only burns quota.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		switch coder.HTTPStatus() {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}

// Retry runs fn up to p.MaxAttempts times, sleeping retryDelay between
// attempts. Attempts are strictly sequential. Non-retryable errors and the
// final attempt's error propagate unchanged; the sleep respects ctx so one
// connector's backoff never stalls unrelated work.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := retryDelay(err, attempt, p)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}
	return zero, lastErr
}
