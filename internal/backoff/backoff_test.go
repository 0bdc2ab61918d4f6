package backoff

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "http error" }
func (e statusErr) HTTPStatus() int { return e.code }

func TestComputeDelayBounds(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	for attempt := 0; attempt <= 10; attempt++ {
		expected := base << uint(attempt)
		if expected > max || expected <= 0 {
			expected = max
		}

		for i := 0; i < 50; i++ {
			delay := ComputeDelay(attempt, base, max)
			if delay < expected/2 || delay > expected {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, delay, expected/2, expected)
			}
		}
	}
}

func TestComputeDelayCapsAtMax(t *testing.T) {
	delay := ComputeDelay(20, time.Second, 30*time.Second)
	if delay > 30*time.Second {
		t.Fatalf("delay %v exceeds max", delay)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", statusErr{code: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %q, want ok", result)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, statusErr{code: 500}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if err.Error() != "http error" {
		t.Fatalf("last error not preserved: %v", err)
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, statusErr{code: 401}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for non-retryable error", calls)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}, func(context.Context) (int, error) {
		calls++
		return 0, statusErr{code: 503}
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

type hintedErr struct {
	statusErr
	hint time.Duration
}

func (e hintedErr) RetryAfterHint() time.Duration { return e.hint }

func TestRetryDelayPrefersServerHint(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	delay := retryDelay(hintedErr{statusErr{code: 429}, 7 * time.Second}, 0, p)
	if delay != 7*time.Second {
		t.Fatalf("delay = %v, want the server's 7s hint", delay)
	}
}

func TestRetryDelayCapsServerHint(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	delay := retryDelay(hintedErr{statusErr{code: 429}, time.Minute}, 0, p)
	if delay != 5*time.Millisecond {
		t.Fatalf("delay = %v, want the policy cap", delay)
	}
}

func TestRetryDelayFallsBackWithoutHint(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	// A zero hint means the server sent no Retry-After header.
	delay := retryDelay(hintedErr{statusErr{code: 503}, 0}, 0, p)
	if delay < 500*time.Millisecond || delay > time.Second {
		t.Fatalf("delay = %v, want jittered exponential in [500ms, 1s]", delay)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", statusErr{code: 429}, true},
		{"server error", statusErr{code: 500}, true},
		{"bad gateway", statusErr{code: 502}, true},
		{"unavailable", statusErr{code: 503}, true},
		{"gateway timeout", statusErr{code: 504}, true},
		{"bad request", statusErr{code: 400}, false},
		{"unauthorized", statusErr{code: 401}, false},
		{"forbidden", statusErr{code: 403}, false},
		{"not found", statusErr{code: 404}, false},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "federation.example"}, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"timeout", &net.OpError{Op: "dial", Err: timeoutError{}}, true},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
