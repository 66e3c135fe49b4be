package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errFlaky = errors.New("connection reset")

func retryOnFlaky(err error) ErrorClassification {
	return ErrorClassification{Retryable: errors.Is(err, errFlaky), RecordFailure: true}
}

func noWait(context.Context, time.Duration) error { return nil }

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3})
	var waits []time.Duration
	exec.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	attempts := 0
	err := exec.Execute(context.Background(), "embed.query", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	}, retryOnFlaky)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(waits) != 2 || waits[0] != 200*time.Millisecond || waits[1] != 400*time.Millisecond {
		t.Fatalf("expected exponential backoff 200ms, 400ms, got %v", waits)
	}
}

func TestExecuteStopsAfterMaxAttempts(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 2, BreakerEnabled: false})
	exec.sleep = noWait

	attempts := 0
	err := exec.Execute(context.Background(), "chat.generate", func(context.Context) error {
		attempts++
		return errFlaky
	}, retryOnFlaky)
	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected the last error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3})
	exec.sleep = noWait

	attempts := 0
	errPermanent := errors.New("model not found")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, retryOnFlaky)
	if !errors.Is(err, errPermanent) || attempts != 1 {
		t.Fatalf("expected one attempt and the permanent error, got %d, %v", attempts, err)
	}
}

func TestExecuteReturnsOperationErrorWhenCancelledDuringBackoff(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Hour, RetryMaxBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := exec.Execute(ctx, "op", func(context.Context) error {
		attempts++
		cancel()
		return errFlaky
	}, retryOnFlaky)
	if !errors.Is(err, errFlaky) || attempts != 1 {
		t.Fatalf("expected the operation error after one attempt, got %d, %v", attempts, err)
	}
}

func TestExecuteOpensCircuitPerOperation(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	})

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "embed.query", func(context.Context) error {
			return errFlaky
		}, retryOnFlaky)
		if !errors.Is(err, errFlaky) {
			t.Fatalf("expected flaky error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "embed.query", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, retryOnFlaky)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if exec.State("embed.query") != gobreaker.StateOpen {
		t.Fatalf("expected embed.query breaker open")
	}

	called := false
	if err := exec.Execute(context.Background(), "chat.generate", func(context.Context) error {
		called = true
		return nil
	}, retryOnFlaky); err != nil || !called {
		t.Fatalf("other operations must not share the open breaker, got %v", err)
	}
	if exec.State("never.ran") != gobreaker.StateClosed {
		t.Fatalf("unknown operations report closed")
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	got := Config{RetryMaxBackoff: time.Millisecond, RetryInitialBackoff: 50 * time.Millisecond, BreakerFailureRatio: 3}.normalize()
	def := DefaultConfig()
	if got.RetryMaxAttempts != def.RetryMaxAttempts || got.BreakerMinRequests != def.BreakerMinRequests {
		t.Fatalf("expected defaults, got %+v", got)
	}
	if got.RetryMaxBackoff != got.RetryInitialBackoff {
		t.Fatalf("max backoff must not be below the initial backoff, got %+v", got)
	}
	if got.BreakerFailureRatio != def.BreakerFailureRatio {
		t.Fatalf("invalid failure ratio must fall back, got %v", got.BreakerFailureRatio)
	}
}

func TestBackoffAfterIsCapped(t *testing.T) {
	cfg := Config{RetryInitialBackoff: 100 * time.Millisecond, RetryMaxBackoff: 300 * time.Millisecond, RetryMultiplier: 2}.normalize()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := cfg.backoffAfter(i + 1); got != w {
			t.Fatalf("backoffAfter(%d) = %s, want %s", i+1, got, w)
		}
	}
}
