package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noJitter() time.Duration { return 0 }

func TestRetry_Success(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Jitter: noJitter}

	attempts := 0
	err := Retry(context.Background(), policy, func(int) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Jitter: noJitter}

	attempts := 0
	err := Retry(context.Background(), policy, func(attempt int) error {
		if attempt != attempts {
			t.Errorf("attempt = %d, want %d", attempt, attempts)
		}
		attempts++
		if attempts < 3 {
			return NewRetryableError(errors.New("temporary error"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: noJitter}

	attempts := 0
	cause := errors.New("persistent error")
	err := Retry(context.Background(), policy, func(int) error {
		attempts++
		return NewRetryableError(cause)
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: noJitter}

	attempts := 0
	err := Retry(context.Background(), policy, func(int) error {
		attempts++
		return errors.New("non-retryable error")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt (non-retryable), got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: noJitter}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Retry(ctx, policy, func(int) error {
		return NewRetryableError(errors.New("retryable error"))
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("cancellation not honored during backoff")
	}
}

func TestBackoff(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: noJitter}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{40, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.Backoff(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestBackoffJitterRange(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}

	for i := 0; i < 100; i++ {
		got := policy.Backoff(0)
		if got < 2*time.Second || got >= 3*time.Second {
			t.Fatalf("backoff %v outside [2s, 3s)", got)
		}
	}
}

func TestDelayForHonorsHint(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Jitter: noJitter}

	if got := policy.delayFor(0, NewRetryableErrorWithDelay(errors.New("429"), 3*time.Second)); got != 3*time.Second {
		t.Errorf("hint: got %v", got)
	}
	if got := policy.delayFor(0, NewRetryableErrorWithDelay(errors.New("429"), time.Minute)); got != 5*time.Second {
		t.Errorf("capped hint: got %v", got)
	}
	if got := policy.delayFor(1, errors.New("plain")); got != 2*time.Second {
		t.Errorf("no hint: got %v", got)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", policy.MaxAttempts)
	}
	if policy.BaseDelay != 2*time.Second || policy.MaxDelay != 30*time.Second {
		t.Errorf("unexpected delays: %v / %v", policy.BaseDelay, policy.MaxDelay)
	}
}

func TestRetryableError(t *testing.T) {
	err := NewRetryableError(errors.New("test error"))
	if err.Error() != "test error" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if !IsRetryable(err) || IsRetryable(errors.New("x")) || IsRetryable(nil) {
		t.Error("IsRetryable mismatch")
	}

	errWithDelay := NewRetryableErrorWithDelay(errors.New("test error"), 5*time.Second)
	if retryAfter(errWithDelay) != 5*time.Second {
		t.Errorf("retryAfter = %v", retryAfter(errWithDelay))
	}
}
