package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deltaforge/deltalake/internal/deltaerr"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("expected single successful call, got calls=%d err=%v", calls, err)
	}
}

func TestDoRetriesRetryableError(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		IsRetryable: deltaerr.IsRetryable,
	}
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return deltaerr.NewConcurrencyError(int64(calls), int64(calls+1))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, IsRetryable: deltaerr.IsRetryable}
	sentinel := errors.New("not retryable")
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for non-retryable error, got %d", calls)
	}
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, IsRetryable: deltaerr.IsRetryable}
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return deltaerr.NewConcurrencyError(1, 2)
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts before giving up, got %d", calls)
	}
	if _, ok := deltaerr.IsConcurrencyError(err); !ok {
		t.Fatalf("expected final error to be a concurrency error, got %v", err)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultPolicy(), func(ctx context.Context) error {
		t.Fatal("fn should not be called with an already-cancelled context")
		return nil
	})
	if !deltaerr.IsAbortError(err) {
		t.Fatalf("expected AbortError, got %v", err)
	}
}

func TestDoCancelsDuringBackoffSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, IsRetryable: deltaerr.IsRetryable}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, func(ctx context.Context) error {
		calls++
		return deltaerr.NewConcurrencyError(1, 2)
	})
	if !deltaerr.IsAbortError(err) {
		t.Fatalf("expected AbortError after cancellation during sleep, got %v", err)
	}
}
