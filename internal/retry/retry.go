// Package retry implements the withRetry combinator described in spec
// §4.5 and §9: a generic helper parameterized on a retryability
// predicate, base delay, multiplier, jitter, max attempts, and an
// abort signal (idiomatic Go: context.Context cancellation), plus
// observability hooks. It is the only place the engine sleeps between
// attempts; callers decide whether to retry at all.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/deltaforge/deltalake/internal/deltaerr"
)

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int           // total attempts including the first; <=0 means 1 (no retry)
	BaseDelay   time.Duration // delay before the first retry
	Multiplier  float64       // exponential backoff multiplier; <=0 defaults to 2
	JitterFrac  float64       // fraction of the computed delay to randomize, in [0,1]
	IsRetryable func(error) bool

	// OnAttempt, if set, is invoked before each attempt (1-indexed).
	OnAttempt func(attempt int)
	// OnRetry, if set, is invoked after a failed attempt, before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy makes up to 5 attempts in total (4 retries) on
// deltaerr.ConcurrencyError, with exponential backoff starting at 10ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		Multiplier:  2,
		JitterFrac:  0.25,
		IsRetryable: deltaerr.IsRetryable,
	}
}

// Do runs fn, retrying according to p until it succeeds, attempts are
// exhausted, fn returns a non-retryable error, or ctx is cancelled.
// Every suspension point (the sleep between attempts) checks ctx first.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = func(error) bool { return false }
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return deltaerr.NewAbortError(err)
		}
		if p.OnAttempt != nil {
			p.OnAttempt(attempt)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == p.MaxAttempts {
			return lastErr
		}

		wait := delay
		if p.JitterFrac > 0 {
			jitter := time.Duration(float64(wait) * p.JitterFrac * (rand.Float64()*2 - 1))
			wait += jitter
			if wait < 0 {
				wait = 0
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}

		select {
		case <-ctx.Done():
			return deltaerr.NewAbortError(ctx.Err())
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * mult)
	}
	return lastErr
}
