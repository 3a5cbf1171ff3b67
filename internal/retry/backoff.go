// Package retry provides the exponential-backoff retry helper shared by the
// Git Worker, PR Worker, and Sandbox Controller, adapted from the teacher's
// internal/backoff package.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy configures an exponential backoff with jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the teacher's default retry configuration for
// external API calls: 5 attempts, 250ms base, 10s cap.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// ErrNotRetryable lets a call-site opt a specific failure out of retrying,
// e.g. a 4xx response that will never succeed on resubmission.
var ErrNotRetryable = errors.New("retry: not retryable")

// Do runs fn until it succeeds, the policy's attempt budget is exhausted, or
// ctx is cancelled. fn should wrap a permanent failure in ErrNotRetryable to
// stop early.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrNotRetryable) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		wait := delay + jitter
		if wait > p.MaxDelay {
			wait = p.MaxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
