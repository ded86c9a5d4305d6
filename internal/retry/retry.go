// Package retry runs operations under a bounded retry policy with pluggable
// backoff and transient-fault classification. A Policy is stateless; one
// value may back many concurrent runs.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BackoffFunc returns the delay before the given retry attempt. The first
// retry passes attempt 1.
type BackoffFunc func(attempt int) time.Duration

// ClassifyFunc reports whether a failure is transient and worth retrying.
type ClassifyFunc func(err error) bool

// Policy bounds retries of an operation.
//
// A zero MaxAttempts behaves like 1 (single attempt). A nil Classify treats
// every failure as transient; a nil Backoff retries without delay.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Classify    ClassifyFunc
}

// Run invokes op up to MaxAttempts times. Non-transient failures propagate
// immediately. Cancellation observed during a delay or inside op aborts
// retries at once and propagates the context error, never a transient-fault
// outcome. Exhausting the attempts surfaces the last failure.
func (p Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			var delay time.Duration
			if p.Backoff != nil {
				delay = p.Backoff(attempt - 1)
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsCancellation(err) {
			return err
		}
		if p.Classify != nil && !p.Classify(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// IsCancellation reports whether err carries a cancellation signal rather
// than an application failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fixed delays every retry by d.
func Fixed(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Linear delays retry n by n*step.
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration { return time.Duration(attempt) * step }
}

// Exponential doubles the delay each retry, starting at base and capped at
// max.
func Exponential(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}
