// Package retry bounds stage re-execution with jittered exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ashita-ai/stagehand/internal/model"
)

// AttemptFunc runs attempt n (1-based) and reports whether a failure is
// transient. A nil error ends the loop immediately.
type AttemptFunc func(n int) (transient bool, err error)

// Do executes fn up to policy.MaxAttempts times. Attempt 1 runs with zero
// delay; attempt n>1 waits the exponential backoff for the n-1 failures so
// far (BaseDelay doubling per failure) plus a uniform jitter in
// [0, backoff*Jitter]. Only transient failures are retried; a terminal
// failure or exhaustion returns the last error.
func Do(ctx context.Context, policy model.RetryPolicy, fn AttemptFunc) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(policy, attempt)):
			}
		}
		transient, err := fn(attempt)
		if err == nil {
			return nil
		}
		if !transient {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// Backoff returns the pre-attempt delay for attempt n (n >= 2):
// BaseDelay * 2^(n-2) plus the jitter draw.
func Backoff(policy model.RetryPolicy, attempt int) time.Duration {
	exp := policy.BaseDelay << (attempt - 2)
	if policy.Jitter <= 0 {
		return exp
	}
	jitter := time.Duration(rand.Float64() * policy.Jitter * float64(exp)) //nolint:gosec // jitter doesn't need crypto-strength randomness
	return exp + jitter
}
