package infra

import (
	"context"
	"errors"
	"time"

	"market_maker/internal/domain"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns the reconnect delay for the given retry count:
// 1s, 2s, 4s, ... capped at 60s.
func CalculateBackoff(retryCount int) time.Duration {
	delay := backoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= backoffMax {
			return backoffMax
		}
	}
	return delay
}

// RetryPolicy bounds a retrying call: up to MaxAttempts tries, waiting
// BaseDelay * Multiplier^attempt between failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy matches the order-placement defaults: 3 attempts,
// 500ms base delay, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
}

// Delay returns the wait before retrying after the given zero-based
// attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
	}
	return time.Duration(delay)
}

// Retry runs fn up to the policy's attempt budget, sleeping the policy
// delay between failures. It stops early when fn succeeds, when the error
// is not retriable (authoritative rejection), or when ctx is cancelled.
// The last error is returned once the budget is exhausted.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// Authoritative rejections cannot be fixed by retrying. Errors
		// that don't declare themselves are treated as transient.
		var re domain.RetriableError
		if errors.As(lastErr, &re) && !re.IsRetriable() {
			return lastErr
		}

		if attempt < policy.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt)):
			}
		}
	}
	return lastErr
}
