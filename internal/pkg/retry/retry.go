// Package retry runs an operation a bounded number of times with a fixed or
// exponentially growing delay between attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// ParseBackoff falls back to fixed for unknown values.
func ParseBackoff(raw string) Backoff {
	if Backoff(raw) == BackoffExponential {
		return BackoffExponential
	}
	return BackoffFixed
}

// Config holds configuration for retry behavior.
type Config struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int

	// Delay is the wait before the second attempt.
	Delay time.Duration

	// MaxDelay caps exponential growth. Zero means no cap.
	MaxDelay time.Duration

	Backoff Backoff
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry. attempt is the 1-indexed number
// of the attempt that just failed.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// Always retries every error.
func Always(error) bool { return true }

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. fn receives the 1-indexed attempt number.
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if isRetryable == nil {
		isRetryable = Always
	}

	delay := cfg.Delay
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == cfg.Attempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}
		}

		if cfg.Backoff == BackoffExponential {
			delay *= 2
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	if cfg.Attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("failed after %d attempts: %w", cfg.Attempts, lastErr)
}
