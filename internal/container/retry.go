// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

type (
	// RetryPolicy bounds exponential backoff: attempt n (n >= 1) waits
	// Base * 2^(n-1) before running, capped at Max when Max is set.
	RetryPolicy struct {
		Attempts int
		Base     time.Duration
		Max      time.Duration
	}

	// RetryExhaustedError is returned when every attempt failed with a
	// retryable error. It wraps the last one.
	RetryExhaustedError struct {
		Attempts int
		Err      error
	}
)

// DefaultRetryPolicy is used when a caller has no configured policy.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Base: 2 * time.Second, Max: 30 * time.Second}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Delay returns the wait before attempt (0-based; attempt 0 never waits).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Base <= 0 {
		return 0
	}
	d := p.Base << (attempt - 1)
	if d <= 0 || (p.Max > 0 && d > p.Max) {
		return p.Max
	}
	return d
}

// RetryWithBackoff runs op until it succeeds, returns retry=false, or the
// policy's attempts are used up. Waiting between attempts ends early when
// ctx is cancelled.
func RetryWithBackoff(ctx context.Context, p RetryPolicy, op func(attempt int) (retry bool, err error)) error {
	attempts := max(p.Attempts, 1)
	var lastErr error
	for attempt := range attempts {
		if d := p.Delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return &RetryExhaustedError{Attempts: attempts, Err: lastErr}
}
