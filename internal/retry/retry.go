// Package retry is the single retry policy shared by every network-calling
// component, so attempt counts and backoff behavior stay consistent and
// testable in one place.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Exponential runs op up to maxAttempts times with exponential backoff
// starting at initialInterval. It stops early when ctx is done. The last
// error is returned after exhaustion.
func Exponential(ctx context.Context, maxAttempts uint64, initialInterval time.Duration, op func() error) error {
	if maxAttempts == 0 {
		return fmt.Errorf("maxAttempts must be positive")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	// backoff counts retries, not attempts.
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
	return backoff.Retry(op, policy)
}

// Fixed runs op up to maxAttempts times sleeping interval between attempts.
// It stops early when ctx is done.
func Fixed(ctx context.Context, maxAttempts int, interval time.Duration, op func() error) error {
	if maxAttempts <= 0 {
		return fmt.Errorf("maxAttempts must be positive")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", maxAttempts, lastErr)
}
