// Package backoff holds the reconnect and retry delay policy shared by the REST client and the
// change-notification subscriber.
package backoff

import (
	"context"
	"time"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

// Strategy defines how long to wait before the next attempt.
type Strategy interface {
	// Delay returns the wait before attempt (0-based).
	Delay(attempt int) time.Duration

	// Reset is called after a successful attempt.
	Reset()
}

// Exponential grows the delay by Multiplier per attempt, capped at Max.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Default is the policy used when none is configured.
func Default() *Exponential {
	return &Exponential{
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2.0,
	}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= e.Multiplier
	}

	result := time.Duration(float64(e.Initial) * multiplier)
	if e.Max > 0 && (result > e.Max || result < 0) {
		result = e.Max
	}
	return result
}

func (e *Exponential) Reset() {}

// Retry runs op up to attempts times. Only errors marked retryable are retried, and the wait
// between attempts is interrupted by ctx.
func Retry(ctx context.Context, policy Strategy, attempts int, op func(ctx context.Context) error) error {
	if policy == nil {
		policy = Default()
	}
	if attempts < 1 {
		attempts = 1
	}
	logger := logging.WithComponent("backoff")

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			logger.Debug("waiting before retry", "attempt", attempt+1, "delay", delay)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = op(ctx)
		if err == nil {
			policy.Reset()
			return nil
		}
		if !syncErrors.IsRetryable(err) {
			return err
		}
		logger.Warn("operation failed with retryable error", "attempt", attempt+1, "error", err)
	}
	return err
}
