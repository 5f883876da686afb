package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Jitter adds randomness to each wait to prevent thundering herd.
	Jitter bool
}

// DefaultRetryConfig matches the backend middleware contract:
// wait min(base*2^attempt + jitter, cap), base 1s, cap 60s, 5 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      true,
	}
}

// Backoff returns the wait before retry number attempt (0-indexed).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			d = c.MaxDelay
			break
		}
	}
	if c.Jitter {
		// Full jitter over the upper half keeps a floor under the wait.
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Retry runs fn with exponential backoff until it succeeds, the attempt
// budget is spent, or fn returns a non-retryable error. Context
// cancellation aborts waits immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Wrap(KindCancelled, "retry aborted", err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if IsCancelled(err) || !KindOf(err).Retryable() {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Wrap(KindCancelled, "retry aborted", ctx.Err())
		case <-time.After(cfg.Backoff(attempt)):
		}
	}
	return lastErr
}

// RetryWithResult is Retry for functions that return a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func() error {
		var ferr error
		result, ferr = fn()
		return ferr
	})
	return result, err
}
