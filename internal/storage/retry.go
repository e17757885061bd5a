package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// WithRetry executes fn, retrying up to maxRetries times when it fails with
// ErrConflict. Retries use jittered exponential backoff starting at baseDelay.
// The last error is returned unchanged so callers can still classify it.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		var jitter time.Duration
		if baseDelay > 0 {
			jitter = time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
