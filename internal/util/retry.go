package util

import (
	"context"
	"time"
)

// Retry calls fn up to max+1 times with exponential backoff.
func Retry(ctx context.Context, max int, backoff time.Duration, fn func() error) error {
	return RetryIf(ctx, max, backoff, nil, fn)
}

// RetryIf is Retry that stops early on errors retryable rejects. A nil
// retryable retries everything.
func RetryIf(ctx context.Context, max int, backoff time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt <= max; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == max || (retryable != nil && !retryable(err)) {
			break
		}
		wait := backoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
