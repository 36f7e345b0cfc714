package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig bounds retries of busy or locked operations.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns three retries starting at 50ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// withRetry runs fn, mapping its error and retrying only ErrBusy.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	if s.retry.InitialDelay > 0 {
		policy.InitialInterval = s.retry.InitialDelay
	}
	if s.retry.MaxDelay > 0 {
		policy.MaxInterval = s.retry.MaxDelay
	}
	tries := uint(1)
	if s.retry.MaxRetries > 0 {
		tries += uint(s.retry.MaxRetries)
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := mapError(fn())
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrBusy) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug("retrying busy database operation", "op", op, "wait", wait, "error", err)
		}),
	)
	return err
}
