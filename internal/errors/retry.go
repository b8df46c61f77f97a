package errors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/beam-me/core/internal/logging"
)

// RetryConfig bounds the retries of one outbound call.
type RetryConfig struct {
	MaxAttempts  int           // retries after the first attempt
	BaseDelay    time.Duration // first backoff; doubles per retry
	MaxDelay     time.Duration // cap on a single backoff
	JitterFactor float64       // ±fraction of randomization
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = c.JitterFactor
	if c.MaxDelay > 0 {
		b.MaxInterval = c.MaxDelay
	}
	return b
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry is RetryWithResult for calls without a value.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc, logger logging.Logger) error {
	_, err := RetryWithResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, logger)
	return err
}

// RetryWithResult calls fn until it succeeds, fails with an error that is not
// transient, or has been retried config.MaxAttempts times.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)
	tries := max(config.MaxAttempts, 0) + 1

	attempt := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(config.backOff()),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("Attempt %d/%d failed, retrying in %s: %v", attempt, tries, next, err)
		}),
	)
	if err == nil {
		if attempt > 1 {
			logger.Info("Retry succeeded after %d attempts", attempt)
		}
		return result, nil
	}

	var permanent *backoff.PermanentError
	switch {
	case errors.As(err, &permanent):
		return result, permanent.Err
	case IsTransient(err):
		logger.Warn("Max retries (%d) exhausted", tries)
		return result, fmt.Errorf("max retries exceeded: %w", err)
	case ctx.Err() != nil:
		return result, fmt.Errorf("context cancelled: %w", err)
	default:
		return result, err
	}
}
