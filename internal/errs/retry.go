package errs

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig bounds the exponential backoff applied to transient failures.
type RetryConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// MaxElapsed is the total budget across attempts, including waits.
	MaxElapsed time.Duration
}

// DefaultRetryConfig matches the board-call contract: 0.5s initial,
// doubling to an 8s ceiling, 30s total budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     8 * time.Second,
		MaxElapsed:      30 * time.Second,
	}
}

// Retry runs fn until it succeeds, fails permanently, or the default
// budget is exhausted. Only errors classified transient by IsTransient
// are retried; a TransientError carrying RetryAfter overrides the
// backoff wait for that attempt.
func Retry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return RetryWith(ctx, DefaultRetryConfig(), fn)
}

// RetryWith is Retry with an explicit budget, for callers and tests that
// need tighter bounds.
func RetryWith[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		var te *TransientError
		if errors.As(err, &te) && te.RetryAfter > 0 {
			return v, &backoff.RetryAfterError{Duration: te.RetryAfter}
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(cfg.MaxElapsed))
}
