package utils

import (
	"context"
	"errors"
	"math"
	"time"
)

// Strategy decides whether an action that failed with err after the given
// number of attempts should be tried again. Strategies may block (backoff).
type Strategy func(ctx context.Context, attempts uint, err error) bool

// BackoffFunc returns the delay before the next attempt. attempts starts at 1.
type BackoffFunc func(attempts uint) time.Duration

// Retry runs action until it succeeds, the context is done, or one of the
// strategies refuses another attempt. Strategies run in order, so the ones
// that sleep should come last. It returns the number of attempts made and the
// error of the final attempt.
func Retry(ctx context.Context, action func(ctx context.Context) error, strategies ...Strategy) (uint, error) {
	for i := uint(1); ; i++ {
		err := action(ctx)
		if err == nil {
			return i, nil
		}

		if ctx.Err() != nil {
			return i, err
		}

		for _, s := range strategies {
			if !s(ctx, i, err) {
				return i, err
			}
		}
	}
}

// Limit caps the total number of attempts.
func Limit(maxAttempts uint) Strategy {
	return func(_ context.Context, attempts uint, _ error) bool {
		return attempts < maxAttempts
	}
}

// NonRetriableErrors stops on any error matching one of errs.
func NonRetriableErrors(errs ...error) Strategy {
	return func(_ context.Context, _ uint, err error) bool {
		for _, e := range errs {
			if errors.Is(err, e) {
				return false
			}
		}
		return true
	}
}

// RetriableIf retries only errors accepted by fn.
func RetriableIf(fn func(err error) bool) Strategy {
	return func(_ context.Context, _ uint, err error) bool {
		return fn(err)
	}
}

// Backoff sleeps for the delay given by fn, capped at maxBackoff. It gives up
// early when the context is cancelled while sleeping.
func Backoff(fn BackoffFunc, maxBackoff time.Duration) Strategy {
	return func(ctx context.Context, attempts uint, _ error) bool {
		delay := fn(attempts)
		if maxBackoff > 0 && delay > maxBackoff {
			delay = maxBackoff
		}

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
}

// LinearBackoff waits baseDelay * attempts.
//
// Ex. LinearBackoff(time.Second) = 1s, 2s, 3s, ...
func LinearBackoff(baseDelay time.Duration) BackoffFunc {
	return func(attempts uint) time.Duration {
		if delay := baseDelay * time.Duration(attempts); delay >= 0 {
			return delay
		}
		return math.MaxInt64
	}
}

// ExponentialBackoff waits baseDelay * base^(attempts-1).
//
// Ex. ExponentialBackoff(time.Second, 2) = 1s, 2s, 4s, ...
func ExponentialBackoff(baseDelay time.Duration, base float64) BackoffFunc {
	return func(attempts uint) time.Duration {
		if delay := baseDelay * time.Duration(math.Pow(base, float64(attempts-1))); delay >= 0 {
			return delay
		}
		return math.MaxInt64
	}
}
