package engine

import (
	"context"
	"errors"
	"time"
)

// Retrier repeats a call with doubling backoff capped at Max. It knows nothing
// about trades so it can be tested with a fake sleep.
type Retrier struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (r Retrier) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if r.Max > 0 && next > r.Max {
		return r.Max
	}
	return next
}

// Retry runs fn until it succeeds, returns a permanent error, or attempts run
// out. It reports how many attempts were made.
func Retry[T any](ctx context.Context, r Retrier, fn func(attempt int) (T, error)) (T, int, error) {
	var zero T
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	wait := r.Base
	if r.Max > 0 && wait > r.Max {
		wait = r.Max
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		val, err := fn(attempt)
		if err == nil {
			return val, attempt, nil
		}
		lastErr = err
		if IsPermanent(err) || attempt == attempts {
			return zero, attempt, lastErr
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, attempt, err
		}
		wait = r.nextBackoff(wait)
	}
	return zero, attempts, lastErr
}
