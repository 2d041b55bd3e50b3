// Package retry re-runs failed operations with exponential backoff and
// jitter. It is used for connecting to backing services at startup, where a
// transient refusal should not kill the process.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// PermanentError marks an error that retrying cannot fix. Do returns the
// wrapped error immediately without further attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Option adjusts retrier behavior at construction time.
type Option func(*Retrier)

// WithMaxAttempts sets the total number of attempts, the first included.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithInitialDelay sets the wait before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.initialDelay = d
		}
	}
}

// WithMaxDelay caps the wait between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.maxDelay = d
		}
	}
}

// WithJitter sets the jitter fraction applied to each delay, in [0, 1].
func WithJitter(f float64) Option {
	return func(r *Retrier) {
		if f >= 0 && f <= 1 {
			r.jitter = f
		}
	}
}

// WithOnRetry registers a callback invoked before each retry sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// Retrier runs an operation until it succeeds, the attempt budget runs out,
// or the context is cancelled. Every error is considered transient unless
// wrapped with Permanent.
type Retrier struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	jitter       float64
	onRetry      func(attempt int, err error, delay time.Duration)
}

// New returns a retrier. Defaults: 3 attempts, 100ms initial delay doubling
// up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		maxAttempts:  3,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     30 * time.Second,
		jitter:       0.1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it returns nil. The last error is returned when the
// attempt budget is exhausted; a PermanentError or cancelled context stops
// retrying early.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	delay := r.initialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == r.maxAttempts {
			return lastErr
		}

		wait := r.withJitter(delay)
		if r.onRetry != nil {
			r.onRetry(attempt, err, wait)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}

		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}

func (r *Retrier) withJitter(d time.Duration) time.Duration {
	if r.jitter == 0 {
		return d
	}
	// Spread into [d*(1-jitter), d*(1+jitter)].
	spread := float64(d) * r.jitter * (rand.Float64()*2 - 1)
	jittered := time.Duration(float64(d) + spread)
	if jittered < 0 {
		return 0
	}
	return jittered
}

// DatabaseRetrier is tuned for the startup connection to PostgreSQL.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
	)
}

// CacheRetrier is tuned for Redis. The engine runs without the cache when
// this gives up, so it fails fast.
func CacheRetrier() *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(20*time.Millisecond),
		WithMaxDelay(200*time.Millisecond),
		WithJitter(0.1),
	)
}
