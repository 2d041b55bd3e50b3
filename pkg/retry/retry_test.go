package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection refused")

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	r := New(WithMaxAttempts(3), WithInitialDelay(time.Millisecond))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ExhaustsAttemptBudget(t *testing.T) {
	r := New(WithMaxAttempts(2), WithInitialDelay(time.Millisecond))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestRetrier_PermanentErrorStopsImmediately(t *testing.T) {
	r := New(WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

	errAuth := errors.New("bad credentials")
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errAuth)
	})

	assert.ErrorIs(t, err, errAuth)
	assert.Equal(t, 1, calls)
}

func TestRetrier_CancelledContextReturnsLastError(t *testing.T) {
	r := New(WithMaxAttempts(10), WithInitialDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Do(ctx, func(context.Context) error {
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
}

func TestRetrier_NotifiesBeforeEachRetry(t *testing.T) {
	var attempts []int
	r := New(
		WithMaxAttempts(3),
		WithInitialDelay(time.Millisecond),
		WithJitter(0),
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			assert.ErrorIs(t, err, errTransient)
			assert.Positive(t, delay)
		}),
	)

	_ = r.Do(context.Background(), func(context.Context) error {
		return errTransient
	})

	assert.Equal(t, []int{1, 2}, attempts)
}
