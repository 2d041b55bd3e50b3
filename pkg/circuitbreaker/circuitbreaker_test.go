package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSinkDown = errors.New("sink down")

func failing(context.Context) error { return errSinkDown }
func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	cb := New("sink", WithFailureThreshold(3), WithTimeout(time.Hour))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errSinkDown)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Calls are rejected without reaching the sink.
	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	ctx := context.Background()
	cb := New("sink", WithFailureThreshold(2), WithTimeout(time.Hour))

	require.Error(t, cb.Execute(ctx, failing))
	require.NoError(t, cb.Execute(ctx, succeeding))
	require.Error(t, cb.Execute(ctx, failing))

	// The streak never reached two.
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ClosesAfterProbeSuccesses(t *testing.T) {
	ctx := context.Background()
	cb := New("sink",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithTimeout(time.Nanosecond),
	)

	require.Error(t, cb.Execute(ctx, failing))
	require.Equal(t, StateOpen, cb.State())
	time.Sleep(time.Millisecond)

	// First probe succeeds but one success is not enough to close.
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	ctx := context.Background()
	cb := New("sink", WithFailureThreshold(1), WithTimeout(time.Nanosecond))

	require.Error(t, cb.Execute(ctx, failing))
	time.Sleep(time.Millisecond)

	require.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_NotifiesOnStateChange(t *testing.T) {
	ctx := context.Background()

	type change struct{ from, to State }
	var changes []change
	cb := New("sink",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(time.Nanosecond),
		WithOnStateChange(func(name string, from, to State) {
			assert.Equal(t, "sink", name)
			changes = append(changes, change{from, to})
		}),
	)

	require.Error(t, cb.Execute(ctx, failing))
	time.Sleep(time.Millisecond)
	require.NoError(t, cb.Execute(ctx, succeeding))

	require.Len(t, changes, 3)
	assert.Equal(t, change{StateClosed, StateOpen}, changes[0])
	assert.Equal(t, change{StateOpen, StateHalfOpen}, changes[1])
	assert.Equal(t, change{StateHalfOpen, StateClosed}, changes[2])
}
