package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

var quotaStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestCheckAndConsume_WindowCap(t *testing.T) {
	tr := NewTracker(DefaultConfig(), NewMemoryStore())
	ctx := context.Background()

	// Six requests inside one hour fill the window.
	for i := 0; i < DefaultWindowCap; i++ {
		d, err := tr.CheckAndConsume(ctx, "user-1", quotaStart.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, DefaultWindowCap-i-1, d.RemainingWindow)
	}

	// The seventh inside the window is rejected.
	d, err := tr.CheckAndConsume(ctx, "user-1", quotaStart.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, 0, d.RemainingWindow)
	assert.Equal(t, DefaultWindowCap, d.WindowCap)

	// A rejection consumes nothing from the lifetime budget.
	assert.Equal(t, DefaultLifetimeCap-DefaultWindowCap, d.RemainingLifetime)
}

func TestCheckAndConsume_WindowSlides(t *testing.T) {
	tr := NewTracker(Config{WindowSize: time.Hour, WindowCap: 2, LifetimeCap: 50}, NewMemoryStore())
	ctx := context.Background()

	_, err := tr.CheckAndConsume(ctx, "user-1", quotaStart)
	require.NoError(t, err)
	_, err = tr.CheckAndConsume(ctx, "user-1", quotaStart.Add(30*time.Minute))
	require.NoError(t, err)

	d, err := tr.CheckAndConsume(ctx, "user-1", quotaStart.Add(45*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// An hour after the first request it falls out of the window and one
	// slot opens up.
	d, err = tr.CheckAndConsume(ctx, "user-1", quotaStart.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.RemainingWindow)
}

func TestCheckAndConsume_LifetimeCap(t *testing.T) {
	tr := NewTracker(Config{WindowSize: time.Hour, WindowCap: 100, LifetimeCap: 3}, NewMemoryStore())
	ctx := context.Background()

	now := quotaStart
	for i := 0; i < 3; i++ {
		now = now.Add(2 * time.Hour)
		d, err := tr.CheckAndConsume(ctx, "user-1", now)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3-i-1, d.RemainingLifetime)
	}

	// The lifetime cap never resets, even with an empty window.
	d, err := tr.CheckAndConsume(ctx, "user-1", now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLifetimeExhausted, d.Reason)
	assert.Equal(t, 0, d.RemainingLifetime)
}

func TestCheckAndConsume_LifetimeCheckedBeforeWindow(t *testing.T) {
	tr := NewTracker(Config{WindowSize: time.Hour, WindowCap: 1, LifetimeCap: 1}, NewMemoryStore())
	ctx := context.Background()

	d, err := tr.CheckAndConsume(ctx, "user-1", quotaStart)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Both caps are spent; the lifetime reason wins.
	d, err = tr.CheckAndConsume(ctx, "user-1", quotaStart.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLifetimeExhausted, d.Reason)
}

func TestCheckAndConsume_SubjectsAreIndependent(t *testing.T) {
	tr := NewTracker(Config{WindowSize: time.Hour, WindowCap: 1, LifetimeCap: 50}, NewMemoryStore())
	ctx := context.Background()

	d, err := tr.CheckAndConsume(ctx, "user-1", quotaStart)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = tr.CheckAndConsume(ctx, "user-1", quotaStart.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = tr.CheckAndConsume(ctx, "user-2", quotaStart.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckAndConsume_EmptySubject(t *testing.T) {
	tr := NewTracker(DefaultConfig(), NewMemoryStore())

	_, err := tr.CheckAndConsume(context.Background(), "", quotaStart)
	assert.ErrorIs(t, err, shared.ErrSubjectEmpty)
}

type failingStore struct {
	loadErr error
	saveErr error
}

func (f *failingStore) Load(context.Context, string) (*State, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return nil, nil
}

func (f *failingStore) Save(context.Context, *State) error {
	return f.saveErr
}

func TestCheckAndConsume_StoreFailures(t *testing.T) {
	boom := errors.New("connection refused")

	tr := NewTracker(DefaultConfig(), &failingStore{loadErr: boom})
	_, err := tr.CheckAndConsume(context.Background(), "user-1", quotaStart)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, shared.ErrExternalService)

	tr = NewTracker(DefaultConfig(), &failingStore{saveErr: boom})
	_, err = tr.CheckAndConsume(context.Background(), "user-1", quotaStart)
	assert.ErrorIs(t, err, boom)
}

func TestStatePrune_PreservesOrder(t *testing.T) {
	s := NewState("user-1")
	s.Admit(quotaStart)
	s.Admit(quotaStart.Add(10 * time.Minute))
	s.Admit(quotaStart.Add(20 * time.Minute))

	s.Prune(quotaStart.Add(65*time.Minute), time.Hour)

	require.Len(t, s.WindowRequests, 2)
	assert.Equal(t, quotaStart.Add(10*time.Minute), s.WindowRequests[0])
	assert.Equal(t, quotaStart.Add(20*time.Minute), s.WindowRequests[1])
	// Pruning the window never touches lifetime usage.
	assert.Equal(t, 3, s.TotalUsage)
}
