package messaging

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(Config{AsyncMode: false})
}

func testKey() shared.LessonKey {
	return shared.LessonKey{
		UserID:   shared.UserID("7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"),
		CourseID: shared.CourseID("go-fundamentals"),
		ModuleID: shared.ModuleID("week01"),
		LessonID: shared.LessonID("goroutines-intro"),
	}
}

func TestPublish_RoutesByEventType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var completed, violations int
	require.NoError(t, bus.Subscribe(shared.EventLessonCompleted, func(shared.Event) error {
		completed++
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventTabSwitchDetected, func(shared.Event) error {
		violations++
		return nil
	}))

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(shared.NewLessonCompletedEvent(testKey(), 92, now)))
	require.NoError(t, bus.Publish(shared.NewIntegrityViolationEvent(shared.EventTabSwitchDetected, testKey(), "", now)))
	require.NoError(t, bus.Publish(shared.NewIntegrityViolationEvent(shared.EventFastForwardDetected, testKey(), "jump=42s", now)))

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, violations)
}

func TestSubscribeAll_SeesEverything(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(ev shared.Event) error {
		seen = append(seen, ev.EventType())
		return nil
	}))

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(shared.NewLessonCompletedEvent(testKey(), 95, now)))
	require.NoError(t, bus.Publish(shared.NewIntegrityViolationEvent(shared.EventInactivityDetected, testKey(), "", now)))

	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted, shared.EventInactivityDetected}, seen)
}

func TestPublish_HandlerErrorDoesNotPropagate(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		return errors.New("audit sink down")
	}))

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.NoError(t, bus.Publish(shared.NewLessonCompletedEvent(testKey(), 95, now)))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalHandlerExecs)
	assert.Equal(t, 0.0, snap.HandlerSuccessRate)
}

func TestPublish_AsyncDeliversThroughWorkerPool(t *testing.T) {
	bus := NewInMemoryEventBus(Config{AsyncMode: true, WorkerPoolSize: 2})

	var mu sync.Mutex
	var count int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewIntegrityViolationEvent(shared.EventFastForwardDetected, testKey(), "", now)))
	}

	// Close waits for pending handlers.
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
}

func TestClosedBus_RejectsOperations(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, bus.Publish(shared.NewLessonCompletedEvent(testKey(), 95, now)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLessonCompleted, func(shared.Event) error { return nil }), ErrEventBusClosed)

	// Closing twice is fine.
	assert.NoError(t, bus.Close())
}

func TestMetrics_CountsPerType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(shared.NewIntegrityViolationEvent(shared.EventTabSwitchDetected, testKey(), "", now)))
	}

	assert.Equal(t, int64(3), bus.Metrics().PublishedByType(shared.EventTabSwitchDetected))
	assert.Equal(t, int64(0), bus.Metrics().PublishedByType(shared.EventLessonCompleted))
}
