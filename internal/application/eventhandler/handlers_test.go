package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

type fakeInvalidator struct {
	keys []shared.LessonKey
	err  error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, key shared.LessonKey) error {
	f.keys = append(f.keys, key)
	return f.err
}

func lessonKey() shared.LessonKey {
	return shared.LessonKey{
		UserID:   shared.UserID("7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"),
		CourseID: shared.CourseID("go-fundamentals"),
		ModuleID: shared.ModuleID("week02"),
		LessonID: shared.LessonID("channels-select"),
	}
}

func TestOnLessonCompleted_InvalidatesCache(t *testing.T) {
	cache := &fakeInvalidator{}
	h := NewOnLessonCompletedHandler(cache, nil)

	event := shared.NewLessonCompletedEvent(lessonKey(), shared.NewPercentage(92.5), time.Now())
	require.NoError(t, h.Handle(event))

	require.Len(t, cache.keys, 1)
	assert.Equal(t, lessonKey(), cache.keys[0])
}

func TestOnLessonCompleted_InvalidationErrorNotPropagated(t *testing.T) {
	cache := &fakeInvalidator{err: errors.New("redis down")}
	h := NewOnLessonCompletedHandler(cache, nil)

	event := shared.NewLessonCompletedEvent(lessonKey(), shared.NewPercentage(95), time.Now())
	assert.NoError(t, h.Handle(event))
}

func TestOnLessonCompleted_NilCache(t *testing.T) {
	h := NewOnLessonCompletedHandler(nil, nil)

	event := shared.NewLessonCompletedEvent(lessonKey(), shared.NewPercentage(90), time.Now())
	assert.NoError(t, h.Handle(event))
}

func TestOnLessonCompleted_IgnoresOtherEventTypes(t *testing.T) {
	cache := &fakeInvalidator{}
	h := NewOnLessonCompletedHandler(cache, nil)

	event := shared.NewIntegrityViolationEvent(shared.EventTabSwitchDetected, lessonKey(), "", time.Now())
	require.NoError(t, h.Handle(event))
	assert.Empty(t, cache.keys)
}

func TestOnIntegrityViolation_CountsByType(t *testing.T) {
	h := NewOnIntegrityViolationHandler(nil)

	now := time.Now()
	require.NoError(t, h.Handle(shared.NewIntegrityViolationEvent(shared.EventTabSwitchDetected, lessonKey(), "", now)))
	require.NoError(t, h.Handle(shared.NewIntegrityViolationEvent(shared.EventTabSwitchDetected, lessonKey(), "", now)))
	require.NoError(t, h.Handle(shared.NewIntegrityViolationEvent(shared.EventFastForwardDetected, lessonKey(), "jump=120s", now)))
	require.NoError(t, h.Handle(shared.NewFullscreenViolationEvent(
		lessonKey().UserID, shared.AssessmentID("midterm-01"), 1, 3, now)))

	counts := h.Counts()
	assert.Equal(t, int64(2), counts[shared.EventTabSwitchDetected])
	assert.Equal(t, int64(1), counts[shared.EventFastForwardDetected])
	assert.Equal(t, int64(1), counts[shared.EventFullscreenViolation])
	assert.Zero(t, counts[shared.EventInactivityDetected])
}

func TestOnIntegrityViolation_SubscribesToAllViolationTypes(t *testing.T) {
	h := NewOnIntegrityViolationHandler(nil)

	assert.ElementsMatch(t, []shared.EventType{
		shared.EventFastForwardDetected,
		shared.EventInactivityDetected,
		shared.EventTabSwitchDetected,
		shared.EventFullscreenViolation,
	}, h.EventTypes())
}
