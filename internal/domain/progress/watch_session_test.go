package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlms/integrity-engine/internal/domain/attention"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

var watchStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testLessonKey() shared.LessonKey {
	return shared.LessonKey{
		UserID:   shared.UserID("7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"),
		CourseID: shared.CourseID("go-fundamentals"),
		ModuleID: shared.ModuleID("week01"),
		LessonID: shared.LessonID("goroutines-intro"),
	}
}

func TestNewWatchSession(t *testing.T) {
	s, err := NewWatchSession(testLessonKey(), 600*time.Second, watchStart)
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, watchStart, s.StartTime)
	assert.Equal(t, StatusNotStarted, s.Status)
	assert.False(t, s.Completed)
	assert.True(t, s.IsActive())
}

func TestNewWatchSession_Validation(t *testing.T) {
	_, err := NewWatchSession(shared.LessonKey{}, 600*time.Second, watchStart)
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewWatchSession(testLessonKey(), 0, watchStart)
	assert.ErrorIs(t, err, ErrNonPositiveTotal)
}

// A ten-minute lesson with the 90% threshold: 500s watched is in progress,
// 550s completes, and a later lower sample does not revert completion.
func TestAdvance_ThresholdCrossing(t *testing.T) {
	s, err := NewWatchSession(testLessonKey(), 600*time.Second, watchStart)
	require.NoError(t, err)
	calc := NewCalculator(DefaultCompletionThreshold)

	completed := s.Advance(500*time.Second, calc)
	assert.False(t, completed)
	assert.Equal(t, StatusInProgress, s.Status)
	assert.InDelta(t, 83.33, s.Percentage().Float64(), 0.01)

	completed = s.Advance(550*time.Second, calc)
	assert.True(t, completed)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.True(t, s.Completed)

	// Completion fires exactly once.
	completed = s.Advance(590*time.Second, calc)
	assert.False(t, completed)
	assert.Equal(t, StatusCompleted, s.Status)
}

func TestAdvance_WatchedTimeIsMonotone(t *testing.T) {
	s, err := NewWatchSession(testLessonKey(), 600*time.Second, watchStart)
	require.NoError(t, err)
	calc := NewCalculator(DefaultCompletionThreshold)

	s.Advance(300*time.Second, calc)
	// A lower sample (e.g. after a rewind) never shrinks watched time.
	s.Advance(100*time.Second, calc)
	assert.Equal(t, 300*time.Second, s.WatchedDuration)
	assert.Equal(t, StatusInProgress, s.Status)
}

func TestAdvance_CompletedNeverReverts(t *testing.T) {
	s, err := NewWatchSession(testLessonKey(), 600*time.Second, watchStart)
	require.NoError(t, err)
	calc := NewCalculator(DefaultCompletionThreshold)

	require.True(t, s.Advance(580*time.Second, calc))

	s.Advance(10*time.Second, calc)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.True(t, s.Completed)
	assert.Equal(t, 580*time.Second, s.WatchedDuration)
}

func TestAppendEvent_PreservesOrder(t *testing.T) {
	s, err := NewWatchSession(testLessonKey(), 600*time.Second, watchStart)
	require.NoError(t, err)

	s.AppendEvent(attention.NewEvent(attention.EventTabSwitch, "", watchStart.Add(time.Minute)))
	s.AppendEvent(attention.NewEvent(attention.EventActivityResumed, "tab_hidden", watchStart.Add(2*time.Minute)))

	require.Len(t, s.Events, 2)
	assert.Equal(t, attention.EventTabSwitch, s.Events[0].Type)
	assert.Equal(t, attention.EventActivityResumed, s.Events[1].Type)
}

func TestClose_Idempotent(t *testing.T) {
	s, err := NewWatchSession(testLessonKey(), 600*time.Second, watchStart)
	require.NoError(t, err)

	endAt := watchStart.Add(10 * time.Minute)
	s.Close(endAt)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, endAt, *s.EndTime)
	assert.False(t, s.IsActive())

	s.Close(endAt.Add(time.Hour))
	assert.Equal(t, endAt, *s.EndTime)
}
