package attention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestNewRecorder_StartsActive(t *testing.T) {
	r := NewRecorder(DefaultInactivityThreshold, sessionStart)

	assert.Equal(t, StateActive, r.State())
	assert.Equal(t, sessionStart, r.LastActivity())
	assert.Empty(t, r.Events())
}

func TestNewRecorder_ThresholdFallback(t *testing.T) {
	r := NewRecorder(0, sessionStart)

	// With the default threshold a check just short of 15 minutes is quiet.
	assert.Nil(t, r.CheckInactivity(sessionStart.Add(15*time.Minute-time.Second)))
	assert.NotNil(t, r.CheckInactivity(sessionStart.Add(15*time.Minute)))
}

func TestCheckInactivity_FiresOnce(t *testing.T) {
	r := NewRecorder(15*time.Minute, sessionStart)

	assert.Nil(t, r.CheckInactivity(sessionStart.Add(10*time.Minute)))

	ev := r.CheckInactivity(sessionStart.Add(16 * time.Minute))
	require.NotNil(t, ev)
	assert.Equal(t, EventInactivity, ev.Type)
	assert.Equal(t, StateInactive, r.State())

	// Repeated checks while already inactive stay silent.
	assert.Nil(t, r.CheckInactivity(sessionStart.Add(17*time.Minute)))
	assert.Nil(t, r.CheckInactivity(sessionStart.Add(30*time.Minute)))
	assert.Len(t, r.Events(), 1)
}

func TestOnUserActivity_ResumesFromInactive(t *testing.T) {
	r := NewRecorder(15*time.Minute, sessionStart)
	require.NotNil(t, r.CheckInactivity(sessionStart.Add(16*time.Minute)))

	resumeAt := sessionStart.Add(20 * time.Minute)
	ev := r.OnUserActivity(resumeAt)
	require.NotNil(t, ev)
	assert.Equal(t, EventActivityResumed, ev.Type)
	assert.Equal(t, string(StateInactive), ev.Details)
	assert.Equal(t, StateActive, r.State())
	assert.Equal(t, resumeAt, r.LastActivity())
}

func TestOnUserActivity_WhileActiveOnlyAdvancesTimestamp(t *testing.T) {
	r := NewRecorder(15*time.Minute, sessionStart)

	later := sessionStart.Add(5 * time.Minute)
	assert.Nil(t, r.OnUserActivity(later))
	assert.Equal(t, later, r.LastActivity())
	assert.Empty(t, r.Events())

	// The advanced timestamp pushes the inactivity deadline out.
	assert.Nil(t, r.CheckInactivity(sessionStart.Add(19*time.Minute)))
	assert.NotNil(t, r.CheckInactivity(later.Add(15*time.Minute)))
}

func TestOnVisibilityChange_HiddenEmitsTabSwitch(t *testing.T) {
	r := NewRecorder(15*time.Minute, sessionStart)

	hiddenAt := sessionStart.Add(time.Minute)
	ev := r.OnVisibilityChange(true, hiddenAt)
	require.NotNil(t, ev)
	assert.Equal(t, EventTabSwitch, ev.Type)
	assert.Equal(t, StateTabHidden, r.State())

	// Duplicate hidden signals do not stack events.
	assert.Nil(t, r.OnVisibilityChange(true, hiddenAt.Add(time.Second)))
	assert.Len(t, r.Events(), 1)
}

func TestOnVisibilityChange_VisibleResumes(t *testing.T) {
	r := NewRecorder(15*time.Minute, sessionStart)
	require.NotNil(t, r.OnVisibilityChange(true, sessionStart.Add(time.Minute)))

	visibleAt := sessionStart.Add(2 * time.Minute)
	ev := r.OnVisibilityChange(false, visibleAt)
	require.NotNil(t, ev)
	assert.Equal(t, EventActivityResumed, ev.Type)
	assert.Equal(t, string(StateTabHidden), ev.Details)
	assert.Equal(t, StateActive, r.State())
}

func TestCheckInactivity_SilentWhileTabHidden(t *testing.T) {
	r := NewRecorder(15*time.Minute, sessionStart)
	require.NotNil(t, r.OnVisibilityChange(true, sessionStart.Add(time.Minute)))

	// A hidden tab is already reported as its own signal.
	assert.Nil(t, r.CheckInactivity(sessionStart.Add(40*time.Minute)))
	assert.Equal(t, StateTabHidden, r.State())
}

func TestEventLog_PreservesOrder(t *testing.T) {
	r := NewRecorder(15*time.Minute, sessionStart)

	r.OnVisibilityChange(true, sessionStart.Add(1*time.Minute))
	r.OnVisibilityChange(false, sessionStart.Add(2*time.Minute))
	r.CheckInactivity(sessionStart.Add(18 * time.Minute))
	r.Record(EventFastForward, "jump=42s", sessionStart.Add(19*time.Minute))

	types := make([]EventType, 0, len(r.Events()))
	for _, ev := range r.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventTabSwitch, EventActivityResumed, EventInactivity, EventFastForward}, types)
}

func TestEventType_Critical(t *testing.T) {
	assert.True(t, EventFastForward.Critical())
	assert.True(t, EventInactivity.Critical())
	assert.True(t, EventTabSwitch.Critical())
	assert.False(t, EventHeartbeat.Critical())
	assert.False(t, EventActivityResumed.Critical())
}
