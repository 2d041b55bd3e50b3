package attention

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENTION STATES
// ══════════════════════════════════════════════════════════════════════════════

// State represents the learner's attention state for one viewing session.
type State string

const (
	// StateActive indicates recent input activity with the document visible.
	StateActive State = "active"

	// StateInactive indicates no activity signal for the inactivity
	// threshold while the document stayed visible. Sustained inactivity
	// while visible indicates disengagement.
	StateInactive State = "inactive"

	// StateTabHidden indicates the document is hidden. Tracked separately
	// from inactivity: a brief tab-hide is not a violation on its own.
	StateTabHidden State = "tab_hidden"
)

// IsValid checks if the state is known.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateInactive, StateTabHidden:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultInactivityThreshold is how long without an activity signal the
// recorder waits before classifying the learner as inactive.
const DefaultInactivityThreshold = 15 * time.Minute

// Recorder is the attention state machine for one viewing session. It
// classifies raw signals into Events, appends them to an ordered log, and
// never returns errors from classification: transitions either happen or
// they don't.
//
// Recorder is not safe for concurrent use; the owning session controller
// serializes all calls (single-threaded, timer-driven model).
type Recorder struct {
	state               State
	lastActivity        time.Time
	inactivityThreshold time.Duration
	log                 []Event
}

// NewRecorder creates a Recorder in the Active state.
// A non-positive threshold falls back to DefaultInactivityThreshold.
func NewRecorder(inactivityThreshold time.Duration, now time.Time) *Recorder {
	if inactivityThreshold <= 0 {
		inactivityThreshold = DefaultInactivityThreshold
	}
	return &Recorder{
		state:               StateActive,
		lastActivity:        now,
		inactivityThreshold: inactivityThreshold,
	}
}

// State returns the current attention state.
func (r *Recorder) State() State {
	return r.state
}

// LastActivity returns the time of the most recent activity signal.
func (r *Recorder) LastActivity() time.Time {
	return r.lastActivity
}

// Events returns the ordered event log for the session.
// The returned slice is the log itself; callers must not mutate it.
func (r *Recorder) Events() []Event {
	return r.log
}

// Record classifies and appends an event to the log, returning it.
func (r *Recorder) Record(t EventType, details string, now time.Time) Event {
	ev := NewEvent(t, details, now)
	r.log = append(r.log, ev)
	return ev
}

// OnUserActivity processes a raw activity signal (mousedown, keydown,
// mousemove, wheel, touchstart). If the learner was inactive or tab-hidden,
// the recorder transitions back to Active and emits activity_resumed;
// otherwise only the activity timestamp advances.
func (r *Recorder) OnUserActivity(now time.Time) *Event {
	r.lastActivity = now

	if r.state == StateActive {
		return nil
	}

	previous := r.state
	r.state = StateActive
	ev := r.Record(EventActivityResumed, string(previous), now)
	return &ev
}

// OnVisibilityChange processes a document visibility signal. Becoming
// hidden transitions to TabHidden and emits tab_switch; becoming visible
// again returns to Active through the same activity-resume path.
func (r *Recorder) OnVisibilityChange(hidden bool, now time.Time) *Event {
	if hidden {
		if r.state == StateTabHidden {
			return nil
		}
		r.state = StateTabHidden
		ev := r.Record(EventTabSwitch, "", now)
		return &ev
	}

	return r.OnUserActivity(now)
}

// CheckInactivity decides whether the inactivity threshold has been
// crossed. It only fires from the Active state: a hidden tab is already
// tracked as its own signal, and an inactive learner is reported once, not
// on every check.
func (r *Recorder) CheckInactivity(now time.Time) *Event {
	if r.state != StateActive {
		return nil
	}
	if now.Sub(r.lastActivity) < r.inactivityThreshold {
		return nil
	}

	r.state = StateInactive
	ev := r.Record(EventInactivity, "", now)
	return &ev
}
