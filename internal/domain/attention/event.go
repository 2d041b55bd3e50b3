// Package attention contains domain entities and business logic for
// classifying raw browser signals (focus, visibility, input activity) into a
// typed, ordered event log and for deciding when an engagement policy
// threshold has been crossed. This is a pure domain layer with zero external
// dependencies.
package attention

import (
	"time"
)

// EventType classifies an attention event. Branching logic throughout the
// engine keys on this type, never on free text.
type EventType string

const (
	// EventHeartbeat is the periodic keep-alive carrying playback position.
	EventHeartbeat EventType = "heartbeat"

	// EventInactivity is emitted when no activity signal arrives for the
	// configured inactivity threshold while the lesson is visible.
	EventInactivity EventType = "inactivity"

	// EventTabSwitch is emitted when the document becomes hidden.
	EventTabSwitch EventType = "tab_switch"

	// EventFastForward is emitted by the playback guard when a reported
	// position jump is classified as seek manipulation.
	EventFastForward EventType = "fast_forward"

	// EventActivityResumed is emitted when activity returns after an
	// inactive or tab-hidden period.
	EventActivityResumed EventType = "activity_resumed"
)

// IsValid checks if the event type is known.
func (t EventType) IsValid() bool {
	switch t {
	case EventHeartbeat, EventInactivity, EventTabSwitch, EventFastForward, EventActivityResumed:
		return true
	default:
		return false
	}
}

// Critical reports whether the event must be flushed upstream immediately,
// bypassing heartbeat throttling. Critical events have to be durably
// recorded even if the session ends abruptly.
func (t EventType) Critical() bool {
	switch t {
	case EventFastForward, EventInactivity, EventTabSwitch:
		return true
	default:
		return false
	}
}

// Event is a classified attention signal. Events are immutable once created
// and are appended to an ordered log owned by a single viewing session;
// they are never reordered.
type Event struct {
	// Timestamp is when the signal was classified.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event classification.
	Type EventType `json:"event_type"`

	// Details carries optional context, e.g. the clamped seek distance.
	Details string `json:"details,omitempty"`
}

// NewEvent creates an immutable attention event.
func NewEvent(t EventType, details string, occurredAt time.Time) Event {
	return Event{
		Timestamp: occurredAt,
		Type:      t,
		Details:   details,
	}
}
