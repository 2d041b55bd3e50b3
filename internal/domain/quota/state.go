// Package quota contains the generic sliding-window and lifetime-cap
// counter used to gate AI-chat requests and to prevent message spam.
// Admission logic is pure; persistence goes through the Store interface.
package quota

import (
	"time"
)

// State is the per-subject quota record. WindowRequests is logically pruned
// to entries inside the active window on every check; TotalUsage increments
// monotonically and never resets. State is created lazily on a subject's
// first request and never deleted during normal operation.
type State struct {
	// SubjectID identifies the quota owner (typically a user ID).
	SubjectID string

	// WindowRequests holds the timestamps of admitted requests, oldest first.
	WindowRequests []time.Time

	// TotalUsage is the lifetime count of admitted requests.
	TotalUsage int
}

// NewState creates an empty quota state for a subject.
func NewState(subjectID string) *State {
	return &State{SubjectID: subjectID}
}

// Prune drops window entries older than the window size, preserving order.
func (s *State) Prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(s.WindowRequests) && !s.WindowRequests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.WindowRequests = append(s.WindowRequests[:0], s.WindowRequests[i:]...)
	}
}

// Admit records an admitted request at the given time.
func (s *State) Admit(now time.Time) {
	s.WindowRequests = append(s.WindowRequests, now)
	s.TotalUsage++
}
