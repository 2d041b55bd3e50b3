package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumenlms/integrity-engine/internal/domain/attention"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// WatchSession is the per-(user, lesson) watch record. It is created on the
// first heartbeat for a lesson key and mutated in place by every subsequent
// heartbeat; only the owning heartbeat aggregator writes to it.
type WatchSession struct {
	// ID uniquely identifies this viewing session.
	ID string

	// Key identifies the (user, course, module, lesson) stream.
	Key shared.LessonKey

	// StartTime is when the first heartbeat arrived.
	StartTime time.Time

	// EndTime is when the session was closed, nil while active.
	EndTime *time.Time

	// WatchedDuration is the accumulated, guard-bounded watch time.
	WatchedDuration time.Duration

	// TotalDuration is the lesson media length.
	TotalDuration time.Duration

	// Completed is set exactly once when the threshold is crossed and is
	// never unset.
	Completed bool

	// Status is the monotone completion status for the session.
	Status Status

	// Events is the ordered attention event log for the session.
	Events []attention.Event
}

// NewWatchSession creates a WatchSession for its first heartbeat.
func NewWatchSession(key shared.LessonKey, totalDuration time.Duration, now time.Time) (*WatchSession, error) {
	if !key.IsValid() {
		return nil, shared.NewDomainError("progress", "NewWatchSession", shared.ErrInvalidID, "invalid lesson key")
	}
	if totalDuration <= 0 {
		return nil, ErrNonPositiveTotal
	}

	return &WatchSession{
		ID:            uuid.NewString(),
		Key:           key,
		StartTime:     now,
		TotalDuration: totalDuration,
		Status:        StatusNotStarted,
	}, nil
}

// ErrNonPositiveTotal is returned when a session is created without a media length.
var ErrNonPositiveTotal = shared.NewDomainError("progress", "NewWatchSession", shared.ErrInvalidInput, "total duration must be positive")

// Advance applies a new watched-duration sample and recomputes status as a
// monotone max: watched time never decreases, and once Completed the status
// never reverts even if a later, shorter viewing reports a lower
// percentage. Returns true when this sample is the one that completed the
// session.
func (s *WatchSession) Advance(watched time.Duration, calc Calculator) bool {
	if watched > s.WatchedDuration {
		s.WatchedDuration = watched
	}

	snap := calc.Compute(s.WatchedDuration, s.TotalDuration)
	if snap.Status.AtLeast(s.Status) {
		s.Status = snap.Status
	}

	if s.Status == StatusCompleted && !s.Completed {
		s.Completed = true
		return true
	}
	return false
}

// Percentage returns the current percentage watched.
func (s *WatchSession) Percentage() shared.Percentage {
	return shared.Ratio(s.WatchedDuration.Seconds(), s.TotalDuration.Seconds())
}

// AppendEvent appends an attention event to the ordered session log.
func (s *WatchSession) AppendEvent(ev attention.Event) {
	s.Events = append(s.Events, ev)
}

// Close marks the session ended. Closing is idempotent.
func (s *WatchSession) Close(now time.Time) {
	if s.EndTime != nil {
		return
	}
	t := now
	s.EndTime = &t
}

// IsActive reports whether the session is still open.
func (s *WatchSession) IsActive() bool {
	return s.EndTime == nil
}
