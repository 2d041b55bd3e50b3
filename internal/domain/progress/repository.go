package progress

import (
	"context"
	"time"

	"github.com/lumenlms/integrity-engine/internal/domain/attention"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// Heartbeat is one upstream progress report. CurrentTime is bounded by the
// playback guard before it reaches the sink, so the sink only ever sees
// positions the learner plausibly reached.
type Heartbeat struct {
	// Key identifies the watch stream.
	Key shared.LessonKey

	// SessionID is the viewing session the report belongs to.
	SessionID string

	// CurrentTime is the guard-corrected playback position.
	CurrentTime time.Duration

	// TotalDuration is the lesson media length.
	TotalDuration time.Duration

	// Event is the attention event that triggered the flush, if any.
	Event *attention.Event

	// Buffered carries the attention events accumulated since the previous
	// flush, in temporal order. Never reordered.
	Buffered []attention.Event

	// SentAt is when the aggregator issued the flush.
	SentAt time.Time
}

// Ack is the collaborator's response to a heartbeat. The server-side
// percentage and status are authoritative: the client-side calculator is UX,
// not a security boundary.
type Ack struct {
	Success           bool
	PercentageWatched shared.Percentage
	Status            Status
}

// HeartbeatSink is the external persistence collaborator consumed by the
// heartbeat aggregator. Implementations are provided by the infrastructure
// layer; the domain layer has no knowledge of the storage mechanism.
type HeartbeatSink interface {
	// RecordHeartbeat durably records one progress report and returns the
	// authoritative completion state. Delivery failures are transient: the
	// caller logs them and the next heartbeat recovers the progress.
	RecordHeartbeat(ctx context.Context, hb Heartbeat) (Ack, error)
}

// Repository defines watch-session persistence for query surfaces
// (dashboards, audits). The aggregator itself only needs HeartbeatSink.
type Repository interface {
	// GetSession returns the watch session for a lesson key, if any.
	GetSession(ctx context.Context, key shared.LessonKey) (*WatchSession, error)

	// GetSessionsByUser returns all watch sessions for a user within a time range.
	GetSessionsByUser(ctx context.Context, userID shared.UserID, from, to time.Time) ([]*WatchSession, error)

	// GetCourseCompletion returns per-lesson completion status for a user and course.
	GetCourseCompletion(ctx context.Context, userID shared.UserID, courseID shared.CourseID) (map[shared.LessonID]Status, error)

	// GetSessionEvents returns the ordered attention event log for a
	// viewing session.
	GetSessionEvents(ctx context.Context, sessionID string) ([]attention.Event, error)
}
