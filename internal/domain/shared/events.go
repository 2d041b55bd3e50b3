package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven side of the engine.
// Each event represents a policy-relevant fact derived from raw client signals.
const (
	// Watch progress events
	EventLessonStarted   EventType = "progress.lesson_started"
	EventLessonCompleted EventType = "progress.lesson_completed"
	EventHeartbeatSent   EventType = "progress.heartbeat_sent"

	// Integrity events
	EventFastForwardDetected EventType = "integrity.fast_forward_detected"
	EventInactivityDetected  EventType = "integrity.inactivity_detected"
	EventTabSwitchDetected   EventType = "integrity.tab_switch_detected"

	// Assessment events
	EventAssessmentStarted   EventType = "assessment.started"
	EventFullscreenViolation EventType = "assessment.fullscreen_violation"
	EventRestartRequired     EventType = "assessment.restart_required"
	EventAssessmentSubmitted EventType = "assessment.submitted"

	// Quota events
	EventQuotaWindowExceeded   EventType = "quota.window_exceeded"
	EventQuotaLifetimeExceeded EventType = "quota.lifetime_exceeded"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, occurredAt time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   occurredAt,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent is emitted the moment a watch stream crosses the
// completion threshold. It is emitted at most once per lesson key.
type LessonCompletedEvent struct {
	BaseEvent
	Key               LessonKey  `json:"key"`
	PercentageWatched Percentage `json:"percentage_watched"`
}

// Payload implements Event interface.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":            e.Key.UserID.String(),
		"course_id":          e.Key.CourseID.String(),
		"module_id":          e.Key.ModuleID.String(),
		"lesson_id":          e.Key.LessonID.String(),
		"percentage_watched": e.PercentageWatched.Float64(),
	}
}

// NewLessonCompletedEvent creates a new LessonCompletedEvent.
func NewLessonCompletedEvent(key LessonKey, pct Percentage, occurredAt time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent:         NewBaseEvent(EventLessonCompleted, key.String(), occurredAt),
		Key:               key,
		PercentageWatched: pct,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Integrity Events
// ═══════════════════════════════════════════════════════════════════════════

// IntegrityViolationEvent is emitted when a policy-relevant signal is
// classified: seek manipulation, sustained inactivity, or a tab switch.
type IntegrityViolationEvent struct {
	BaseEvent
	Key     LessonKey `json:"key"`
	Details string    `json:"details,omitempty"`
}

// Payload implements Event interface.
func (e IntegrityViolationEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.Key.UserID.String(),
		"course_id": e.Key.CourseID.String(),
		"lesson_id": e.Key.LessonID.String(),
		"details":   e.Details,
	}
}

// NewIntegrityViolationEvent creates an IntegrityViolationEvent of the given type.
func NewIntegrityViolationEvent(eventType EventType, key LessonKey, details string, occurredAt time.Time) IntegrityViolationEvent {
	return IntegrityViolationEvent{
		BaseEvent: NewBaseEvent(eventType, key.String(), occurredAt),
		Key:       key,
		Details:   details,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Assessment Events
// ═══════════════════════════════════════════════════════════════════════════

// FullscreenViolationEvent is emitted on each fullscreen exit during a
// proctored attempt, carrying the running violation count.
type FullscreenViolationEvent struct {
	BaseEvent
	UserID       UserID       `json:"user_id"`
	AssessmentID AssessmentID `json:"assessment_id"`
	ExitCount    int          `json:"exit_count"`
	MaxExits     int          `json:"max_exits"`
}

// Payload implements Event interface.
func (e FullscreenViolationEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID.String(),
		"assessment_id": e.AssessmentID.String(),
		"exit_count":    e.ExitCount,
		"max_exits":     e.MaxExits,
	}
}

// NewFullscreenViolationEvent creates a new FullscreenViolationEvent.
func NewFullscreenViolationEvent(userID UserID, assessmentID AssessmentID, exitCount, maxExits int, occurredAt time.Time) FullscreenViolationEvent {
	return FullscreenViolationEvent{
		BaseEvent:    NewBaseEvent(EventFullscreenViolation, string(assessmentID), occurredAt),
		UserID:       userID,
		AssessmentID: assessmentID,
		ExitCount:    exitCount,
		MaxExits:     maxExits,
	}
}

// AssessmentSubmittedEvent is emitted after a successful batch submission.
type AssessmentSubmittedEvent struct {
	BaseEvent
	UserID       UserID       `json:"user_id"`
	AssessmentID AssessmentID `json:"assessment_id"`
	Score        Score        `json:"score"`
	Passed       bool         `json:"passed"`
}

// Payload implements Event interface.
func (e AssessmentSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID.String(),
		"assessment_id": e.AssessmentID.String(),
		"score":         e.Score.Int(),
		"passed":        e.Passed,
	}
}

// NewAssessmentSubmittedEvent creates a new AssessmentSubmittedEvent.
func NewAssessmentSubmittedEvent(userID UserID, assessmentID AssessmentID, score Score, passed bool, occurredAt time.Time) AssessmentSubmittedEvent {
	return AssessmentSubmittedEvent{
		BaseEvent:    NewBaseEvent(EventAssessmentSubmitted, string(assessmentID), occurredAt),
		UserID:       userID,
		AssessmentID: assessmentID,
		Score:        score,
		Passed:       passed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
