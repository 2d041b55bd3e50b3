package eventhandler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON INTEGRITY VIOLATION HANDLER
// Audit trail for policy-relevant signals: seek manipulation, sustained
// inactivity, tab switches, and fullscreen exits during proctored attempts.
//
// Violations are recorded and logged, never acted on here. Enforcement
// already happened in the controller that published the event.
// ═══════════════════════════════════════════════════════════════════════════

// OnIntegrityViolationHandler logs violations and keeps per-type counters.
type OnIntegrityViolationHandler struct {
	mu     sync.Mutex
	counts map[shared.EventType]int64
	logger *zap.Logger
}

// NewOnIntegrityViolationHandler creates the handler.
func NewOnIntegrityViolationHandler(logger *zap.Logger) *OnIntegrityViolationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OnIntegrityViolationHandler{
		counts: make(map[shared.EventType]int64),
		logger: logger.With(zap.String("handler", "on_integrity_violation")),
	}
}

// EventTypes returns every violation event type this handler subscribes to.
func (h *OnIntegrityViolationHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventFastForwardDetected,
		shared.EventInactivityDetected,
		shared.EventTabSwitchDetected,
		shared.EventFullscreenViolation,
	}
}

// Handle implements shared.EventHandler.
func (h *OnIntegrityViolationHandler) Handle(event shared.Event) error {
	h.mu.Lock()
	h.counts[event.EventType()]++
	total := h.counts[event.EventType()]
	h.mu.Unlock()

	switch v := event.(type) {
	case shared.IntegrityViolationEvent:
		h.logger.Warn("integrity violation",
			zap.String("violation", string(v.EventType())),
			zap.String("user_id", v.Key.UserID.String()),
			zap.String("lesson_id", v.Key.LessonID.String()),
			zap.String("details", v.Details),
			zap.Int64("total_of_type", total),
		)
	case shared.FullscreenViolationEvent:
		h.logger.Warn("fullscreen violation",
			zap.String("user_id", v.UserID.String()),
			zap.String("assessment_id", v.AssessmentID.String()),
			zap.Int("exit_count", v.ExitCount),
			zap.Int("max_exits", v.MaxExits),
			zap.Int64("total_of_type", total),
		)
	default:
		h.logger.Warn("integrity violation",
			zap.String("violation", string(event.EventType())),
			zap.String("aggregate_id", event.AggregateID()),
			zap.Int64("total_of_type", total),
		)
	}

	return nil
}

// Counts returns a snapshot of violation counters by event type.
func (h *OnIntegrityViolationHandler) Counts() map[shared.EventType]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make(map[shared.EventType]int64, len(h.counts))
	for eventType, count := range h.counts {
		snapshot[eventType] = count
	}
	return snapshot
}
