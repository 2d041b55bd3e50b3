// Package eventhandler contains subscribers for domain events published on
// the engine's event bus. Handlers are side-effect only: they never change
// the decision a controller already made, they react to it.
package eventhandler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LESSON COMPLETED HANDLER
// Reacts to a watch stream crossing the completion threshold.
//
// The completion snapshot cached for the lesson key is stale the moment the
// status flips, so the cached entry is dropped and the next progress read
// repopulates it from the repository.
// ═══════════════════════════════════════════════════════════════════════════

// CacheInvalidator drops a cached completion snapshot for a lesson key.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, key shared.LessonKey) error
}

// OnLessonCompletedHandler invalidates cached progress when a lesson
// completes.
type OnLessonCompletedHandler struct {
	cache   CacheInvalidator
	timeout time.Duration
	logger  *zap.Logger
}

// NewOnLessonCompletedHandler creates the handler. The cache may be nil when
// caching is disabled, in which case the handler only logs the completion.
func NewOnLessonCompletedHandler(cache CacheInvalidator, logger *zap.Logger) *OnLessonCompletedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OnLessonCompletedHandler{
		cache:   cache,
		timeout: 5 * time.Second,
		logger:  logger.With(zap.String("handler", "on_lesson_completed")),
	}
}

// Handle implements shared.EventHandler.
func (h *OnLessonCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.LessonCompletedEvent)
	if !ok {
		h.logger.Warn("received unexpected event type",
			zap.String("event_type", string(event.EventType())),
		)
		return nil
	}

	h.logger.Info("lesson completed",
		zap.String("user_id", completed.Key.UserID.String()),
		zap.String("course_id", completed.Key.CourseID.String()),
		zap.String("lesson_id", completed.Key.LessonID.String()),
		zap.Float64("percentage_watched", completed.PercentageWatched.Float64()),
	)

	if h.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, completed.Key); err != nil {
		// Stale cache entries expire on their own TTL, so invalidation
		// failures are logged and not propagated.
		h.logger.Error("failed to invalidate progress cache",
			zap.String("lesson_id", completed.Key.LessonID.String()),
			zap.Error(err),
		)
	}

	return nil
}

// EventType returns the event type this handler subscribes to.
func (h *OnLessonCompletedHandler) EventType() shared.EventType {
	return shared.EventLessonCompleted
}
