// Package proctor contains the application service that drives one
// proctored assessment attempt: it owns the countdown timer, forwards
// learner input to the assessment session, and submits the answer batch
// when the last question is captured.
package proctor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/assessment"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/pkg/clock"
)

// TickInterval is the countdown resolution. The per-question limit is
// counted in whole seconds, so the timer ticks once a second.
const TickInterval = time.Second

// Runner drives one assessment session. All session access is serialized
// behind the runner's mutex, so learner input and the countdown never race.
//
// The answer batch is submitted exactly once, after the last question is
// captured. A submission failure is surfaced through Wait and Result; the
// learner retries explicitly, the runner never retries on its own.
type Runner struct {
	session   *assessment.Session
	submitter assessment.Submitter
	bus       shared.EventPublisher
	clk       clock.Clock
	logger    *zap.Logger

	mu        sync.Mutex
	result    assessment.Result
	submitErr error
	submitted bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewRunner creates a Runner for one attempt. The event bus is optional.
func NewRunner(session *assessment.Session, submitter assessment.Submitter, bus shared.EventPublisher, clk clock.Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		session:   session,
		submitter: submitter,
		bus:       bus,
		clk:       clk,
		logger: logger.With(
			zap.String("user_id", session.UserID.String()),
			zap.String("assessment_id", session.AssessmentID.String()),
		),
		done: make(chan struct{}),
	}
}

// Session returns the attempt's session. The caller must treat it as
// read-only; only the runner writes to it.
func (r *Runner) Session() *assessment.Session {
	return r.session
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches the one-second countdown loop.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := r.clk.NewTicker(TickInterval)
		defer ticker.Stop()

		r.logger.Info("proctored attempt started",
			zap.Int("questions", r.session.QuestionCount()))

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if done := r.Tick(ctx); done {
					return
				}
			}
		}
	}()
}

// Stop tears the runner down without submitting. An abandoned attempt
// keeps its captured answers in memory only; nothing reaches the grader.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		r.logger.Info("proctored attempt stopped",
			zap.String("phase", string(r.session.Phase())))
	})
}

// Done is closed after the attempt completed and the submission finished,
// successfully or not.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Result returns the graded outcome once Done is closed.
func (r *Runner) Result() (assessment.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.submitted {
		return assessment.Result{}, shared.ErrNotInProgress
	}
	return r.result, r.submitErr
}

// Resubmit retries grading after a failed submission. The captured answers
// stay in the session, so a transient grader outage loses nothing. When the
// first submission already succeeded it returns the stored result as is.
func (r *Runner) Resubmit(ctx context.Context) (assessment.Result, error) {
	r.mu.Lock()
	if !r.submitted {
		r.mu.Unlock()
		return assessment.Result{}, shared.ErrNotInProgress
	}
	if r.submitErr == nil {
		result := r.result
		r.mu.Unlock()
		return result, nil
	}
	sub := r.session.Submission()
	r.mu.Unlock()

	result, err := r.submitter.Submit(ctx, sub)

	r.mu.Lock()
	r.result = result
	r.submitErr = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("resubmission failed", zap.Error(err))
		return assessment.Result{}, err
	}
	r.logger.Info("assessment submitted",
		zap.Int("score", result.Score.Int()),
		zap.Bool("passed", result.Passed))
	r.publish(shared.NewAssessmentSubmittedEvent(
		r.session.UserID, r.session.AssessmentID, result.Score, result.Passed, r.clk.Now()))
	return result, nil
}

// Tick advances the countdown by one second and handles completion.
// Returns true when the attempt finished and the loop should exit.
// Exposed so callers driving a fake timeline can run cycles synchronously.
func (r *Runner) Tick(ctx context.Context) bool {
	r.mu.Lock()
	captured, err := r.session.Tick()
	complete := r.session.Complete()
	r.mu.Unlock()

	if err != nil {
		return true
	}
	if captured != nil && captured.Answer == assessment.Unanswered {
		r.logger.Info("question expired unanswered",
			zap.String("question_id", captured.QuestionID))
	}

	if complete {
		r.submit(ctx)
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER INPUT
// ══════════════════════════════════════════════════════════════════════════════

// EnterFullscreen forwards the fullscreen grant to the session.
func (r *Runner) EnterFullscreen(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.EnterFullscreen()
}

// SelectAnswer forwards an answer selection to the session.
func (r *Runner) SelectAnswer(option int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.SelectAnswer(option)
}

// ExitFullscreen records a fullscreen exit. Every exit publishes a
// violation event; crossing the limit freezes the attempt.
func (r *Runner) ExitFullscreen(ctx context.Context) {
	now := r.clk.Now()

	r.mu.Lock()
	frozen := r.session.ExitFullscreen()
	count := r.session.FullscreenExitCount()
	maxExits := r.session.Config().MaxFullscreenExits
	r.mu.Unlock()

	r.publish(shared.NewFullscreenViolationEvent(
		r.session.UserID, r.session.AssessmentID, count, maxExits, now))

	if frozen {
		r.logger.Warn("fullscreen exit limit reached, attempt frozen",
			zap.Int("exit_count", count))
		r.publish(restartRequiredEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventRestartRequired, r.session.AssessmentID.String(), now),
			UserID:    r.session.UserID,
			ExitCount: count,
		})
	}
}

// Restart resets a frozen attempt back to the fullscreen prompt.
func (r *Runner) Restart(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.session.Restart(); err != nil {
		return err
	}
	r.logger.Info("attempt restarted",
		zap.Int("restarts", r.session.Restarts()))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION
// ══════════════════════════════════════════════════════════════════════════════

// submit grades the completed batch. Runs at most once per runner.
func (r *Runner) submit(ctx context.Context) {
	r.mu.Lock()
	if r.submitted {
		r.mu.Unlock()
		return
	}
	sub := r.session.Submission()
	r.mu.Unlock()

	result, err := r.submitter.Submit(ctx, sub)

	r.mu.Lock()
	r.result = result
	r.submitErr = err
	r.submitted = true
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("submission failed", zap.Error(err))
	} else {
		r.logger.Info("assessment submitted",
			zap.Int("score", result.Score.Int()),
			zap.Bool("passed", result.Passed))
		r.publish(shared.NewAssessmentSubmittedEvent(
			r.session.UserID, r.session.AssessmentID, result.Score, result.Passed, r.clk.Now()))
	}
	close(r.done)
}

func (r *Runner) publish(ev shared.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ev); err != nil {
		r.logger.Warn("event publish failed",
			zap.String("event_type", string(ev.EventType())),
			zap.Error(err))
	}
}

// restartRequiredEvent marks an attempt frozen by fullscreen violations.
type restartRequiredEvent struct {
	shared.BaseEvent
	UserID    shared.UserID `json:"user_id"`
	ExitCount int           `json:"exit_count"`
}

func (e restartRequiredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID.String(),
		"exit_count": e.ExitCount,
	}
}
