package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/application/proctor"
	"github.com/lumenlms/integrity-engine/internal/domain/assessment"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns basic service information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "integrity-engine",
		"status":  "running",
		"uptime":  s.Uptime().Round(time.Second).String(),
	})
}

// handleHealth performs a full health check of backing services.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleReady reports readiness to accept traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive reports process liveness.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON WATCH SIGNALS
// ══════════════════════════════════════════════════════════════════════════════

type heartbeatRequest struct {
	UserID               string  `json:"user_id"`
	CurrentTimeSeconds   float64 `json:"current_time_seconds"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
}

type heartbeatResponse struct {
	CorrectedTimeSeconds float64 `json:"corrected_time_seconds"`
	Clamped              bool    `json:"clamped"`
	PercentageWatched    float64 `json:"percentage_watched"`
	Status               string  `json:"status"`
}

// handleLessonHeartbeat ingests a playback time update. The reported time
// runs through the integrity guard; the response carries the corrected
// position the player must seek back to when a skip was clamped.
func (s *Server) handleLessonHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key, ok := s.lessonKey(w, r, req.UserID)
	if !ok {
		return
	}
	if req.TotalDurationSeconds <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_duration", "total_duration_seconds must be positive")
		return
	}

	m, err := s.deps.Monitors.GetOrCreate(r.Context(), key, secondsToDuration(req.TotalDurationSeconds))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	result := m.OnTimeUpdate(r.Context(), secondsToDuration(req.CurrentTimeSeconds))
	session := m.Session()

	writeJSON(w, http.StatusOK, heartbeatResponse{
		CorrectedTimeSeconds: result.CorrectedTime.Seconds(),
		Clamped:              result.Clamped,
		PercentageWatched:    session.Percentage().Float64(),
		Status:               string(session.Status),
	})
}

type signalRequest struct {
	UserID               string  `json:"user_id"`
	Signal               string  `json:"signal"` // activity | visibility | rate_change
	Hidden               bool    `json:"hidden,omitempty"`
	Rate                 float64 `json:"rate,omitempty"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
}

// handleLessonSignal ingests non-playback attention signals.
func (s *Server) handleLessonSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key, ok := s.lessonKey(w, r, req.UserID)
	if !ok {
		return
	}
	if req.TotalDurationSeconds <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_duration", "total_duration_seconds must be positive")
		return
	}

	m, err := s.deps.Monitors.GetOrCreate(r.Context(), key, secondsToDuration(req.TotalDurationSeconds))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	switch req.Signal {
	case "activity":
		m.OnUserActivity(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"signal": "activity"})
	case "visibility":
		m.OnVisibilityChange(r.Context(), req.Hidden)
		writeJSON(w, http.StatusOK, map[string]interface{}{"signal": "visibility", "hidden": req.Hidden})
	case "rate_change":
		applied := m.OnRateChange(req.Rate)
		writeJSON(w, http.StatusOK, map[string]interface{}{"signal": "rate_change", "applied_rate": applied})
	default:
		writeJSONError(w, http.StatusBadRequest, "unknown_signal", "signal must be activity, visibility, or rate_change")
	}
}

type closeRequest struct {
	UserID string `json:"user_id"`
}

// handleLessonClose stops the monitor for a watch stream. The monitor
// performs its final best-effort flush before it is removed.
func (s *Server) handleLessonClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key, ok := s.lessonKey(w, r, req.UserID)
	if !ok {
		return
	}

	s.deps.Monitors.Close(r.Context(), key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// handleLessonProgress reports the live progress of an active watch stream,
// falling back to the persisted session when no monitor is running.
func (s *Server) handleLessonProgress(w http.ResponseWriter, r *http.Request) {
	key, ok := s.lessonKey(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}

	if m, active := s.deps.Monitors.Get(key); active {
		session := m.Session()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"percentage_watched": session.Percentage().Float64(),
			"status":             string(session.Status),
			"completed":          session.Completed,
			"live":               true,
		})
		return
	}

	if s.deps.Cache != nil {
		if ack, hit, err := s.deps.Cache.Get(r.Context(), key); err == nil && hit {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"percentage_watched": ack.PercentageWatched.Float64(),
				"status":             string(ack.Status),
				"completed":          ack.Status == "completed",
				"live":               false,
			})
			return
		}
	}

	session, err := s.deps.Progress.GetSession(r.Context(), key)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"percentage_watched": session.Percentage().Float64(),
		"status":             string(session.Status),
		"completed":          session.Completed,
		"live":               false,
	})
}

// handleCourseCompletion returns per-lesson completion status for one
// user across a course.
func (s *Server) handleCourseCompletion(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.NewUserID(r.PathValue("user"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	courseID, err := shared.NewCourseID(r.PathValue("course"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	statuses, err := s.deps.Progress.GetCourseCompletion(r.Context(), userID, courseID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	lessons := make(map[string]string, len(statuses))
	completed := 0
	for id, st := range statuses {
		lessons[id.String()] = string(st)
		if st == "completed" {
			completed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"course_id":         courseID.String(),
		"lessons":           lessons,
		"lessons_total":     len(lessons),
		"lessons_completed": completed,
	})
}

// handleUserSessions lists a user's viewing sessions for audit review.
// The time range defaults to the trailing 30 days.
func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.NewUserID(r.PathValue("user"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	to := s.clk.Now()
	from := to.AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_time_range", "from must be an RFC 3339 timestamp")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_time_range", "to must be an RFC 3339 timestamp")
			return
		}
	}

	sessions, err := s.deps.Progress.GetSessionsByUser(r.Context(), userID, from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, map[string]interface{}{
			"session_id":         sess.ID,
			"course_id":          sess.Key.CourseID.String(),
			"module_id":          sess.Key.ModuleID.String(),
			"lesson_id":          sess.Key.LessonID.String(),
			"started_at":         sess.StartTime,
			"watched_seconds":    sess.WatchedDuration.Seconds(),
			"total_seconds":      sess.TotalDuration.Seconds(),
			"percentage_watched": sess.Percentage().Float64(),
			"status":             string(sess.Status),
			"completed":          sess.Completed,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": items,
		"count":    len(items),
	})
}

// handleSessionEvents returns the attention event log recorded for one
// viewing session, in chronological order.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	events, err := s.deps.Progress.GetSessionEvents(r.Context(), sessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"events":     events,
		"count":      len(events),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST QUOTAS
// ══════════════════════════════════════════════════════════════════════════════

// handleQuotaConsume admits or rejects one request against the subject's
// sliding-window and lifetime caps. A rejection is a policy decision, not
// an error: it comes back 429 with the full decision attached.
func (s *Server) handleQuotaConsume(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")

	decision, err := s.deps.Quota.CheckAndConsume(r.Context(), subject, s.clk.Now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	body := map[string]interface{}{
		"allowed":            decision.Allowed,
		"remaining_window":   decision.RemainingWindow,
		"window_cap":         decision.WindowCap,
		"remaining_lifetime": decision.RemainingLifetime,
	}
	if decision.Reason != "" {
		body["reason"] = string(decision.Reason)
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, body)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCTORED ASSESSMENTS
// ══════════════════════════════════════════════════════════════════════════════

type startAssessmentRequest struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// handleAssessmentStart loads the question set and starts a proctored
// runner for this user. The session waits in fullscreen gating until the
// client confirms the fullscreen gesture.
func (s *Server) handleAssessmentStart(w http.ResponseWriter, r *http.Request) {
	var req startAssessmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := shared.NewUserID(req.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	courseID, err := shared.NewCourseID(req.CourseID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	assessmentID := shared.AssessmentID(r.PathValue("assessment"))
	if !assessmentID.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_assessment_id", "assessment ID format is invalid")
		return
	}

	runnerKey := userID.String() + "/" + assessmentID.String()

	s.runnersMu.Lock()
	if existing, exists := s.runners[runnerKey]; exists {
		select {
		case <-existing.Done():
			// A finished attempt whose result was never fetched does not
			// block a retake; the graded result stays readable through
			// the persisted store.
			existing.Stop()
			delete(s.runners, runnerKey)
		default:
			s.runnersMu.Unlock()
			writeJSONError(w, http.StatusConflict, "assessment_active", "An attempt is already in progress")
			return
		}
	}
	s.runnersMu.Unlock()

	questions, err := s.deps.Questions.LoadQuestions(r.Context(), assessmentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	session, err := assessment.NewSession(userID, courseID, assessmentID, questions, s.deps.AssessmentConfig, s.clk.Now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	runner := proctor.NewRunner(session, s.deps.Submitter, s.deps.Bus, s.clk, s.logger)

	s.runnersMu.Lock()
	if _, exists := s.runners[runnerKey]; exists {
		s.runnersMu.Unlock()
		writeJSONError(w, http.StatusConflict, "assessment_active", "An attempt is already in progress")
		return
	}
	s.runners[runnerKey] = runner
	s.runnersMu.Unlock()

	// The countdown loop must outlive this request. The runner stays
	// registered after completion so the graded result (and the captured
	// answers, should grading fail) remain reachable; the result handler
	// releases the slot once the outcome has been served.
	runner.Start(context.WithoutCancel(r.Context()))

	s.logger.Info("assessment attempt started",
		zap.String("user_id", userID.String()),
		zap.String("assessment_id", assessmentID.String()),
		zap.Int("questions", session.QuestionCount()),
	)

	writeJSON(w, http.StatusCreated, snapshotBody(session))
}

type fullscreenRequest struct {
	UserID  string `json:"user_id"`
	Entered bool   `json:"entered"`
}

// handleAssessmentFullscreen records a fullscreen transition. Entering
// starts the question timer; exiting counts a violation.
func (s *Server) handleAssessmentFullscreen(w http.ResponseWriter, r *http.Request) {
	var req fullscreenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	runner, ok := s.runner(w, r, req.UserID)
	if !ok {
		return
	}

	if req.Entered {
		if err := runner.EnterFullscreen(r.Context()); err != nil {
			s.writeDomainError(w, err)
			return
		}
	} else {
		runner.ExitFullscreen(r.Context())
	}

	writeJSON(w, http.StatusOK, snapshotBody(runner.Session()))
}

type answerRequest struct {
	UserID string `json:"user_id"`
	Option int    `json:"option"`
}

// handleAssessmentAnswer records an answer selection for the current question.
func (s *Server) handleAssessmentAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	runner, ok := s.runner(w, r, req.UserID)
	if !ok {
		return
	}

	if err := runner.SelectAnswer(req.Option); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshotBody(runner.Session()))
}

type restartRequest struct {
	UserID string `json:"user_id"`
}

// handleAssessmentRestart restarts a frozen attempt from the beginning.
func (s *Server) handleAssessmentRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	runner, ok := s.runner(w, r, req.UserID)
	if !ok {
		return
	}

	if err := runner.Restart(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshotBody(runner.Session()))
}

// handleAssessmentState reports the live state of an attempt.
func (s *Server) handleAssessmentState(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotBody(runner.Session()))
}

// handleAssessmentResult returns the graded result of an attempt. A live
// runner is consulted first: still running means 409, a failed submission
// is retried with the answers the runner still holds, and a served result
// releases the runner's slot. Attempts that already left memory fall back
// to the persisted result store.
func (s *Server) handleAssessmentResult(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.NewUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	assessmentID := shared.AssessmentID(r.PathValue("assessment"))
	if !assessmentID.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_assessment_id", "assessment ID format is invalid")
		return
	}

	runnerKey := userID.String() + "/" + assessmentID.String()
	s.runnersMu.Lock()
	runner, resident := s.runners[runnerKey]
	s.runnersMu.Unlock()

	if resident {
		result, err := runner.Result()
		if errors.Is(err, shared.ErrNotInProgress) || errors.Is(err, shared.ErrInvalidState) {
			writeJSONError(w, http.StatusConflict, "attempt_in_progress", "The attempt has not been submitted yet")
			return
		}
		if err != nil {
			// The first submission failed; the answers are still captured
			// in the session, so grade them now.
			result, err = runner.Resubmit(r.Context())
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
		}

		runner.Stop()
		s.runnersMu.Lock()
		delete(s.runners, runnerKey)
		s.runnersMu.Unlock()

		writeJSON(w, http.StatusOK, result)
		return
	}

	if s.deps.Results != nil {
		best, err := s.deps.Results.BestResult(r.Context(), userID, assessmentID)
		if err == nil {
			writeJSON(w, http.StatusOK, *best)
			return
		}
		if !shared.IsNotFound(err) {
			s.writeDomainError(w, err)
			return
		}
	}

	writeJSONError(w, http.StatusNotFound, "no_result", "No attempt or graded result for this user and assessment")
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HANDLER HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// lessonKey builds and validates the watch-stream key from path and user ID.
func (s *Server) lessonKey(w http.ResponseWriter, r *http.Request, rawUserID string) (shared.LessonKey, bool) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		s.writeDomainError(w, err)
		return shared.LessonKey{}, false
	}

	key := shared.LessonKey{
		UserID:   userID,
		CourseID: shared.CourseID(r.PathValue("course")),
		ModuleID: shared.ModuleID(r.PathValue("module")),
		LessonID: shared.LessonID(r.PathValue("lesson")),
	}
	if !key.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_lesson_key", "Course, module, or lesson ID format is invalid")
		return shared.LessonKey{}, false
	}
	return key, true
}

// runner resolves the active assessment runner for this user and path.
func (s *Server) runner(w http.ResponseWriter, r *http.Request, rawUserID string) (*proctor.Runner, bool) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, false
	}

	assessmentID := shared.AssessmentID(r.PathValue("assessment"))
	if !assessmentID.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_assessment_id", "assessment ID format is invalid")
		return nil, false
	}

	s.runnersMu.Lock()
	runner, ok := s.runners[userID.String()+"/"+assessmentID.String()]
	s.runnersMu.Unlock()

	if !ok {
		writeJSONError(w, http.StatusNotFound, "no_active_attempt", "No active attempt for this user and assessment")
		return nil, false
	}
	return runner, true
}

// snapshotBody serializes the machine state the client needs to render.
func snapshotBody(session *assessment.Session) map[string]interface{} {
	snap := session.Snapshot()
	return map[string]interface{}{
		"phase":                 string(snap.Phase),
		"current_question":      snap.CurrentQuestionIndex,
		"question_count":        session.QuestionCount(),
		"time_left_seconds":     snap.TimeLeftSeconds,
		"fullscreen_exit_count": snap.FullscreenExitCount,
		"needs_restart":         session.NeedsRestart(),
		"complete":              session.Complete(),
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", "Request body is not valid JSON")
		return false
	}
	return true
}

// writeDomainError maps domain errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		switch {
		case shared.IsNotFound(err):
			writeJSONError(w, http.StatusNotFound, "not_found", domainErr.Message)
		case shared.IsValidationError(err):
			writeJSONError(w, http.StatusBadRequest, "validation_failed", domainErr.Message)
		case errors.Is(err, shared.ErrInvalidState) || errors.Is(err, shared.ErrStateTransition):
			writeJSONError(w, http.StatusConflict, "invalid_state", domainErr.Message)
		case shared.IsExternalService(err):
			writeJSONError(w, http.StatusBadGateway, "upstream_unavailable", domainErr.Message)
		default:
			writeJSONError(w, http.StatusInternalServerError, "internal_error", domainErr.Message)
		}
		return
	}

	s.logger.Error("unhandled error", zap.Error(err))
	writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
