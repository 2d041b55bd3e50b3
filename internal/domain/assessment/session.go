// Package assessment contains the proctored assessment state machine:
// fullscreen enforcement, per-question countdown, answer capture, violation
// counting, and restart policy for timed assessments. This is a pure domain
// layer with zero external dependencies; timers are driven from outside
// through Tick.
package assessment

import (
	"time"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PHASES
// ══════════════════════════════════════════════════════════════════════════════

// Phase represents the proctored assessment lifecycle phase.
type Phase string

const (
	// PhaseAwaitingFullscreen is the initial phase. The machine leaves it
	// only on an explicit user-initiated fullscreen request, never
	// automatically, because browsers require a user gesture.
	PhaseAwaitingFullscreen Phase = "awaiting_fullscreen"

	// PhaseInProgress is the question-answering phase with the countdown
	// running.
	PhaseInProgress Phase = "in_progress"

	// PhaseNeedsRestart is entered when fullscreen exits reach the limit.
	// The timer is frozen and input is blocked until an explicit restart.
	PhaseNeedsRestart Phase = "needs_restart"

	// PhaseComplete is terminal: all questions were captured and the
	// answers are ready for batch submission.
	PhaseComplete Phase = "complete"
)

// IsValid checks if the phase is known.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseAwaitingFullscreen, PhaseInProgress, PhaseNeedsRestart, PhaseComplete:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTIONS AND ANSWERS
// ══════════════════════════════════════════════════════════════════════════════

// Unanswered is the sentinel recorded when the countdown expires with no
// selection. An unanswered question is scored as incorrect, never skipped
// silently.
const Unanswered = -1

// Question identifies one assessment question as far as the state machine
// needs to know it: an ID to capture answers against and the number of
// selectable options.
type Question struct {
	// ID is the question identifier.
	ID string

	// OptionCount is the number of selectable options. Zero disables
	// selection range validation.
	OptionCount int
}

// Answer is one captured answer. Answer == Unanswered means the countdown
// expired without a selection.
type Answer struct {
	QuestionID string `json:"questionId"`
	Answer     int    `json:"answer"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Default proctoring parameters.
const (
	// DefaultQuestionSeconds is the per-question countdown.
	DefaultQuestionSeconds = 60

	// DefaultMaxFullscreenExits is how many fullscreen exits force a restart.
	DefaultMaxFullscreenExits = 3

	// DefaultPassingScore is the minimum passing score when the scoring
	// collaborator does not configure one.
	DefaultPassingScore shared.Score = 75
)

// Config holds proctoring parameters for one assessment.
type Config struct {
	// QuestionSeconds is the countdown per question.
	QuestionSeconds int

	// MaxFullscreenExits is the violation threshold forcing a restart.
	MaxFullscreenExits int
}

// DefaultConfig returns the default proctoring parameters.
func DefaultConfig() Config {
	return Config{
		QuestionSeconds:    DefaultQuestionSeconds,
		MaxFullscreenExits: DefaultMaxFullscreenExits,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session is the ephemeral, client-held state of one proctored attempt.
// It is created when the learner opens the assessment view, reset to
// initial values on restart, and discarded after successful submission.
//
// Session is not safe for concurrent use; the owning runner serializes all
// calls (single-threaded, timer-driven model).
type Session struct {
	// UserID is the learner taking the assessment.
	UserID shared.UserID

	// CourseID is the course the assessment belongs to.
	CourseID shared.CourseID

	// AssessmentID identifies the assessment.
	AssessmentID shared.AssessmentID

	// StartedAt is when the session was created.
	StartedAt time.Time

	cfg       Config
	questions []Question

	phase                Phase
	currentQuestionIndex int
	answers              []Answer
	selected             int
	fullscreenExitCount  int
	timeLeftSeconds      int
	restarts             int
}

// NewSession creates a Session awaiting fullscreen.
func NewSession(userID shared.UserID, courseID shared.CourseID, assessmentID shared.AssessmentID, questions []Question, cfg Config, now time.Time) (*Session, error) {
	if len(questions) == 0 {
		return nil, shared.ErrNoQuestions
	}
	if cfg.QuestionSeconds <= 0 {
		cfg.QuestionSeconds = DefaultQuestionSeconds
	}
	if cfg.MaxFullscreenExits <= 0 {
		cfg.MaxFullscreenExits = DefaultMaxFullscreenExits
	}

	qs := make([]Question, len(questions))
	copy(qs, questions)

	return &Session{
		UserID:          userID,
		CourseID:        courseID,
		AssessmentID:    assessmentID,
		StartedAt:       now,
		cfg:             cfg,
		questions:       qs,
		phase:           PhaseAwaitingFullscreen,
		selected:        Unanswered,
		timeLeftSeconds: cfg.QuestionSeconds,
	}, nil
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Config returns the proctoring parameters in effect.
func (s *Session) Config() Config {
	return s.cfg
}

// CurrentQuestionIndex returns the zero-based index of the active question.
// The index only increases; there is no backward navigation.
func (s *Session) CurrentQuestionIndex() int {
	return s.currentQuestionIndex
}

// CurrentQuestion returns the active question, or nil once complete.
func (s *Session) CurrentQuestion() *Question {
	if s.currentQuestionIndex >= len(s.questions) {
		return nil
	}
	q := s.questions[s.currentQuestionIndex]
	return &q
}

// TimeLeftSeconds returns the countdown remaining for the active question.
func (s *Session) TimeLeftSeconds() int {
	return s.timeLeftSeconds
}

// FullscreenExitCount returns the violation count for this attempt.
// It is monotonically non-decreasing within one attempt.
func (s *Session) FullscreenExitCount() int {
	return s.fullscreenExitCount
}

// Restarts returns how many times this attempt was restarted.
func (s *Session) Restarts() int {
	return s.restarts
}

// NeedsRestart reports whether the attempt is frozen pending a restart.
func (s *Session) NeedsRestart() bool {
	return s.phase == PhaseNeedsRestart
}

// Complete reports whether all questions have been captured.
func (s *Session) Complete() bool {
	return s.phase == PhaseComplete
}

// Answers returns the captured answers so far, in question order.
func (s *Session) Answers() []Answer {
	out := make([]Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

// QuestionCount returns the total number of questions.
func (s *Session) QuestionCount() int {
	return len(s.questions)
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a copy of all learner-visible countdown and violation state,
// used to verify that a restart is a hard reset and not a partial one.
type Snapshot struct {
	Phase                Phase
	CurrentQuestionIndex int
	Answers              []Answer
	Selected             int
	FullscreenExitCount  int
	TimeLeftSeconds      int
}

// Snapshot returns the current visible state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Phase:                s.phase,
		CurrentQuestionIndex: s.currentQuestionIndex,
		Answers:              s.Answers(),
		Selected:             s.selected,
		FullscreenExitCount:  s.fullscreenExitCount,
		TimeLeftSeconds:      s.timeLeftSeconds,
	}
}
