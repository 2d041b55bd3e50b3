package assessment

import (
	"fmt"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════
//
// The session is a forward-only state machine:
//
//	AwaitingFullscreen → InProgress      (EnterFullscreen, user gesture)
//	InProgress         → NeedsRestart    (ExitFullscreen reaches the limit)
//	InProgress         → Complete        (last question captured)
//	NeedsRestart       → AwaitingFullscreen (Restart, explicit user action)
//
// Complete is terminal. While NeedsRestart, the countdown is frozen and
// answer input is rejected.

// EnterFullscreen transitions the session into the question-answering phase.
// It is only valid from AwaitingFullscreen; the caller invokes it on the
// user gesture that granted fullscreen.
func (s *Session) EnterFullscreen() error {
	if s.phase != PhaseAwaitingFullscreen {
		return &shared.DomainError{
			Domain:  "assessment",
			Op:      "EnterFullscreen",
			Kind:    shared.ErrStateTransition,
			Message: fmt.Sprintf("cannot enter fullscreen from phase %q", s.phase),
			Err:     shared.ErrNotAwaitingFullscreen,
		}
	}
	s.phase = PhaseInProgress
	return nil
}

// SelectAnswer records the learner's selection for the active question.
// The selection is provisional until the countdown expires; re-selecting
// overwrites it. Input is rejected outside InProgress, so a session frozen
// by violations cannot accumulate answers.
func (s *Session) SelectAnswer(option int) error {
	if s.phase != PhaseInProgress {
		return &shared.DomainError{
			Domain:  "assessment",
			Op:      "SelectAnswer",
			Kind:    shared.ErrInvalidState,
			Message: fmt.Sprintf("cannot select an answer in phase %q", s.phase),
			Err:     shared.ErrNotInProgress,
		}
	}
	q := s.questions[s.currentQuestionIndex]
	if option < 0 || (q.OptionCount > 0 && option >= q.OptionCount) {
		return &shared.DomainError{
			Domain:  "assessment",
			Op:      "SelectAnswer",
			Kind:    shared.ErrValueOutOfRange,
			Message: fmt.Sprintf("option %d out of range for question %q", option, q.ID),
		}
	}
	s.selected = option
	return nil
}

// Tick advances the per-question countdown by one second. It is driven by
// an external one-second timer and does nothing outside InProgress, which
// is what freezes the clock during NeedsRestart.
//
// When the countdown reaches zero the current answer is captured (the
// selection, or Unanswered when there is none), the session advances to
// the next question with a fresh countdown, and the captured Answer is
// returned. Capturing the last question moves the session to Complete.
func (s *Session) Tick() (*Answer, error) {
	switch s.phase {
	case PhaseInProgress:
	case PhaseComplete:
		return nil, shared.ErrAssessmentComplete
	default:
		return nil, nil
	}

	if s.timeLeftSeconds > 0 {
		s.timeLeftSeconds--
	}
	if s.timeLeftSeconds > 0 {
		return nil, nil
	}
	return s.captureCurrent(), nil
}

// captureCurrent records the active question's answer and advances.
func (s *Session) captureCurrent() *Answer {
	q := s.questions[s.currentQuestionIndex]
	captured := Answer{QuestionID: q.ID, Answer: s.selected}
	s.answers = append(s.answers, captured)

	s.currentQuestionIndex++
	s.selected = Unanswered
	s.timeLeftSeconds = s.cfg.QuestionSeconds

	if s.currentQuestionIndex >= len(s.questions) {
		s.phase = PhaseComplete
	}
	return &captured
}

// ExitFullscreen records a fullscreen exit during the attempt. It returns
// true when the exit crossed the violation limit and froze the session
// into NeedsRestart. Exits outside InProgress are ignored (the learner
// leaving fullscreen after completion is not a violation).
func (s *Session) ExitFullscreen() bool {
	if s.phase != PhaseInProgress {
		return false
	}
	s.fullscreenExitCount++
	if s.fullscreenExitCount >= s.cfg.MaxFullscreenExits {
		s.phase = PhaseNeedsRestart
		return true
	}
	return false
}

// Restart resets the attempt after a violation freeze: back to the first
// question, empty answers, fresh countdown, and AwaitingFullscreen so the
// learner must re-enter fullscreen. The exit count resets to exactly 1
// because the re-entry that follows counts as the first entry of the new
// attempt.
func (s *Session) Restart() error {
	if s.phase != PhaseNeedsRestart {
		return &shared.DomainError{
			Domain:  "assessment",
			Op:      "Restart",
			Kind:    shared.ErrInvalidState,
			Message: fmt.Sprintf("cannot restart from phase %q", s.phase),
			Err:     shared.ErrRestartNotRequired,
		}
	}
	s.phase = PhaseAwaitingFullscreen
	s.currentQuestionIndex = 0
	s.answers = nil
	s.selected = Unanswered
	s.fullscreenExitCount = 1
	s.timeLeftSeconds = s.cfg.QuestionSeconds
	s.restarts++
	return nil
}
