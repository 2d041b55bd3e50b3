package assessment

import (
	"context"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// Result is the graded outcome of a submitted answer batch.
type Result struct {
	// Score is the percentage of correct answers.
	Score shared.Score `json:"score"`

	// Passed reports whether Score met the assessment's passing score.
	Passed bool `json:"passed"`

	// CorrectAnswers is the count of correctly answered questions.
	CorrectAnswers int `json:"correctAnswers"`

	// TotalQuestions is the total question count, including unanswered.
	TotalQuestions int `json:"totalQuestions"`
}

// Submission is one complete answer batch ready for grading.
type Submission struct {
	UserID       shared.UserID
	CourseID     shared.CourseID
	AssessmentID shared.AssessmentID
	Answers      []Answer
}

// Submitter grades a completed assessment. The answers are submitted as a
// single batch after the last question is captured, never incrementally.
// Implementations live in the infrastructure layer.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) (Result, error)
}

// Submission returns the session's answers as a batch for grading.
// It is only meaningful once the session is Complete.
func (s *Session) Submission() Submission {
	return Submission{
		UserID:       s.UserID,
		CourseID:     s.CourseID,
		AssessmentID: s.AssessmentID,
		Answers:      s.Answers(),
	}
}
