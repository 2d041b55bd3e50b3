package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumenlms/integrity-engine/internal/domain/assessment"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSESSMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AssessmentRepository implements assessment.Submitter for PostgreSQL.
// Answer keys live server-side in assessment_questions; the client never
// sees them, so grading cannot be tampered with from the session.
type AssessmentRepository struct {
	conn           *Connection
	defaultPassing shared.Score
}

// NewAssessmentRepository creates a new AssessmentRepository.
// defaultPassing is used for assessments that do not set their own
// passing score.
func NewAssessmentRepository(conn *Connection, defaultPassing shared.Score) *AssessmentRepository {
	return &AssessmentRepository{conn: conn, defaultPassing: defaultPassing}
}

// LoadQuestions returns an assessment's questions in position order, without
// the correct answers.
func (r *AssessmentRepository) LoadQuestions(ctx context.Context, assessmentID shared.AssessmentID) ([]assessment.Question, error) {
	query := `
		SELECT question_id, option_count
		FROM assessment_questions
		WHERE assessment_id = $1
		ORDER BY position
	`

	rows, err := r.conn.Query(ctx, query, assessmentID.String())
	if err != nil {
		return nil, fmt.Errorf("query assessment questions: %w", err)
	}
	defer rows.Close()

	var questions []assessment.Question
	for rows.Next() {
		var q assessment.Question
		if err := rows.Scan(&q.ID, &q.OptionCount); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, shared.ErrNoQuestions
	}
	return questions, nil
}

// Submit grades one answer batch against the stored key and persists the
// result. The whole batch is graded in one transaction; a partial grade is
// never visible.
func (r *AssessmentRepository) Submit(ctx context.Context, sub assessment.Submission) (assessment.Result, error) {
	var result assessment.Result
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		key, err := r.loadAnswerKey(ctx, tx, sub.AssessmentID)
		if err != nil {
			return err
		}

		correct := 0
		for _, a := range sub.Answers {
			// Unanswered arrives as the sentinel and can never match a key.
			if want, ok := key[a.QuestionID]; ok && a.Answer == want {
				correct++
			}
		}

		total := len(key)
		if total == 0 {
			return shared.ErrNoQuestions
		}

		score := shared.Score(correct * 100 / total)
		passing, err := r.loadPassingScore(ctx, tx, sub.AssessmentID)
		if err != nil {
			return err
		}

		result = assessment.Result{
			Score:          score,
			Passed:         score.Passed(passing),
			CorrectAnswers: correct,
			TotalQuestions: total,
		}

		answersJSON, err := json.Marshal(sub.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}

		insert := `
			INSERT INTO assessment_results (
				id, user_id, course_id, assessment_id,
				score, passed, correct_answers, total_questions, answers
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err = tx.Exec(ctx, insert,
			uuid.NewString(),
			sub.UserID.String(),
			sub.CourseID.String(),
			sub.AssessmentID.String(),
			score.Int(),
			result.Passed,
			correct,
			total,
			answersJSON,
		)
		if err != nil {
			return fmt.Errorf("insert assessment result: %w", err)
		}
		return nil
	})
	if err != nil {
		return assessment.Result{}, shared.WrapError("postgres", "Submit", shared.ErrExternalService, "submit assessment", err)
	}
	return result, nil
}

// loadAnswerKey returns questionID -> correct answer for one assessment.
func (r *AssessmentRepository) loadAnswerKey(ctx context.Context, tx pgx.Tx, assessmentID shared.AssessmentID) (map[string]int, error) {
	rows, err := tx.Query(ctx,
		`SELECT question_id, correct_answer FROM assessment_questions WHERE assessment_id = $1`,
		assessmentID.String())
	if err != nil {
		return nil, fmt.Errorf("query answer key: %w", err)
	}
	defer rows.Close()

	key := make(map[string]int)
	for rows.Next() {
		var questionID string
		var correct int
		if err := rows.Scan(&questionID, &correct); err != nil {
			return nil, fmt.Errorf("scan answer key: %w", err)
		}
		key[questionID] = correct
	}
	return key, rows.Err()
}

// loadPassingScore returns the assessment's passing score, or the
// repository-wide default when none is configured.
func (r *AssessmentRepository) loadPassingScore(ctx context.Context, tx pgx.Tx, assessmentID shared.AssessmentID) (shared.Score, error) {
	var passing int
	err := tx.QueryRow(ctx,
		`SELECT passing_score FROM assessment_config WHERE assessment_id = $1`,
		assessmentID.String()).Scan(&passing)
	if err != nil {
		if IsNoRows(err) {
			if r.defaultPassing > 0 {
				return r.defaultPassing, nil
			}
			return assessment.DefaultPassingScore, nil
		}
		return 0, fmt.Errorf("query passing score: %w", err)
	}
	return shared.Score(passing), nil
}

// BestResult returns a user's highest-scoring submission for an assessment.
func (r *AssessmentRepository) BestResult(ctx context.Context, userID shared.UserID, assessmentID shared.AssessmentID) (*assessment.Result, error) {
	query := `
		SELECT score, passed, correct_answers, total_questions
		FROM assessment_results
		WHERE user_id = $1 AND assessment_id = $2
		ORDER BY score DESC, submitted_at
		LIMIT 1
	`

	var result assessment.Result
	var score int
	err := r.conn.QueryRow(ctx, query, userID.String(), assessmentID.String()).
		Scan(&score, &result.Passed, &result.CorrectAnswers, &result.TotalQuestions)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("query best result: %w", err)
	}
	result.Score = shared.Score(score)
	return &result, nil
}
