package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/assessment"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/pkg/clock"
)

var attemptStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeSubmitter grades every answer with option 0 as correct.
type fakeSubmitter struct {
	mu          sync.Mutex
	submissions []assessment.Submission
	err         error
}

func (f *fakeSubmitter) Submit(_ context.Context, sub assessment.Submission) (assessment.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return assessment.Result{}, f.err
	}
	f.submissions = append(f.submissions, sub)

	correct := 0
	for _, a := range sub.Answers {
		if a.Answer == 0 {
			correct++
		}
	}
	score := shared.Score(correct * 100 / len(sub.Answers))
	return assessment.Result{
		Score:          score,
		Passed:         score.Passed(assessment.DefaultPassingScore),
		CorrectAnswers: correct,
		TotalQuestions: len(sub.Answers),
	}, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(ev shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) countByType(t shared.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.EventType() == t {
			n++
		}
	}
	return n
}

func newTestRunner(t *testing.T, questionCount int, sub *fakeSubmitter, bus *recordingBus) *Runner {
	t.Helper()

	questions := make([]assessment.Question, questionCount)
	for i := range questions {
		questions[i] = assessment.Question{ID: string(rune('a' + i)), OptionCount: 4}
	}
	session, err := assessment.NewSession(
		shared.UserID("7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"),
		shared.CourseID("go-fundamentals"),
		shared.AssessmentID("final-exam"),
		questions,
		assessment.Config{QuestionSeconds: 3, MaxFullscreenExits: 3},
		attemptStart,
	)
	require.NoError(t, err)

	return NewRunner(session, sub, bus, clock.NewFake(attemptStart), zap.NewNop())
}

// drive ticks the runner until it reports completion or maxTicks elapse.
func drive(t *testing.T, r *Runner, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if r.Tick(context.Background()) {
			return
		}
	}
	t.Fatal("attempt never completed")
}

func TestRunner_CompletesAndSubmitsOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	bus := &recordingBus{}
	r := newTestRunner(t, 2, sub, bus)
	ctx := context.Background()

	require.NoError(t, r.EnterFullscreen(ctx))
	require.NoError(t, r.SelectAnswer(0))
	drive(t, r, 10)

	require.True(t, r.Session().Complete())
	require.Len(t, sub.submissions, 1)
	assert.Equal(t, []assessment.Answer{
		{QuestionID: "a", Answer: 0},
		{QuestionID: "b", Answer: assessment.Unanswered},
	}, sub.submissions[0].Answers)

	select {
	case <-r.Done():
	default:
		t.Fatal("done channel not closed after submission")
	}

	result, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, shared.Score(50), result.Score)
	assert.False(t, result.Passed)
	assert.Equal(t, 1, bus.countByType(shared.EventAssessmentSubmitted))
}

func TestRunner_SubmissionFailureSurfaced(t *testing.T) {
	boom := errors.New("grader unavailable")
	sub := &fakeSubmitter{err: boom}
	bus := &recordingBus{}
	r := newTestRunner(t, 1, sub, bus)
	ctx := context.Background()

	require.NoError(t, r.EnterFullscreen(ctx))
	drive(t, r, 5)

	_, err := r.Result()
	assert.ErrorIs(t, err, boom)
	// No success event on a failed submission, and no automatic retry.
	assert.Equal(t, 0, bus.countByType(shared.EventAssessmentSubmitted))
	assert.Empty(t, sub.submissions)
}

func TestRunner_FullscreenViolationsPublished(t *testing.T) {
	bus := &recordingBus{}
	r := newTestRunner(t, 2, &fakeSubmitter{}, bus)
	ctx := context.Background()

	require.NoError(t, r.EnterFullscreen(ctx))

	r.ExitFullscreen(ctx)
	r.ExitFullscreen(ctx)
	assert.Equal(t, 2, bus.countByType(shared.EventFullscreenViolation))
	assert.Equal(t, 0, bus.countByType(shared.EventRestartRequired))

	r.ExitFullscreen(ctx)
	assert.Equal(t, 3, bus.countByType(shared.EventFullscreenViolation))
	assert.Equal(t, 1, bus.countByType(shared.EventRestartRequired))
	assert.True(t, r.Session().NeedsRestart())

	// The countdown is frozen while a restart is pending.
	before := r.Session().TimeLeftSeconds()
	assert.False(t, r.Tick(ctx))
	assert.Equal(t, before, r.Session().TimeLeftSeconds())
}

func TestRunner_RestartFlow(t *testing.T) {
	bus := &recordingBus{}
	r := newTestRunner(t, 2, &fakeSubmitter{}, bus)
	ctx := context.Background()

	require.NoError(t, r.EnterFullscreen(ctx))
	r.ExitFullscreen(ctx)
	r.ExitFullscreen(ctx)
	r.ExitFullscreen(ctx)
	require.True(t, r.Session().NeedsRestart())

	require.NoError(t, r.Restart(ctx))
	assert.Equal(t, assessment.PhaseAwaitingFullscreen, r.Session().Phase())
	assert.Equal(t, 1, r.Session().FullscreenExitCount())

	require.NoError(t, r.EnterFullscreen(ctx))
	assert.Equal(t, assessment.PhaseInProgress, r.Session().Phase())
}

func TestRunner_StartStopTeardown(t *testing.T) {
	sub := &fakeSubmitter{}
	r := newTestRunner(t, 2, sub, &recordingBus{})
	ctx := context.Background()

	r.Start(ctx)
	r.Stop()

	// An abandoned attempt submits nothing.
	assert.Empty(t, sub.submissions)

	// Stop is idempotent.
	r.Stop()
}
