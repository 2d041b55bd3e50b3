// Package main is the signal replay CLI for the integrity engine.
//
// It reads a JSONL stream of recorded client signals (playback time updates,
// activity, visibility changes, fullscreen transitions, answer selections,
// quota requests), replays them through a lesson monitor and assessment
// runner on a fake timeline, and prints every resulting decision to stdout
// as JSON lines. Logs go to stderr so the decision stream stays parseable.
//
// Example input:
//
//	{"at_ms":0,"type":"time_update","user_id":"u1","course_id":"c1","module_id":"m1","lesson_id":"l1","current_time_seconds":0,"total_duration_seconds":600}
//	{"at_ms":10000,"type":"time_update","user_id":"u1","course_id":"c1","module_id":"m1","lesson_id":"l1","current_time_seconds":130,"total_duration_seconds":600}
//	{"at_ms":12000,"type":"visibility","user_id":"u1","course_id":"c1","module_id":"m1","lesson_id":"l1","hidden":true}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/application/monitor"
	"github.com/lumenlms/integrity-engine/internal/application/proctor"
	"github.com/lumenlms/integrity-engine/internal/domain/assessment"
	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/quota"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/internal/infrastructure/messaging"
	"github.com/lumenlms/integrity-engine/pkg/clock"
	"github.com/lumenlms/integrity-engine/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		inputPath = flag.String("input", "-", "JSONL signal file, or - for stdin")
		logLevel  = flag.String("log-level", "warn", "log level: debug, info, warn, error")
	)
	flag.Parse()

	log, err := logger.New(logger.Options{Level: *logLevel, Format: "text"})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var in io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	r := newReplayer(log)
	defer r.shutdown(ctx)

	return r.replay(ctx, in)
}

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type questionRecord struct {
	ID          string `json:"id"`
	OptionCount int    `json:"option_count"`
}

// signalRecord is one replayed client signal. AtMs is the offset from the
// start of the recording; the fake clock is advanced to it before the signal
// is applied.
type signalRecord struct {
	AtMs int64  `json:"at_ms"`
	Type string `json:"type"`

	// Lesson signals
	UserID               string  `json:"user_id,omitempty"`
	CourseID             string  `json:"course_id,omitempty"`
	ModuleID             string  `json:"module_id,omitempty"`
	LessonID             string  `json:"lesson_id,omitempty"`
	CurrentTimeSeconds   float64 `json:"current_time_seconds,omitempty"`
	TotalDurationSeconds float64 `json:"total_duration_seconds,omitempty"`
	Hidden               bool    `json:"hidden,omitempty"`
	Rate                 float64 `json:"rate,omitempty"`

	// Assessment signals
	AssessmentID string           `json:"assessment_id,omitempty"`
	Questions    []questionRecord `json:"questions,omitempty"`
	Option       int              `json:"option,omitempty"`

	// Quota signals
	Subject string `json:"subject,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REPLAYER
// ══════════════════════════════════════════════════════════════════════════════

type replayer struct {
	clk      *clock.Fake
	start    time.Time
	monitors *monitor.Manager
	tracker  *quota.Tracker
	bus      *messaging.InMemoryEventBus
	runner   *proctor.Runner
	out      *printer
	logger   *zap.Logger
}

func newReplayer(log *zap.Logger) *replayer {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	out := newPrinter(os.Stdout)

	// Synchronous bus: every published event is printed before the signal
	// that caused it returns, keeping the decision stream ordered.
	busCfg := messaging.DefaultConfig()
	busCfg.AsyncMode = false
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)

	for _, eventType := range []shared.EventType{
		shared.EventLessonStarted,
		shared.EventLessonCompleted,
		shared.EventFastForwardDetected,
		shared.EventInactivityDetected,
		shared.EventTabSwitchDetected,
		shared.EventAssessmentStarted,
		shared.EventFullscreenViolation,
		shared.EventRestartRequired,
		shared.EventAssessmentSubmitted,
	} {
		_ = bus.Subscribe(eventType, func(ev shared.Event) error {
			out.print(map[string]interface{}{
				"decision": "event",
				"event":    string(ev.EventType()),
				"payload":  ev.Payload(),
			})
			return nil
		})
	}

	sink := &printingSink{out: out}
	monitors := monitor.NewManager(monitor.DefaultConfig(), sink, bus, clk, log)
	tracker := quota.NewTracker(quota.DefaultConfig(), quota.NewMemoryStore())

	return &replayer{
		clk:      clk,
		start:    start,
		monitors: monitors,
		tracker:  tracker,
		bus:      bus,
		out:      out,
		logger:   log,
	}
}

func (r *replayer) replay(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line++

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var sig signalRecord
		if err := json.Unmarshal(raw, &sig); err != nil {
			r.logger.Warn("skipping malformed signal",
				zap.Int("line", line), zap.Error(err))
			continue
		}

		r.advanceTo(ctx, sig.AtMs)

		if err := r.apply(ctx, sig); err != nil {
			r.out.print(map[string]interface{}{
				"decision": "rejected",
				"type":     sig.Type,
				"line":     line,
				"error":    err.Error(),
			})
		}
	}
	return scanner.Err()
}

// advanceTo moves the fake clock to the signal's offset in one-second steps
// so countdown ticks land between signals exactly as they would in real time.
func (r *replayer) advanceTo(ctx context.Context, atMs int64) {
	target := r.start.Add(time.Duration(atMs) * time.Millisecond)
	for r.clk.Now().Before(target) {
		step := time.Second
		if remaining := target.Sub(r.clk.Now()); remaining < step {
			step = remaining
		}
		r.clk.Advance(step)

		if r.runner != nil && r.runner.Session().Phase() == assessment.PhaseInProgress {
			if finished := r.runner.Tick(ctx); finished {
				r.printResult()
				r.runner = nil
			}
		}
	}
}

func (r *replayer) apply(ctx context.Context, sig signalRecord) error {
	switch sig.Type {
	case "time_update":
		m, err := r.monitor(ctx, sig)
		if err != nil {
			return err
		}
		res := m.OnTimeUpdate(ctx, secondsToDuration(sig.CurrentTimeSeconds))
		session := m.Session()
		r.out.print(map[string]interface{}{
			"decision":               "playback",
			"corrected_time_seconds": res.CorrectedTime.Seconds(),
			"clamped":                res.Clamped,
			"jump_seconds":           res.Jump.Seconds(),
			"percentage_watched":     session.Percentage().Float64(),
			"status":                 string(session.Status),
		})
		return nil

	case "activity":
		m, err := r.monitor(ctx, sig)
		if err != nil {
			return err
		}
		m.OnUserActivity(ctx)
		return nil

	case "visibility":
		m, err := r.monitor(ctx, sig)
		if err != nil {
			return err
		}
		m.OnVisibilityChange(ctx, sig.Hidden)
		return nil

	case "rate_change":
		m, err := r.monitor(ctx, sig)
		if err != nil {
			return err
		}
		applied := m.OnRateChange(sig.Rate)
		r.out.print(map[string]interface{}{
			"decision":       "rate",
			"requested_rate": sig.Rate,
			"applied_rate":   applied,
		})
		return nil

	case "lesson_close":
		key, err := r.lessonKey(sig)
		if err != nil {
			return err
		}
		r.monitors.Close(ctx, key)
		return nil

	case "quota":
		decision, err := r.tracker.CheckAndConsume(ctx, sig.Subject, r.clk.Now())
		if err != nil {
			return err
		}
		r.out.print(map[string]interface{}{
			"decision":           "quota",
			"subject":            sig.Subject,
			"allowed":            decision.Allowed,
			"reason":             string(decision.Reason),
			"remaining_window":   decision.RemainingWindow,
			"remaining_lifetime": decision.RemainingLifetime,
		})
		return nil

	case "assessment_start":
		return r.startAssessment(ctx, sig)

	case "fullscreen_enter":
		if r.runner == nil {
			return shared.ErrNotInProgress
		}
		if err := r.runner.EnterFullscreen(ctx); err != nil {
			return err
		}
		r.printSnapshot()
		return nil

	case "fullscreen_exit":
		if r.runner == nil {
			return shared.ErrNotInProgress
		}
		r.runner.ExitFullscreen(ctx)
		r.printSnapshot()
		return nil

	case "answer":
		if r.runner == nil {
			return shared.ErrNotInProgress
		}
		if err := r.runner.SelectAnswer(sig.Option); err != nil {
			return err
		}
		r.printSnapshot()
		return nil

	case "restart":
		if r.runner == nil {
			return shared.ErrNotInProgress
		}
		if err := r.runner.Restart(ctx); err != nil {
			return err
		}
		r.printSnapshot()
		return nil

	default:
		return fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

func (r *replayer) startAssessment(ctx context.Context, sig signalRecord) error {
	if r.runner != nil {
		return shared.ErrInvalidState
	}

	questions := make([]assessment.Question, 0, len(sig.Questions))
	for _, q := range sig.Questions {
		questions = append(questions, assessment.Question{ID: q.ID, OptionCount: q.OptionCount})
	}

	userID, err := shared.NewUserID(sig.UserID)
	if err != nil {
		return err
	}
	courseID, err := shared.NewCourseID(sig.CourseID)
	if err != nil {
		return err
	}

	session, err := assessment.NewSession(
		userID, courseID, shared.AssessmentID(sig.AssessmentID),
		questions, assessment.DefaultConfig(), r.clk.Now())
	if err != nil {
		return err
	}

	// The runner is driven by advanceTo rather than its own ticker loop,
	// so Start is never called here.
	r.runner = proctor.NewRunner(session, &printingSubmitter{out: r.out}, r.bus, r.clk, r.logger)
	r.printSnapshot()
	return nil
}

func (r *replayer) monitor(ctx context.Context, sig signalRecord) (*monitor.Monitor, error) {
	key, err := r.lessonKey(sig)
	if err != nil {
		return nil, err
	}
	return r.monitors.GetOrCreate(ctx, key, secondsToDuration(sig.TotalDurationSeconds))
}

func (r *replayer) lessonKey(sig signalRecord) (shared.LessonKey, error) {
	key := shared.LessonKey{
		UserID:   shared.UserID(sig.UserID),
		CourseID: shared.CourseID(sig.CourseID),
		ModuleID: shared.ModuleID(sig.ModuleID),
		LessonID: shared.LessonID(sig.LessonID),
	}
	if !key.IsValid() {
		return shared.LessonKey{}, shared.ErrInvalidID
	}
	return key, nil
}

func (r *replayer) printSnapshot() {
	snap := r.runner.Session().Snapshot()
	r.out.print(map[string]interface{}{
		"decision":              "assessment",
		"phase":                 string(snap.Phase),
		"current_question":      snap.CurrentQuestionIndex,
		"time_left_seconds":     snap.TimeLeftSeconds,
		"fullscreen_exit_count": snap.FullscreenExitCount,
	})
}

func (r *replayer) printResult() {
	result, err := r.runner.Result()
	if err != nil {
		r.out.print(map[string]interface{}{
			"decision": "result",
			"error":    err.Error(),
		})
		return
	}
	r.out.print(map[string]interface{}{
		"decision":        "result",
		"score":           result.Score.Int(),
		"passed":          result.Passed,
		"correct_answers": result.CorrectAnswers,
		"total_questions": result.TotalQuestions,
	})
}

func (r *replayer) shutdown(ctx context.Context) {
	if r.runner != nil {
		r.runner.Stop()
	}
	r.monitors.StopAll(ctx)
	_ = r.bus.Close()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTPUT
// ══════════════════════════════════════════════════════════════════════════════

// printer serializes decision lines. Monitor flushes arrive from ticker
// goroutines, so writes are locked.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: json.NewEncoder(w)}
}

func (p *printer) print(v interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(v)
}

// printingSink acknowledges heartbeats locally and prints each flush.
type printingSink struct {
	out *printer
}

func (s *printingSink) RecordHeartbeat(_ context.Context, hb progress.Heartbeat) (progress.Ack, error) {
	pct := shared.Ratio(hb.CurrentTime.Seconds(), hb.TotalDuration.Seconds())
	status := progress.StatusInProgress
	if pct.AtLeast(progress.DefaultCompletionThreshold) {
		status = progress.StatusCompleted
	}

	entry := map[string]interface{}{
		"decision":             "heartbeat",
		"current_time_seconds": hb.CurrentTime.Seconds(),
		"percentage_watched":   pct.Float64(),
		"status":               string(status),
	}
	if hb.Event != nil {
		entry["event_type"] = string(hb.Event.Type)
	}
	s.out.print(entry)

	return progress.Ack{Success: true, PercentageWatched: pct, Status: status}, nil
}

// printingSubmitter grades nothing: it reports how many questions received
// any answer at all, which is enough to inspect replayed attempt flow.
type printingSubmitter struct {
	out *printer
}

func (s *printingSubmitter) Submit(_ context.Context, sub assessment.Submission) (assessment.Result, error) {
	answered := 0
	for _, a := range sub.Answers {
		if a.Answer != assessment.Unanswered {
			answered++
		}
	}

	total := len(sub.Answers)
	score := shared.Score(0)
	if total > 0 {
		score = shared.Score(answered * 100 / total)
	}

	s.out.print(map[string]interface{}{
		"decision":      "submission",
		"assessment_id": sub.AssessmentID.String(),
		"answered":      answered,
		"total":         total,
	})

	return assessment.Result{
		Score:          score,
		Passed:         score.Passed(assessment.DefaultPassingScore),
		CorrectAnswers: answered,
		TotalQuestions: total,
	}, nil
}
