// Package scheduler runs the engine's periodic maintenance jobs:
// reaping idle lesson monitors and reporting event bus metrics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is a unit of periodic maintenance work. Run receives a context that is
// cancelled when the scheduler stops.
type Job interface {
	Name() string
	Run(ctx context.Context) error
	Description() string
}

// Schedule decides when a job fires next.
type Schedule interface {
	// Next returns the first firing time strictly after t.
	Next(t time.Time) time.Time

	String() string
}

// JobResult records one execution of a job.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     error
}

// JobInfo is a snapshot of a registered job for introspection.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Enabled     bool
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
}

// entry is a job plus its firing state. Fields are guarded by Scheduler.mu.
type entry struct {
	job       Job
	schedule  Schedule
	enabled   bool
	lastRun   time.Time
	nextRun   time.Time
	runCount  int64
	failCount int64
}

// Scheduler fires registered jobs on their schedules. It sleeps until the
// earliest due time instead of polling, and is woken early when registration
// or enablement changes the horizon.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	cancel  context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler returns a scheduler with no jobs registered.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger:  logger,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds a job under its name. Job names must be unique. The job is
// enabled immediately; its first firing comes from schedule.Next.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	e := &entry{
		job:      job,
		schedule: schedule,
		enabled:  true,
		nextRun:  schedule.Next(time.Now()),
	}
	s.entries[name] = e

	s.logger.Info("job registered",
		zap.String("job", name),
		zap.String("description", job.Description()),
		zap.String("schedule", schedule.String()),
		zap.Time("next_run", e.nextRun),
	)

	s.poke()
	return nil
}

// EnableJob re-enables a disabled job and reschedules it from now.
func (s *Scheduler) EnableJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	e.enabled = true
	e.nextRun = e.schedule.Next(time.Now())
	s.poke()
	return nil
}

// DisableJob keeps the job registered but stops it from firing.
func (s *Scheduler) DisableJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	e.enabled = false
	return nil
}

// Start launches the firing loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))
	return nil
}

// Stop halts the firing loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the firing loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow executes a job immediately, outside its schedule. The scheduled
// firing time is left untouched.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	result := s.execute(ctx, e)
	return &result, result.Error
}

// ListJobs returns a snapshot of every registered job.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			Enabled:     e.enabled,
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runCount,
			FailCount:   e.failCount,
		})
	}
	return infos
}

// loop sleeps until the earliest due job, fires everything due, and re-arms.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(s.untilNextDue())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// untilNextDue returns the sleep until the earliest enabled firing time.
// With nothing scheduled the loop naps and waits for a poke.
func (s *Scheduler) untilNextDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	const nap = time.Minute
	earliest := time.Time{}
	for _, e := range s.entries {
		if !e.enabled || e.nextRun.IsZero() {
			continue
		}
		if earliest.IsZero() || e.nextRun.Before(earliest) {
			earliest = e.nextRun
		}
	}
	if earliest.IsZero() {
		return nap
	}

	d := time.Until(earliest)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.enabled && !e.nextRun.IsZero() && !e.nextRun.After(now) {
			e.nextRun = e.schedule.Next(now)
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.execute(ctx, e)
		}(e)
	}
}

// execute runs the job and records the outcome on its entry.
func (s *Scheduler) execute(ctx context.Context, e *entry) JobResult {
	name := e.job.Name()
	started := time.Now()

	err := e.job.Run(ctx)
	elapsed := time.Since(started)

	s.mu.Lock()
	e.lastRun = started
	e.runCount++
	if err != nil {
		e.failCount++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			zap.String("job", name),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("job completed",
			zap.String("job", name),
			zap.Duration("duration", elapsed),
		)
	}

	return JobResult{
		JobName:   name,
		StartedAt: started,
		Duration:  elapsed,
		Success:   err == nil,
		Error:     err,
	}
}

// poke wakes the loop so it can recompute its sleep. Callers hold s.mu.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
