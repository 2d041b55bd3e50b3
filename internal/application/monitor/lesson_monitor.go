// Package monitor contains the application service that aggregates raw
// viewing signals for one lesson into throttled heartbeats. It owns the
// attention recorder, the playback guard, and the watch session for a
// lesson key, and is the only writer to all three.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/attention"
	"github.com/lumenlms/integrity-engine/internal/domain/playback"
	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/pkg/circuitbreaker"
	"github.com/lumenlms/integrity-engine/pkg/clock"
)

// DefaultHeartbeatInterval is the periodic flush cadence. The throttle uses
// the same interval: at most one non-critical heartbeat per interval.
const DefaultHeartbeatInterval = 10 * time.Second

// Config holds the aggregation parameters for one lesson monitor.
type Config struct {
	// HeartbeatInterval is the flush cadence and throttle window.
	HeartbeatInterval time.Duration

	// InactivityThreshold is how long without activity marks disengagement.
	InactivityThreshold time.Duration

	// Guard holds the playback integrity parameters.
	Guard playback.Config

	// CompletionThreshold is the percentage-watched completion cutoff.
	CompletionThreshold shared.Percentage
}

// DefaultConfig returns the default aggregation parameters.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   DefaultHeartbeatInterval,
		InactivityThreshold: attention.DefaultInactivityThreshold,
		Guard:               playback.DefaultConfig(),
		CompletionThreshold: progress.DefaultCompletionThreshold,
	}
}

// Monitor aggregates viewing signals for a single lesson key. Signal entry
// points are safe for concurrent use; internally all state is serialized
// behind one mutex so the recorder, guard, and session observe a single
// ordered stream.
//
// Heartbeat delivery failures are logged and swallowed: playback must never
// pause because telemetry is degraded. The next successful heartbeat
// carries the accumulated events, so nothing is lost.
type Monitor struct {
	cfg     Config
	key     shared.LessonKey
	sink    progress.HeartbeatSink
	bus     shared.EventPublisher
	breaker *circuitbreaker.CircuitBreaker
	clk     clock.Clock
	logger  *zap.Logger

	mu          sync.Mutex
	session     *progress.WatchSession
	recorder    *attention.Recorder
	guard       *playback.Guard
	calc        progress.Calculator
	currentTime time.Duration
	pending     []attention.Event
	lastFlush   time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates a Monitor and its watch session for the first
// heartbeat of a lesson. The event bus is optional; a nil bus disables
// domain event publication.
func NewMonitor(
	cfg Config,
	key shared.LessonKey,
	totalDuration time.Duration,
	sink progress.HeartbeatSink,
	bus shared.EventPublisher,
	clk clock.Clock,
	logger *zap.Logger,
) (*Monitor, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	now := clk.Now()
	session, err := progress.NewWatchSession(key, totalDuration, now)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:      cfg,
		key:      key,
		sink:     sink,
		bus:      bus,
		clk:      clk,
		logger:   logger.With(zap.String("lesson_key", key.String())),
		session:  session,
		recorder: attention.NewRecorder(cfg.InactivityThreshold, now),
		guard:    playback.NewGuard(cfg.Guard, now),
		calc:     progress.NewCalculator(cfg.CompletionThreshold),
		breaker: circuitbreaker.New("heartbeat-sink",
			circuitbreaker.WithTimeout(cfg.HeartbeatInterval),
		),
	}
	return m, nil
}

// Session returns the monitor's watch session. The caller must treat it as
// read-only; only the monitor writes to it.
func (m *Monitor) Session() *progress.WatchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// LastActivity returns the time of the viewer's last observed activity.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorder.LastActivity()
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches the heartbeat loop. Each tick runs the inactivity check
// and a throttled flush.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := m.clk.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()

		m.logger.Info("lesson monitor started",
			zap.Duration("interval", m.cfg.HeartbeatInterval))

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				m.Tick(ctx)
			}
		}
	}()
}

// Stop tears the monitor down: the loop exits, all timers are released, and
// one final best-effort flush reports the session's last state. Stop is
// idempotent and safe to call without Start.
func (m *Monitor) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()

		m.mu.Lock()
		m.session.Close(m.clk.Now())
		m.mu.Unlock()

		// Final flush so a closed tab loses at most one interval of
		// non-critical signal.
		m.flush(ctx, nil, true)

		m.logger.Info("lesson monitor stopped")
	})
}

// Tick runs one timer cycle: the inactivity check followed by a throttled
// heartbeat. Exposed so callers driving a fake timeline can run cycles
// synchronously.
func (m *Monitor) Tick(ctx context.Context) {
	now := m.clk.Now()

	m.mu.Lock()
	if ev := m.recorder.CheckInactivity(now); ev != nil {
		m.session.AppendEvent(*ev)
		m.pending = append(m.pending, *ev)
		m.mu.Unlock()
		m.publishViolation(shared.EventInactivityDetected, "", now)
		m.flush(ctx, ev, true)
		return
	}
	m.mu.Unlock()

	m.flush(ctx, nil, false)
}

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL ENTRY POINTS
// ══════════════════════════════════════════════════════════════════════════════

// OnUserActivity processes a raw input signal (mousedown, keydown,
// mousemove, wheel, touchstart).
func (m *Monitor) OnUserActivity(ctx context.Context) {
	now := m.clk.Now()

	m.mu.Lock()
	ev := m.recorder.OnUserActivity(now)
	if ev != nil {
		m.session.AppendEvent(*ev)
		m.pending = append(m.pending, *ev)
	}
	m.mu.Unlock()
}

// OnVisibilityChange processes a document visibility signal. A tab-hide is
// critical and flushes immediately.
func (m *Monitor) OnVisibilityChange(ctx context.Context, hidden bool) {
	now := m.clk.Now()

	m.mu.Lock()
	ev := m.recorder.OnVisibilityChange(hidden, now)
	if ev == nil {
		m.mu.Unlock()
		return
	}
	m.session.AppendEvent(*ev)
	m.pending = append(m.pending, *ev)
	m.mu.Unlock()

	if ev.Type == attention.EventTabSwitch {
		m.publishViolation(shared.EventTabSwitchDetected, "", now)
		m.flush(ctx, ev, true)
	}
}

// OnTimeUpdate processes a reported playback position. The returned result
// carries the position the player must be reset to when the update was
// classified as a forward skip; a clamp is critical and flushes
// immediately.
func (m *Monitor) OnTimeUpdate(ctx context.Context, reported time.Duration) playback.Result {
	now := m.clk.Now()

	m.mu.Lock()
	res := m.guard.OnTimeUpdate(reported, now)
	m.currentTime = res.CorrectedTime

	if !res.Clamped {
		m.mu.Unlock()
		return res
	}

	details := "jump=" + res.Jump.String()
	ev := m.recorder.Record(attention.EventFastForward, details, now)
	m.session.AppendEvent(ev)
	m.pending = append(m.pending, ev)
	m.mu.Unlock()

	m.logger.Warn("forward skip clamped",
		zap.Duration("reported", reported),
		zap.Duration("corrected", res.CorrectedTime),
		zap.Duration("jump", res.Jump))

	m.publishViolation(shared.EventFastForwardDetected, details, now)
	m.flush(ctx, &ev, true)
	return res
}

// OnRateChange validates a requested playback rate and returns the rate the
// player must use.
func (m *Monitor) OnRateChange(rate float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guard.OnRateChange(rate)
}

// ══════════════════════════════════════════════════════════════════════════════
// FLUSH
// ══════════════════════════════════════════════════════════════════════════════

// Flush forces an immediate heartbeat, bypassing the throttle.
func (m *Monitor) Flush(ctx context.Context) {
	m.flush(ctx, nil, true)
}

// flush assembles and delivers one heartbeat. Non-critical flushes are
// throttled to one per interval; critical ones always go out. Buffered
// events are only cleared after a successful delivery so a sink outage
// never drops them.
func (m *Monitor) flush(ctx context.Context, trigger *attention.Event, critical bool) {
	now := m.clk.Now()

	m.mu.Lock()
	if !critical && now.Sub(m.lastFlush) < m.cfg.HeartbeatInterval {
		m.mu.Unlock()
		return
	}

	buffered := make([]attention.Event, len(m.pending))
	copy(buffered, m.pending)

	hb := progress.Heartbeat{
		Key:           m.key,
		SessionID:     m.session.ID,
		CurrentTime:   m.currentTime,
		TotalDuration: m.session.TotalDuration,
		Event:         trigger,
		Buffered:      buffered,
		SentAt:        now,
	}
	m.lastFlush = now
	m.mu.Unlock()

	var ack progress.Ack
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		var sinkErr error
		ack, sinkErr = m.sink.RecordHeartbeat(ctx, hb)
		return sinkErr
	})
	if err != nil {
		// Telemetry degradation never interrupts playback.
		m.logger.Warn("heartbeat delivery failed",
			zap.Int("buffered_events", len(buffered)),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	m.pending = m.pending[len(buffered):]
	completed := m.session.Advance(m.guard.MaxObserved(), m.calc)
	if ack.Success && ack.Status.AtLeast(m.session.Status) {
		m.session.Status = ack.Status
	}
	pct := m.session.Percentage()
	m.mu.Unlock()

	if completed {
		m.logger.Info("lesson completed",
			zap.Float64("percentage_watched", pct.Float64()))
		m.publish(shared.NewLessonCompletedEvent(m.key, pct, now))
	}
}

// publishViolation emits an integrity domain event, if a bus is wired.
func (m *Monitor) publishViolation(t shared.EventType, details string, now time.Time) {
	m.publish(shared.NewIntegrityViolationEvent(t, m.key, details, now))
}

func (m *Monitor) publish(ev shared.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ev); err != nil {
		m.logger.Warn("event publish failed",
			zap.String("event_type", string(ev.EventType())),
			zap.Error(err))
	}
}
