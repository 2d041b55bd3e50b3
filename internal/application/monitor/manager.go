package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/pkg/clock"
)

// Manager owns one Monitor per active lesson key. Monitors are created
// lazily on the first signal for a key and torn down together on shutdown.
type Manager struct {
	cfg    Config
	sink   progress.HeartbeatSink
	bus    shared.EventPublisher
	clk    clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewManager creates an empty Manager.
func NewManager(cfg Config, sink progress.HeartbeatSink, bus shared.EventPublisher, clk clock.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		sink:     sink,
		bus:      bus,
		clk:      clk,
		logger:   logger,
		monitors: make(map[string]*Monitor),
	}
}

// GetOrCreate returns the monitor for a lesson key, creating and starting
// it on first use.
func (mg *Manager) GetOrCreate(ctx context.Context, key shared.LessonKey, totalDuration time.Duration) (*Monitor, error) {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	if m, ok := mg.monitors[key.String()]; ok {
		return m, nil
	}

	m, err := NewMonitor(mg.cfg, key, totalDuration, mg.sink, mg.bus, mg.clk, mg.logger)
	if err != nil {
		return nil, err
	}
	m.Start(ctx)
	mg.monitors[key.String()] = m

	if mg.bus != nil {
		ev := shared.NewBaseEvent(shared.EventLessonStarted, key.String(), mg.clk.Now())
		_ = mg.bus.Publish(lessonStartedEvent{BaseEvent: ev, Key: key})
	}
	return m, nil
}

// Get returns the monitor for a lesson key, if one is active.
func (mg *Manager) Get(key shared.LessonKey) (*Monitor, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	m, ok := mg.monitors[key.String()]
	return m, ok
}

// Close stops the monitor for one lesson key and removes it.
func (mg *Manager) Close(ctx context.Context, key shared.LessonKey) {
	mg.mu.Lock()
	m, ok := mg.monitors[key.String()]
	delete(mg.monitors, key.String())
	mg.mu.Unlock()

	if ok {
		m.Stop(ctx)
	}
}

// CloseIdle stops monitors whose viewer has shown no activity for at
// least idleFor. Abandoned browser tabs would otherwise hold a monitor
// open forever. Returns the number of monitors closed.
func (mg *Manager) CloseIdle(ctx context.Context, idleFor time.Duration) int {
	now := mg.clk.Now()

	mg.mu.Lock()
	idle := make([]*Monitor, 0)
	for key, m := range mg.monitors {
		if now.Sub(m.LastActivity()) >= idleFor {
			idle = append(idle, m)
			delete(mg.monitors, key)
		}
	}
	mg.mu.Unlock()

	for _, m := range idle {
		m.Stop(ctx)
	}
	if len(idle) > 0 {
		mg.logger.Info("idle lesson monitors closed",
			zap.Int("count", len(idle)),
			zap.Duration("idle_for", idleFor),
		)
	}
	return len(idle)
}

// StopAll stops every active monitor. Each one performs its final flush.
func (mg *Manager) StopAll(ctx context.Context) {
	mg.mu.Lock()
	monitors := make([]*Monitor, 0, len(mg.monitors))
	for _, m := range mg.monitors {
		monitors = append(monitors, m)
	}
	mg.monitors = make(map[string]*Monitor)
	mg.mu.Unlock()

	for _, m := range monitors {
		m.Stop(ctx)
	}
	mg.logger.Info("all lesson monitors stopped", zap.Int("count", len(monitors)))
}

// lessonStartedEvent marks the creation of a watch stream.
type lessonStartedEvent struct {
	shared.BaseEvent
	Key shared.LessonKey `json:"key"`
}

func (e lessonStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.Key.UserID.String(),
		"course_id": e.Key.CourseID.String(),
		"lesson_id": e.Key.LessonID.String(),
	}
}
