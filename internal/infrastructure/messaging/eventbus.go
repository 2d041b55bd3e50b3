// Package messaging implements the event bus carrying the engine's domain
// events (completions, integrity violations, assessment outcomes) to
// subscribers such as audit writers and notification hooks.
package messaging

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ErrEventBusClosed is returned for publishes and subscriptions after Close.
var ErrEventBusClosed = errors.New("event bus is closed")

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// Config controls bus delivery.
type Config struct {
	// AsyncMode delivers events off the publisher's goroutine. The monitor
	// publishes from its heartbeat path, so async is the production default.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent deliveries in async mode.
	WorkerPoolSize int

	Logger *zap.Logger
}

// DefaultConfig returns the production delivery settings.
func DefaultConfig() Config {
	return Config{AsyncMode: true, WorkerPoolSize: 10}
}

// InMemoryEventBus routes shared.Event values to registered handlers inside
// a single process. A handler error is counted and logged, never returned to
// the publisher: a broken audit hook must not break heartbeat processing.
//
// Close blocks until every delivery accepted before it has finished, so
// events published in async mode are not dropped on shutdown.
type InMemoryEventBus struct {
	logger  *zap.Logger
	metrics *Metrics

	async bool
	sem   chan struct{}

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed   bool

	inflight sync.WaitGroup
}

// NewInMemoryEventBus creates a bus with the given delivery settings.
func NewInMemoryEventBus(config Config) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}
	return &InMemoryEventBus{
		logger:  config.Logger,
		metrics: NewMetrics(),
		async:   config.AsyncMode,
		sem:     make(chan struct{}, config.WorkerPoolSize),
		byType:  make(map[shared.EventType][]shared.EventHandler),
	}
}

// Subscribe routes events of one type to handler.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.byType[eventType] = append(b.byType[eventType], handler)
	b.logger.Debug("subscribed handler", zap.String("event_type", string(eventType)))
	return nil
}

// SubscribeAll routes every event to handler, after the typed subscribers.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.catchAll = append(b.catchAll, handler)
	return nil
}

// Publish delivers event to its subscribers. In async mode delivery happens
// on the worker pool and Publish returns immediately.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	handlers := make([]shared.EventHandler, 0, len(typed)+len(b.catchAll))
	handlers = append(handlers, typed...)
	handlers = append(handlers, b.catchAll...)
	b.inflight.Add(len(handlers))
	b.mu.RUnlock()

	b.metrics.RecordPublish(event.EventType())

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", zap.String("event_type", string(event.EventType())))
		return nil
	}

	for _, handler := range handlers {
		if b.async {
			go b.pooledDeliver(event, handler)
		} else {
			b.deliver(event, handler)
		}
	}
	return nil
}

func (b *InMemoryEventBus) pooledDeliver(event shared.Event, handler shared.EventHandler) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()
	b.deliver(event, handler)
}

// deliver runs one handler and settles its inflight slot.
func (b *InMemoryEventBus) deliver(event shared.Event, handler shared.EventHandler) {
	defer b.inflight.Done()

	start := time.Now()
	err := handler(event)
	b.metrics.RecordHandlerExecution(event.EventType(), time.Since(start), err == nil)
	if err != nil {
		b.logger.Error("handler error",
			zap.String("event_type", string(event.EventType())),
			zap.Error(err))
	}
}

// Close stops accepting events and waits for accepted deliveries to finish.
// Closing an already closed bus is a no-op.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Metrics returns the bus counters.
func (b *InMemoryEventBus) Metrics() *Metrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// BUS COUNTERS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics accumulates publish and delivery counters. All methods are safe
// for concurrent use.
type Metrics struct {
	mu sync.Mutex

	publishedByType map[shared.EventType]int64
	publishedTotal  int64

	execs     int64
	failures  int64
	totalTime time.Duration
}

// NewMetrics creates a zeroed counter set.
func NewMetrics() *Metrics {
	return &Metrics{publishedByType: make(map[shared.EventType]int64)}
}

// RecordPublish counts one accepted event.
func (m *Metrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedByType[eventType]++
	m.publishedTotal++
}

// RecordHandlerExecution counts one finished delivery.
func (m *Metrics) RecordHandlerExecution(eventType shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs++
	m.totalTime += duration
	if !success {
		m.failures++
	}
}

// PublishedByType returns how many events of one type were accepted.
func (m *Metrics) PublishedByType(eventType shared.EventType) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishedByType[eventType]
}

// Snapshot returns a consistent copy of the counters for reporting.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalPublished:     m.publishedTotal,
		TotalHandlerExecs:  m.execs,
		HandlerSuccessRate: 1.0,
	}
	if m.execs > 0 {
		snap.HandlerSuccessRate = float64(m.execs-m.failures) / float64(m.execs)
		snap.AverageHandlerDuration = m.totalTime / time.Duration(m.execs)
	}
	return snap
}

// MetricsSnapshot is a point-in-time view of the bus counters.
type MetricsSnapshot struct {
	TotalPublished         int64
	TotalHandlerExecs      int64
	HandlerSuccessRate     float64
	AverageHandlerDuration time.Duration
}
