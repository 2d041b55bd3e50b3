package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/domain/attention"
	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/pkg/clock"
)

var monitorStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func monitorLessonKey() shared.LessonKey {
	return shared.LessonKey{
		UserID:   shared.UserID("7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"),
		CourseID: shared.CourseID("go-fundamentals"),
		ModuleID: shared.ModuleID("week01"),
		LessonID: shared.LessonID("goroutines-intro"),
	}
}

// fakeSink records delivered heartbeats and can be made to fail.
type fakeSink struct {
	mu         sync.Mutex
	heartbeats []progress.Heartbeat
	err        error
}

func (f *fakeSink) RecordHeartbeat(_ context.Context, hb progress.Heartbeat) (progress.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return progress.Ack{}, f.err
	}
	f.heartbeats = append(f.heartbeats, hb)
	pct := shared.Ratio(hb.CurrentTime.Seconds(), hb.TotalDuration.Seconds())
	status := progress.StatusInProgress
	if pct.AtLeast(progress.DefaultCompletionThreshold) {
		status = progress.StatusCompleted
	}
	return progress.Ack{Success: true, PercentageWatched: pct, Status: status}, nil
}

func (f *fakeSink) delivered() []progress.Heartbeat {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]progress.Heartbeat, len(f.heartbeats))
	copy(out, f.heartbeats)
	return out
}

func (f *fakeSink) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// recordingBus captures published domain events.
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

func (b *recordingBus) published() []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.Event, len(b.events))
	copy(out, b.events)
	return out
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeSink, *recordingBus, *clock.Fake) {
	t.Helper()

	sink := &fakeSink{}
	bus := &recordingBus{}
	clk := clock.NewFake(monitorStart)

	m, err := NewMonitor(DefaultConfig(), monitorLessonKey(), 600*time.Second, sink, bus, clk, zap.NewNop())
	require.NoError(t, err)
	return m, sink, bus, clk
}

func TestFlush_ThrottledToOnePerInterval(t *testing.T) {
	m, sink, _, clk := newTestMonitor(t)
	ctx := context.Background()

	clk.Advance(10 * time.Second)
	m.Tick(ctx)
	require.Len(t, sink.delivered(), 1)

	// Inside the same window nothing more goes out.
	clk.Advance(3 * time.Second)
	m.Tick(ctx)
	assert.Len(t, sink.delivered(), 1)

	clk.Advance(7 * time.Second)
	m.Tick(ctx)
	assert.Len(t, sink.delivered(), 2)
}

func TestCriticalEventBypassesThrottle(t *testing.T) {
	m, sink, _, clk := newTestMonitor(t)
	ctx := context.Background()

	clk.Advance(10 * time.Second)
	m.Tick(ctx)
	require.Len(t, sink.delivered(), 1)

	// One second later the tab goes hidden: the flush must not wait out
	// the throttle window.
	clk.Advance(time.Second)
	m.OnVisibilityChange(ctx, true)

	hbs := sink.delivered()
	require.Len(t, hbs, 2)
	require.NotNil(t, hbs[1].Event)
	assert.Equal(t, attention.EventTabSwitch, hbs[1].Event.Type)
}

func TestForwardSkip_ClampsAndFlushes(t *testing.T) {
	m, sink, bus, clk := newTestMonitor(t)
	ctx := context.Background()

	clk.Advance(10 * time.Second)
	res := m.OnTimeUpdate(ctx, 10*time.Second)
	require.False(t, res.Clamped)

	clk.Advance(time.Second)
	res = m.OnTimeUpdate(ctx, 5*time.Minute)
	require.True(t, res.Clamped)
	assert.Equal(t, 10*time.Second, res.CorrectedTime)

	hbs := sink.delivered()
	require.NotEmpty(t, hbs)
	last := hbs[len(hbs)-1]
	require.NotNil(t, last.Event)
	assert.Equal(t, attention.EventFastForward, last.Event.Type)
	// The heartbeat reports the corrected position, not the claimed one.
	assert.Equal(t, 10*time.Second, last.CurrentTime)

	var sawViolation bool
	for _, ev := range bus.published() {
		if ev.EventType() == shared.EventFastForwardDetected {
			sawViolation = true
		}
	}
	assert.True(t, sawViolation)
}

func TestBufferedEvents_ClearedInOrderAfterDelivery(t *testing.T) {
	m, sink, _, clk := newTestMonitor(t)
	ctx := context.Background()

	// Two non-critical transitions buffer without flushing: hide is
	// critical, but the sink is down for the first one.
	sink.setErr(errors.New("gateway timeout"))
	m.OnVisibilityChange(ctx, true)
	clk.Advance(time.Second)
	m.OnVisibilityChange(ctx, false)
	require.Empty(t, sink.delivered())

	sink.setErr(nil)
	clk.Advance(time.Second)
	m.Flush(ctx)

	hbs := sink.delivered()
	require.Len(t, hbs, 1)
	require.Len(t, hbs[0].Buffered, 2)
	assert.Equal(t, attention.EventTabSwitch, hbs[0].Buffered[0].Type)
	assert.Equal(t, attention.EventActivityResumed, hbs[0].Buffered[1].Type)

	// A later flush does not resend what was already delivered.
	clk.Advance(10 * time.Second)
	m.Tick(ctx)
	hbs = sink.delivered()
	require.Len(t, hbs, 2)
	assert.Empty(t, hbs[1].Buffered)
}

func TestSinkFailure_DoesNotDropEvents(t *testing.T) {
	m, sink, _, clk := newTestMonitor(t)
	ctx := context.Background()

	sink.setErr(errors.New("connection refused"))
	m.OnVisibilityChange(ctx, true)
	require.Empty(t, sink.delivered())

	// The outage ends; the next heartbeat carries the event.
	sink.setErr(nil)
	clk.Advance(10 * time.Second)
	m.Tick(ctx)

	hbs := sink.delivered()
	require.Len(t, hbs, 1)
	require.Len(t, hbs[0].Buffered, 1)
	assert.Equal(t, attention.EventTabSwitch, hbs[0].Buffered[0].Type)
}

func TestCompletion_PublishedOnce(t *testing.T) {
	m, _, bus, clk := newTestMonitor(t)
	ctx := context.Background()

	// Play through 95% of the ten-minute lesson.
	for i := 0; i < 57; i++ {
		clk.Advance(10 * time.Second)
		m.OnTimeUpdate(ctx, time.Duration(i+1)*10*time.Second)
		m.Tick(ctx)
	}

	assert.Equal(t, progress.StatusCompleted, m.Session().Status)

	var completions int
	for _, ev := range bus.published() {
		if ev.EventType() == shared.EventLessonCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestInactivity_DetectedOnTick(t *testing.T) {
	m, sink, bus, clk := newTestMonitor(t)
	ctx := context.Background()

	clk.Advance(16 * time.Minute)
	m.Tick(ctx)

	hbs := sink.delivered()
	require.NotEmpty(t, hbs)
	last := hbs[len(hbs)-1]
	require.NotNil(t, last.Event)
	assert.Equal(t, attention.EventInactivity, last.Event.Type)

	var sawInactivity bool
	for _, ev := range bus.published() {
		if ev.EventType() == shared.EventInactivityDetected {
			sawInactivity = true
		}
	}
	assert.True(t, sawInactivity)
}

func TestStop_FinalFlushAndIdempotent(t *testing.T) {
	m, sink, _, clk := newTestMonitor(t)
	ctx := context.Background()

	m.Start(ctx)
	clk.Advance(time.Second)
	m.OnTimeUpdate(ctx, time.Second)

	m.Stop(ctx)
	hbs := sink.delivered()
	require.NotEmpty(t, hbs)
	assert.Equal(t, time.Second, hbs[len(hbs)-1].CurrentTime)
	assert.False(t, m.Session().IsActive())

	m.Stop(ctx)
	assert.Len(t, sink.delivered(), len(hbs))
}

func TestManager_ReusesAndStopsMonitors(t *testing.T) {
	sink := &fakeSink{}
	clk := clock.NewFake(monitorStart)
	mg := NewManager(DefaultConfig(), sink, nil, clk, zap.NewNop())
	ctx := context.Background()

	m1, err := mg.GetOrCreate(ctx, monitorLessonKey(), 600*time.Second)
	require.NoError(t, err)
	m2, err := mg.GetOrCreate(ctx, monitorLessonKey(), 600*time.Second)
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	mg.StopAll(ctx)
	_, ok := mg.Get(monitorLessonKey())
	assert.False(t, ok)
}
