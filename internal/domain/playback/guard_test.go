package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var guardStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestOnTimeUpdate_NormalPlaybackAdvances(t *testing.T) {
	g := NewGuard(DefaultConfig(), guardStart)

	now := guardStart
	for i := 1; i <= 5; i++ {
		now = now.Add(time.Second)
		res := g.OnTimeUpdate(time.Duration(i)*time.Second, now)
		assert.False(t, res.Clamped)
		assert.Equal(t, time.Duration(i)*time.Second, res.CorrectedTime)
	}
	assert.Equal(t, 5*time.Second, g.MaxObserved())
}

func TestOnTimeUpdate_ForwardSkipClamped(t *testing.T) {
	g := NewGuard(DefaultConfig(), guardStart)

	now := guardStart.Add(10 * time.Second)
	res := g.OnTimeUpdate(10*time.Second, now)
	assert.False(t, res.Clamped)

	// One second later the player claims to be five minutes in.
	now = now.Add(time.Second)
	res = g.OnTimeUpdate(5*time.Minute, now)
	assert.True(t, res.Clamped)
	assert.Equal(t, 10*time.Second, res.CorrectedTime)
	assert.Equal(t, 5*time.Minute-10*time.Second, res.Jump)

	// The clamp does not advance the observed maximum.
	assert.Equal(t, 10*time.Second, g.MaxObserved())
}

func TestOnTimeUpdate_JitterWithinToleranceAccepted(t *testing.T) {
	g := NewGuard(Config{Tolerance: 3 * time.Second, MinJump: 5 * time.Second}, guardStart)

	// Reported position leads wall-clock elapsed by under the tolerance.
	now := guardStart.Add(2 * time.Second)
	res := g.OnTimeUpdate(4*time.Second, now)
	assert.False(t, res.Clamped)
	assert.Equal(t, 4*time.Second, g.MaxObserved())
}

func TestOnTimeUpdate_SmallJumpBelowMinJumpAccepted(t *testing.T) {
	g := NewGuard(Config{Tolerance: time.Second, MinJump: 5 * time.Second}, guardStart)

	// The jump exceeds elapsed plus tolerance but stays under the minimum
	// jump size, so it is written off as jitter.
	now := guardStart.Add(time.Second)
	res := g.OnTimeUpdate(4*time.Second, now)
	assert.False(t, res.Clamped)
	assert.Equal(t, 4*time.Second, res.CorrectedTime)
}

func TestOnTimeUpdate_RewindThenSeekPastMaxClamped(t *testing.T) {
	g := NewGuard(DefaultConfig(), guardStart)

	now := guardStart.Add(60 * time.Second)
	g.OnTimeUpdate(60*time.Second, now)

	// Rewinding is always allowed and does not lower the maximum.
	now = now.Add(time.Second)
	res := g.OnTimeUpdate(20*time.Second, now)
	assert.False(t, res.Clamped)
	assert.Equal(t, 60*time.Second, g.MaxObserved())

	// Seeking forward again past the maximum is caught even though the
	// latest reported position was far behind it.
	now = now.Add(time.Second)
	res = g.OnTimeUpdate(4*time.Minute, now)
	assert.True(t, res.Clamped)
	assert.Equal(t, 60*time.Second, res.CorrectedTime)
}

func TestOnTimeUpdate_SeekBackUnderMaxNeverClamped(t *testing.T) {
	g := NewGuard(DefaultConfig(), guardStart)

	now := guardStart.Add(2 * time.Minute)
	g.OnTimeUpdate(2*time.Minute, now)

	// Re-watching an earlier section, position again under the maximum.
	now = now.Add(time.Second)
	res := g.OnTimeUpdate(30*time.Second, now)
	assert.False(t, res.Clamped)

	// Forward motion back up to the maximum is normal playback.
	now = now.Add(time.Second)
	res = g.OnTimeUpdate(31*time.Second, now)
	assert.False(t, res.Clamped)
}

func TestOnTimeUpdate_LongGapBetweenChecksAllowsCatchUp(t *testing.T) {
	g := NewGuard(DefaultConfig(), guardStart)

	// No checks for a minute of real playback (e.g. a paused event loop).
	// The reported position caught up with wall-clock time, which is
	// plausible and must not be flagged.
	now := guardStart.Add(time.Minute)
	res := g.OnTimeUpdate(time.Minute, now)
	assert.False(t, res.Clamped)
	assert.Equal(t, time.Minute, g.MaxObserved())
}

func TestOnTimeUpdate_NegativeReportedTreatedAsZero(t *testing.T) {
	g := NewGuard(DefaultConfig(), guardStart)

	res := g.OnTimeUpdate(-5*time.Second, guardStart.Add(time.Second))
	assert.False(t, res.Clamped)
	assert.Equal(t, time.Duration(0), res.CorrectedTime)
	assert.Equal(t, time.Duration(0), g.MaxObserved())
}

func TestOnRateChange_Clamping(t *testing.T) {
	g := NewGuard(DefaultConfig(), guardStart)

	assert.Equal(t, 1.0, g.OnRateChange(2.0))
	assert.Equal(t, 1.0, g.OnRateChange(1.25))
	assert.Equal(t, 1.0, g.OnRateChange(1.0))
	assert.Equal(t, 0.5, g.OnRateChange(0.5))
	assert.Equal(t, 1.0, g.OnRateChange(0))
	assert.Equal(t, 1.0, g.OnRateChange(-1))
}
