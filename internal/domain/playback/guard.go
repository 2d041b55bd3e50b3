// Package playback contains the integrity guard that protects watch-time
// accounting from seek and speed manipulation. This is a pure domain layer
// with zero external dependencies.
//
// Naive trust in the player's reported position allows trivial completion
// gaming by seeking to the end. The guard bounds progress by the maximum
// position ever observed, not just the latest one, so seeking forward and
// rewinding cannot hide the jump.
package playback

import (
	"time"
)

// Default guard parameters.
const (
	// DefaultTolerance absorbs normal timer jitter between position reports.
	DefaultTolerance = 3 * time.Second

	// DefaultMinJump is the minimum absolute jump treated as a seek; smaller
	// jumps are written off as jitter to avoid false positives.
	DefaultMinJump = 5 * time.Second

	// MaxPlaybackRate is the highest playback rate accepted; faster rates
	// are clamped so watch time cannot be compressed.
	MaxPlaybackRate = 1.0
)

// Config holds guard parameters.
type Config struct {
	// Tolerance is the slack added to expected elapsed time before a
	// forward jump is suspicious.
	Tolerance time.Duration

	// MinJump is the minimum absolute jump size classified as a seek.
	MinJump time.Duration
}

// DefaultConfig returns the default guard parameters.
func DefaultConfig() Config {
	return Config{
		Tolerance: DefaultTolerance,
		MinJump:   DefaultMinJump,
	}
}

// Result is the outcome of one position check.
type Result struct {
	// CorrectedTime is the position the caller must enforce. Equal to the
	// reported time unless the update was clamped.
	CorrectedTime time.Duration

	// Clamped is true when the update was classified as a forward skip and
	// the position was pulled back to the maximum observed time.
	Clamped bool

	// Jump is the distance of the rejected skip (zero unless Clamped).
	Jump time.Duration
}

// Guard tracks the maximum observed playback position for one viewing
// session and classifies each reported position update. Classification
// never fails: it returns a corrected value that the caller enforces, e.g.
// by resetting the player's position.
//
// Guard is not safe for concurrent use; the owning session controller
// serializes all calls.
type Guard struct {
	cfg         Config
	maxObserved time.Duration
	lastCheck   time.Time
}

// NewGuard creates a Guard anchored at the given wall-clock time.
func NewGuard(cfg Config, now time.Time) *Guard {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MinJump <= 0 {
		cfg.MinJump = DefaultMinJump
	}
	return &Guard{
		cfg:       cfg,
		lastCheck: now,
	}
}

// MaxObserved returns the maximum playback position observed so far.
// Watch time reported upstream never exceeds this value.
func (g *Guard) MaxObserved() time.Duration {
	return g.maxObserved
}

// OnTimeUpdate checks a reported playback position against the time that
// could plausibly have elapsed since the previous check. A jump beyond
// expected elapsed time plus tolerance, and larger than the minimum jump
// size, is a forward skip: the position is clamped back to the maximum
// observed time. Exactly one violation is reported per clamped update.
func (g *Guard) OnTimeUpdate(reported time.Duration, now time.Time) Result {
	expectedElapsed := now.Sub(g.lastCheck)
	g.lastCheck = now

	if reported < 0 {
		reported = 0
	}

	jump := reported - g.maxObserved
	if jump > expectedElapsed+g.cfg.Tolerance && jump > g.cfg.MinJump {
		return Result{
			CorrectedTime: g.maxObserved,
			Clamped:       true,
			Jump:          jump,
		}
	}

	if reported > g.maxObserved {
		g.maxObserved = reported
	}

	return Result{CorrectedTime: reported}
}

// OnRateChange validates a requested playback rate. Rates above 1.0x are
// rejected outright and clamped, independent of the time-jump check.
func (g *Guard) OnRateChange(rate float64) float64 {
	if rate > MaxPlaybackRate {
		return MaxPlaybackRate
	}
	if rate <= 0 {
		return MaxPlaybackRate
	}
	return rate
}
