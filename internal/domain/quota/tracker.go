package quota

import (
	"context"
	"time"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Default quota parameters for the AI-chat gate.
const (
	DefaultWindowSize  = time.Hour
	DefaultWindowCap   = 6
	DefaultLifetimeCap = 50
)

// Config holds quota parameters.
type Config struct {
	// WindowSize is the rolling window length.
	WindowSize time.Duration

	// WindowCap is the maximum admitted requests inside one window.
	WindowCap int

	// LifetimeCap is the maximum admitted requests ever; it never resets.
	LifetimeCap int
}

// DefaultConfig returns the default quota parameters.
func DefaultConfig() Config {
	return Config{
		WindowSize:  DefaultWindowSize,
		WindowCap:   DefaultWindowCap,
		LifetimeCap: DefaultLifetimeCap,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DECISION
// ══════════════════════════════════════════════════════════════════════════════

// Reason classifies a rejected admission.
type Reason string

const (
	// ReasonNone means the request was admitted.
	ReasonNone Reason = ""

	// ReasonRateLimited means the rolling window is full.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonLifetimeExhausted means the lifetime cap is spent.
	ReasonLifetimeExhausted Reason = "lifetime_exhausted"
)

// Decision is the admission result. A rejection is a result, not an error:
// callers must treat RemainingWindow == 0 as a hard block on the gated
// action, not merely a warning.
type Decision struct {
	// Allowed indicates whether the request was admitted.
	Allowed bool

	// Reason classifies a rejection; empty when admitted.
	Reason Reason

	// RemainingWindow is how many requests remain in the current window.
	RemainingWindow int

	// WindowCap echoes the configured per-window limit for caller display.
	WindowCap int

	// RemainingLifetime is how many requests remain under the lifetime cap.
	RemainingLifetime int
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store persists per-subject quota state. Implementations live in the
// infrastructure layer. Concurrent requests from the same subject (multiple
// tabs) are tolerated with a bounded race (at most one extra admitted
// request per burst) rather than serialized behind a distributed lock:
// quota limits are soft UX guards, not hard security boundaries.
type Store interface {
	// Load returns the state for a subject, creating an empty state on
	// first use.
	Load(ctx context.Context, subjectID string) (*State, error)

	// Save persists an updated state.
	Save(ctx context.Context, state *State) error
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// Tracker performs quota admission over a Store.
type Tracker struct {
	cfg   Config
	store Store
}

// NewTracker creates a Tracker. Zero config fields fall back to defaults.
func NewTracker(cfg Config, store Store) *Tracker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.WindowCap <= 0 {
		cfg.WindowCap = DefaultWindowCap
	}
	if cfg.LifetimeCap <= 0 {
		cfg.LifetimeCap = DefaultLifetimeCap
	}
	return &Tracker{cfg: cfg, store: store}
}

// CheckAndConsume decides admission for one request at the given time and,
// when admitted, records it. Check order: prune the window, then the
// lifetime cap, then the window cap.
func (t *Tracker) CheckAndConsume(ctx context.Context, subjectID string, now time.Time) (Decision, error) {
	if subjectID == "" {
		return Decision{}, shared.ErrSubjectEmpty
	}

	state, err := t.store.Load(ctx, subjectID)
	if err != nil {
		return Decision{}, shared.WrapError("quota", "CheckAndConsume", shared.ErrExternalService, "load quota state", err)
	}
	if state == nil {
		state = NewState(subjectID)
	}

	state.Prune(now, t.cfg.WindowSize)

	if state.TotalUsage >= t.cfg.LifetimeCap {
		return Decision{
			Allowed:           false,
			Reason:            ReasonLifetimeExhausted,
			RemainingWindow:   t.remainingWindow(state),
			WindowCap:         t.cfg.WindowCap,
			RemainingLifetime: 0,
		}, nil
	}

	if len(state.WindowRequests) >= t.cfg.WindowCap {
		return Decision{
			Allowed:           false,
			Reason:            ReasonRateLimited,
			RemainingWindow:   0,
			WindowCap:         t.cfg.WindowCap,
			RemainingLifetime: t.remainingLifetime(state),
		}, nil
	}

	state.Admit(now)

	if err := t.store.Save(ctx, state); err != nil {
		return Decision{}, shared.WrapError("quota", "CheckAndConsume", shared.ErrExternalService, "save quota state", err)
	}

	return Decision{
		Allowed:           true,
		RemainingWindow:   t.remainingWindow(state),
		WindowCap:         t.cfg.WindowCap,
		RemainingLifetime: t.remainingLifetime(state),
	}, nil
}

func (t *Tracker) remainingWindow(state *State) int {
	remaining := t.cfg.WindowCap - len(state.WindowRequests)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Tracker) remainingLifetime(state *State) int {
	remaining := t.cfg.LifetimeCap - state.TotalUsage
	if remaining < 0 {
		return 0
	}
	return remaining
}
