// Package progress contains domain entities and business logic for
// converting accumulated watch time into completion status. This is a pure
// domain layer with zero external dependencies.
package progress

import (
	"time"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status represents lesson completion status.
type Status string

const (
	// StatusNotStarted indicates no watch time has been recorded.
	StatusNotStarted Status = "not-started"

	// StatusInProgress indicates some watch time below the threshold.
	StatusInProgress Status = "in-progress"

	// StatusCompleted indicates the completion threshold has been crossed.
	// Completed is terminal: later samples never revert it.
	StatusCompleted Status = "completed"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// rank orders statuses for monotone tracking.
func (s Status) rank() int {
	switch s {
	case StatusCompleted:
		return 2
	case StatusInProgress:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as far along as other.
func (s Status) AtLeast(other Status) bool {
	return s.rank() >= other.rank()
}

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// DefaultCompletionThreshold is the canonical percentage-watched value above
// which a lesson counts as complete. The same threshold must be applied by
// the server-side collaborator; a mismatch there is a correctness bug.
const DefaultCompletionThreshold shared.Percentage = 90

// Snapshot is the result of one completion computation.
type Snapshot struct {
	// Percentage is watched/total, clamped into [0, 100].
	Percentage shared.Percentage

	// Status is the completion status derived from Percentage alone.
	// Callers tracking a session must combine snapshots through a monotone
	// max (see WatchSession.Advance), not take the latest one.
	Status Status
}

// Calculator converts accumulated watch time into a percentage and status
// against a fixed completion threshold.
type Calculator struct {
	threshold shared.Percentage
}

// NewCalculator creates a Calculator. A non-positive threshold falls back
// to DefaultCompletionThreshold.
func NewCalculator(threshold shared.Percentage) Calculator {
	if threshold <= 0 || threshold > shared.MaxPercentage {
		threshold = DefaultCompletionThreshold
	}
	return Calculator{threshold: threshold}
}

// Threshold returns the completion threshold in effect.
func (c Calculator) Threshold() shared.Percentage {
	return c.threshold
}

// Compute derives the percentage and status for a single sample.
func (c Calculator) Compute(watched, total time.Duration) Snapshot {
	pct := shared.Ratio(watched.Seconds(), total.Seconds())

	status := StatusNotStarted
	switch {
	case pct.AtLeast(c.threshold):
		status = StatusCompleted
	case pct > 0:
		status = StatusInProgress
	}

	return Snapshot{Percentage: pct, Status: status}
}
