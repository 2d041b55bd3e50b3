package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

func TestCalculator_Compute(t *testing.T) {
	calc := NewCalculator(DefaultCompletionThreshold)

	tests := []struct {
		name       string
		watched    time.Duration
		total      time.Duration
		wantPct    shared.Percentage
		wantStatus Status
	}{
		{
			name:       "nothing watched",
			watched:    0,
			total:      600 * time.Second,
			wantPct:    0,
			wantStatus: StatusNotStarted,
		},
		{
			name:       "below threshold",
			watched:    500 * time.Second,
			total:      600 * time.Second,
			wantPct:    shared.Ratio(500, 600),
			wantStatus: StatusInProgress,
		},
		{
			name:       "just over threshold",
			watched:    550 * time.Second,
			total:      600 * time.Second,
			wantPct:    shared.Ratio(550, 600),
			wantStatus: StatusCompleted,
		},
		{
			name:       "exactly at threshold",
			watched:    540 * time.Second,
			total:      600 * time.Second,
			wantPct:    90,
			wantStatus: StatusCompleted,
		},
		{
			name:       "fully watched",
			watched:    600 * time.Second,
			total:      600 * time.Second,
			wantPct:    100,
			wantStatus: StatusCompleted,
		},
		{
			name:       "overshoot clamps to 100",
			watched:    700 * time.Second,
			total:      600 * time.Second,
			wantPct:    100,
			wantStatus: StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := calc.Compute(tt.watched, tt.total)
			assert.InDelta(t, tt.wantPct.Float64(), snap.Percentage.Float64(), 0.001)
			assert.Equal(t, tt.wantStatus, snap.Status)
		})
	}
}

func TestNewCalculator_ThresholdFallback(t *testing.T) {
	assert.Equal(t, DefaultCompletionThreshold, NewCalculator(0).Threshold())
	assert.Equal(t, DefaultCompletionThreshold, NewCalculator(-5).Threshold())
	assert.Equal(t, DefaultCompletionThreshold, NewCalculator(150).Threshold())
	assert.Equal(t, shared.Percentage(80), NewCalculator(80).Threshold())
}

func TestStatus_AtLeast(t *testing.T) {
	assert.True(t, StatusCompleted.AtLeast(StatusInProgress))
	assert.True(t, StatusCompleted.AtLeast(StatusCompleted))
	assert.True(t, StatusInProgress.AtLeast(StatusNotStarted))
	assert.False(t, StatusInProgress.AtLeast(StatusCompleted))
	assert.False(t, StatusNotStarted.AtLeast(StatusInProgress))
}
