// Package jobs contains the engine's scheduled maintenance jobs.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/application/monitor"
)

// DefaultIdleCutoff is how long a viewer may be inactive before their
// monitor is reaped. It sits well above the inactivity threshold so the
// inactivity event always fires and flushes first.
const DefaultIdleCutoff = 45 * time.Minute

// ReapIdleMonitorsJob closes lesson monitors whose viewer has gone away
// without closing the stream. Each reaped monitor performs its final
// best-effort flush, so no buffered events are lost.
type ReapIdleMonitorsJob struct {
	manager    *monitor.Manager
	idleCutoff time.Duration
	logger     *zap.Logger
}

// NewReapIdleMonitorsJob creates the job. A non-positive idleCutoff
// falls back to DefaultIdleCutoff.
func NewReapIdleMonitorsJob(manager *monitor.Manager, idleCutoff time.Duration, logger *zap.Logger) *ReapIdleMonitorsJob {
	if idleCutoff <= 0 {
		idleCutoff = DefaultIdleCutoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReapIdleMonitorsJob{
		manager:    manager,
		idleCutoff: idleCutoff,
		logger:     logger,
	}
}

// Name returns the unique job name.
func (j *ReapIdleMonitorsJob) Name() string {
	return "reap_idle_monitors"
}

// Description returns a human-readable description.
func (j *ReapIdleMonitorsJob) Description() string {
	return "Closes lesson monitors abandoned by their viewer"
}

// Run reaps idle monitors once.
func (j *ReapIdleMonitorsJob) Run(ctx context.Context) error {
	closed := j.manager.CloseIdle(ctx, j.idleCutoff)
	if closed > 0 {
		j.logger.Info("reaped idle monitors", zap.Int("closed", closed))
	}
	return nil
}
