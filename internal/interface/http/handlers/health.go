// Package handlers contains health check interfaces and implementations
// used by the signal ingestion server.
package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH STATUS
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker reports service health. The server exposes the result on its
// health and readiness endpoints.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc probes a single dependency and returns nil when it is
// reachable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result of all registered checks.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy     bool      `json:"healthy"`
	Message     string    `json:"message,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	LastChecked time.Time `json:"last_checked,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker runs a set of named dependency probes and reports
// unhealthy when any of them fails. Each probe gets its own timeout so one
// hung dependency cannot stall the whole endpoint indefinitely.
type CompositeHealthChecker struct {
	mu           sync.RWMutex
	checks       map[string]HealthCheckFunc
	startedAt    time.Time
	version      string
	checkTimeout time.Duration
}

// NewCompositeHealthChecker returns a checker with no probes registered.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:       make(map[string]HealthCheckFunc),
		startedAt:    time.Now(),
		version:      version,
		checkTimeout: 5 * time.Second,
	}
}

// AddCheck registers a named probe, replacing any probe with the same name.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs every registered probe and aggregates the results. With no
// probes registered the service reports healthy.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	probes := make(map[string]HealthCheckFunc, len(c.checks))
	for name, probe := range c.checks {
		names = append(names, name)
		probes[name] = probe
	}
	c.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(names)),
		Uptime:    time.Since(c.startedAt).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	if len(names) == 0 {
		status.Message = "no checks registered"
		return status
	}

	var failed []string
	for _, name := range names {
		result := c.runProbe(ctx, probes[name])
		status.Checks[name] = result
		if !result.Healthy {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		status.Healthy = false
		status.Ready = false
		status.Message = "failing: " + strings.Join(failed, ", ")
	} else {
		status.Message = "all checks passed"
	}
	return status
}

func (c *CompositeHealthChecker) runProbe(ctx context.Context, probe HealthCheckFunc) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)

	result := CheckResult{
		Healthy:     err == nil,
		Message:     "OK",
		Duration:    time.Since(start).Round(time.Millisecond).String(),
		LastChecked: time.Now().UTC(),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCY PROBES
// ══════════════════════════════════════════════════════════════════════════════

// DatabaseChecker is the slice of the postgres connection the health endpoint
// needs.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// NewDatabaseCheck probes database connectivity.
func NewDatabaseCheck(db DatabaseChecker) HealthCheckFunc {
	return func(ctx context.Context) error {
		return db.Ping(ctx)
	}
}

// CacheChecker is the slice of the redis cache the health endpoint needs.
type CacheChecker interface {
	Ping(ctx context.Context) error
}

// NewCacheCheck probes cache connectivity.
func NewCacheCheck(cache CacheChecker) HealthCheckFunc {
	return func(ctx context.Context) error {
		return cache.Ping(ctx)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOOP CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// NoopHealthChecker always reports healthy. Used in tests and when the server
// runs without backing services.
type NoopHealthChecker struct {
	startedAt time.Time
}

// NewNoopHealthChecker returns a checker that never fails.
func NewNoopHealthChecker() *NoopHealthChecker {
	return &NoopHealthChecker{startedAt: time.Now()}
}

// Check reports healthy unconditionally.
func (n *NoopHealthChecker) Check(context.Context) HealthStatus {
	return HealthStatus{
		Healthy:   true,
		Ready:     true,
		Message:   "OK",
		Uptime:    time.Since(n.startedAt).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}
