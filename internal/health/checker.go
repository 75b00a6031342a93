// Package health provides health check functionality for liveness and
// readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker verifies a dependency is ready to serve work.
// Implemented by the image store.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// AvailabilityReporter reports whether an optional dependency is usable.
// Implemented by the telemetry sampler; its loss degrades but never fails
// readiness.
type AvailabilityReporter interface {
	Available() bool
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker performs health checks on dependencies.
type Checker struct {
	store     ReadinessChecker
	telemetry AvailabilityReporter
	timeout   time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker. telemetry may be nil.
func NewChecker(store ReadinessChecker, telemetry AvailabilityReporter) *Checker {
	return &Checker{
		store:     store,
		telemetry: telemetry,
		timeout:   5 * time.Second,
	}
}

// Liveness returns healthy while the process is alive. No dependency is
// consulted; failing this probe should restart the process.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks whether the service can accept work: the image store
// must be reachable; a lost telemetry backend only degrades the result.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	checks := make(map[string]CheckResult)
	overallStatus := StatusHealthy

	storeCheck := c.checkStore(ctx)
	checks["imagestore"] = storeCheck
	if storeCheck.Status != StatusHealthy {
		overallStatus = StatusUnhealthy
	}

	if c.telemetry != nil && !c.telemetry.Available() {
		checks["telemetry"] = CheckResult{
			Status:  StatusDegraded,
			Message: "telemetry backend unavailable, cpu_stats stream stopped",
		}
		if overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	response := &Response{
		Status: overallStatus,
		Checks: checks,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) checkStore(ctx context.Context) CheckResult {
	if c.store == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "image store not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
	}
}

// IsReady reports whether the service should receive traffic. Degraded
// still counts as ready.
func (r *Response) IsReady() bool {
	return r.Status != StatusUnhealthy
}

// SetShuttingDown marks the service as shutting down, so readiness checks
// fail and load balancers drain traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
