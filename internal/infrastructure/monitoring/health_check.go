package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	statusPending   = "pending"
)

// HealthChecker runs named probes on demand or on a schedule. Scheduled
// results are kept and served by Last.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	results map[string]checkResult
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type checkResult struct {
	message string
	at      time.Time
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]checkResult),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

func run(ctx context.Context, check HealthCheck) string {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	healthy, err := check.Check(checkCtx)
	switch {
	case err != nil:
		return err.Error()
	case !healthy:
		return "check failed"
	default:
		return StatusHealthy
	}
}

func (h *HealthChecker) record(name, message string) {
	h.mu.Lock()
	h.results[name] = checkResult{message: message, at: time.Now()}
	h.mu.Unlock()
}

func (h *HealthChecker) snapshot() []HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthCheck(nil), h.checks...)
}

// CheckAll runs every probe now.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.snapshot() {
		msg := run(ctx, check)
		h.record(check.Name, msg)
		status.Checks[check.Name] = msg
		if msg != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

// Last reports the most recent result of every probe without running any.
// Probes that have not run yet count as unhealthy.
func (h *HealthChecker) Last() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	for _, check := range h.checks {
		res, ok := h.results[check.Name]
		msg := statusPending
		if ok {
			msg = res.message
		}
		status.Checks[check.Name] = msg
		if msg != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

// StartBackgroundChecks runs each probe on its own interval until ctx ends.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	for _, check := range h.snapshot() {
		go h.runCheckPeriodically(ctx, check)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		h.record(check.Name, run(ctx, check))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
