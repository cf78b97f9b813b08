package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker aggregates liveness probes for the relay's dependencies
// (redis, tracing exporter). Served under /health.
type HealthChecker struct {
	checks []healthCheck
	mu     sync.RWMutex
}

type healthCheck struct {
	name    string
	check   func(ctx context.Context) error
	timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, check: check, timeout: timeout})
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, c := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[c.name] = err.Error()
		} else {
			status.Checks[c.name] = "healthy"
		}
	}
	return status
}

func (h *HealthChecker) Healthy(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
