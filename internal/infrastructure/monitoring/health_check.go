package monitoring

import (
	"context"
	"sync"
	"time"
)

// Check probes one dependency of the coordination service. A nil return
// means healthy.
type Check func(ctx context.Context) error

// HealthChecker aggregates named dependency checks for the readiness
// endpoint. Checks run sequentially, each under its own timeout.
type HealthChecker struct {
	names   []string
	checks  map[string]Check
	timeout time.Duration
	mu      sync.RWMutex
}

// HealthStatus is the readiness report served to orchestrators.
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]Check),
		timeout: timeout,
	}
}

// AddCheck registers a named check. Re-registering a name replaces it.
func (h *HealthChecker) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// CheckAll runs every registered check and reports per-check results.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.names)),
	}

	for _, name := range h.names {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](checkCtx)
		cancel()

		if err != nil {
			status.Healthy = false
			status.Checks[name] = err.Error()
			continue
		}
		status.Checks[name] = "ok"
	}

	return status
}
