// Package health exposes liveness and readiness probes for the environment
// server over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Probe results reported per component and overall.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds one /ready request.
const readinessTimeout = 5 * time.Second

// HealthCheck is one component the readiness probe asks about.
type HealthCheck interface {
	Name() string
	// Check returns nil while the component can serve sessions.
	Check(ctx context.Context) error
}

// HealthStatus is the body of a /ready response.
type HealthStatus struct {
	Status string                     `json:"status"`
	Time   time.Time                  `json:"time"`
	Checks map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth is the result of a single check.
type ComponentHealth struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latencyNs"`
}

// HealthChecker runs the registered checks, keyed by name.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		started: time.Now(),
	}
}

// AddCheck registers check, replacing any check with the same name.
func (hc *HealthChecker) AddCheck(check HealthCheck) {
	hc.mu.Lock()
	hc.checks[check.Name()] = check
	hc.mu.Unlock()
}

func (hc *HealthChecker) RemoveCheck(name string) {
	hc.mu.Lock()
	delete(hc.checks, name)
	hc.mu.Unlock()
}

// Names lists the registered checks in sorted order.
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return slices.Sorted(maps.Keys(hc.checks))
}

// CheckHealth runs every check concurrently under ctx. The result is healthy
// only when no check failed.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	checks := maps.Clone(hc.checks)
	hc.mu.RUnlock()

	result := HealthStatus{
		Status: StatusHealthy,
		Time:   time.Now().UTC(),
		Checks: make(map[string]ComponentHealth, len(checks)),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			ch := ComponentHealth{Status: StatusHealthy, Latency: time.Since(start)}
			if err != nil {
				ch.Status = StatusUnhealthy
				ch.Message = err.Error()
			}

			mu.Lock()
			result.Checks[name] = ch
			if err != nil {
				result.Status = StatusUnhealthy
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// LivenessHandler answers 200 as long as the process can serve HTTP.
func (hc *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(hc.started).Round(time.Second).String(),
	})
}

// ReadinessHandler runs all checks and answers 503 if any fails.
func (hc *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := hc.CheckHealth(ctx)
	code := http.StatusOK
	if status.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Handler serves LivenessHandler on /health and ReadinessHandler on /ready.
func (hc *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", hc.LivenessHandler)
	mux.HandleFunc("GET /ready", hc.ReadinessHandler)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ServerHealthCheck fails while the environment server is not accepting
// connections.
type ServerHealthCheck struct {
	running func() bool
}

func NewServerHealthCheck(running func() bool) *ServerHealthCheck {
	return &ServerHealthCheck{running: running}
}

func (*ServerHealthCheck) Name() string { return "env_server" }

func (s *ServerHealthCheck) Check(context.Context) error {
	if s.running() {
		return nil
	}
	return fmt.Errorf("environment server is not running")
}

// CapacityHealthCheck fails when every session slot is taken, so a load
// balancer stops routing new trainers to this instance.
type CapacityHealthCheck struct {
	limit    int
	sessions func() int
}

func NewCapacityHealthCheck(maxSessions int, sessions func() int) *CapacityHealthCheck {
	return &CapacityHealthCheck{limit: maxSessions, sessions: sessions}
}

func (*CapacityHealthCheck) Name() string { return "session_capacity" }

func (c *CapacityHealthCheck) Check(context.Context) error {
	if n := c.sessions(); n >= c.limit {
		return fmt.Errorf("all %d session slots in use", n)
	}
	return nil
}

// NetworkHealthCheck fails while addr reports no bound listener.
type NetworkHealthCheck struct {
	addr func() string
}

func NewNetworkHealthCheck(addr func() string) *NetworkHealthCheck {
	return &NetworkHealthCheck{addr: addr}
}

func (*NetworkHealthCheck) Name() string { return "network" }

func (n *NetworkHealthCheck) Check(context.Context) error {
	if n.addr() == "" {
		return fmt.Errorf("no listener bound")
	}
	return nil
}

// MemoryHealthCheck compares usage (in MB) against a fixed ceiling. Usage
// equal to the ceiling still passes.
type MemoryHealthCheck struct {
	ceilingMB int64
	usage     func() int64
}

func NewMemoryHealthCheck(maxMemoryMB int64, usage func() int64) *MemoryHealthCheck {
	return &MemoryHealthCheck{ceilingMB: maxMemoryMB, usage: usage}
}

func (*MemoryHealthCheck) Name() string { return "memory" }

func (m *MemoryHealthCheck) Check(context.Context) error {
	if used := m.usage(); used > m.ceilingMB {
		return fmt.Errorf("heap at %dMB, ceiling %dMB", used, m.ceilingMB)
	}
	return nil
}
