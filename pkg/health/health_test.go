package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCheck fails with err when err is non-nil, after waiting delay.
type stubCheck struct {
	name  string
	err   error
	delay time.Duration
}

func (s stubCheck) Name() string { return s.name }

func (s stubCheck) Check(ctx context.Context) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

var errThrusters = errors.New("thruster bank offline")

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthChecker_Registry(t *testing.T) {
	hc := NewHealthChecker()
	hc.AddCheck(stubCheck{name: "physics"})
	hc.AddCheck(stubCheck{name: "env_pool"})
	hc.AddCheck(stubCheck{name: "physics", err: errThrusters})

	assert.Equal(t, []string{"env_pool", "physics"}, hc.Names())
	assert.Equal(t, StatusUnhealthy, hc.CheckHealth(context.Background()).Checks["physics"].Status,
		"a second AddCheck with the same name replaces the first")

	hc.RemoveCheck("physics")
	hc.RemoveCheck("never_added")
	assert.Equal(t, []string{"env_pool"}, hc.Names())
}

func TestHealthChecker_CheckHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks []stubCheck
		want   string
	}{
		{"nothing registered", nil, StatusHealthy},
		{"all pass", []stubCheck{{name: "env_server"}, {name: "network"}}, StatusHealthy},
		{"one fails", []stubCheck{{name: "env_server"}, {name: "thrusters", err: errThrusters}}, StatusUnhealthy},
		{"all fail", []stubCheck{{name: "a", err: errThrusters}, {name: "b", err: errThrusters}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for _, c := range tt.checks {
				hc.AddCheck(c)
			}

			got := hc.CheckHealth(context.Background())
			assert.Equal(t, tt.want, got.Status)
			assert.False(t, got.Time.IsZero())
			require.Len(t, got.Checks, len(tt.checks))
			for _, c := range tt.checks {
				res := got.Checks[c.name]
				if c.err != nil {
					assert.Equal(t, StatusUnhealthy, res.Status, c.name)
					assert.Equal(t, c.err.Error(), res.Message)
				} else {
					assert.Equal(t, StatusHealthy, res.Status, c.name)
					assert.Empty(t, res.Message)
				}
			}
		})
	}
}

func TestHealthChecker_ChecksRunConcurrently(t *testing.T) {
	hc := NewHealthChecker()
	for _, name := range []string{"a", "b", "c", "d"} {
		hc.AddCheck(stubCheck{name: name, delay: 50 * time.Millisecond})
	}

	start := time.Now()
	got := hc.CheckHealth(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, StatusHealthy, got.Status)
	assert.Less(t, elapsed, 180*time.Millisecond)
	for name, res := range got.Checks {
		assert.GreaterOrEqual(t, res.Latency, 50*time.Millisecond, name)
	}
}

func TestHealthChecker_ContextDeadline(t *testing.T) {
	hc := NewHealthChecker()
	hc.AddCheck(stubCheck{name: "slow", delay: time.Second})
	hc.AddCheck(stubCheck{name: "fast"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	got := hc.CheckHealth(ctx)

	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Equal(t, StatusUnhealthy, got.Checks["slow"].Status)
	assert.Contains(t, got.Checks["slow"].Message, "deadline")
	assert.Equal(t, StatusHealthy, got.Checks["fast"].Status)
}

func TestHealthChecker_Handler(t *testing.T) {
	hc := NewHealthChecker()
	hc.AddCheck(stubCheck{name: "thrusters", err: errThrusters})
	h := hc.Handler()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/ready", http.StatusServiceUnavailable},
		{"POST", "/ready", http.StatusMethodNotAllowed},
		{"GET", "/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, get(t, h, tt.method, tt.path).Code)
		})
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	hc := NewHealthChecker()
	hc.AddCheck(stubCheck{name: "thrusters", err: errThrusters})

	w := get(t, hc.Handler(), "GET", "/health")
	require.Equal(t, http.StatusOK, w.Code, "liveness ignores readiness checks")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestHealthChecker_Readiness(t *testing.T) {
	tests := []struct {
		name   string
		checks []stubCheck
		code   int
		status string
	}{
		{"no checks", nil, http.StatusOK, StatusHealthy},
		{"ready", []stubCheck{{name: "env_server"}}, http.StatusOK, StatusHealthy},
		{"degraded", []stubCheck{{name: "env_server"}, {name: "thrusters", err: errThrusters}},
			http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for _, c := range tt.checks {
				hc.AddCheck(c)
			}

			w := get(t, hc.Handler(), "GET", "/ready")
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestBuiltinChecks(t *testing.T) {
	tests := []struct {
		name    string
		check   HealthCheck
		id      string
		wantErr string
	}{
		{"server up", NewServerHealthCheck(func() bool { return true }), "env_server", ""},
		{"server down", NewServerHealthCheck(func() bool { return false }), "env_server", "not running"},
		{"capacity idle", NewCapacityHealthCheck(4, func() int { return 0 }), "session_capacity", ""},
		{"capacity last slot", NewCapacityHealthCheck(4, func() int { return 3 }), "session_capacity", ""},
		{"capacity full", NewCapacityHealthCheck(4, func() int { return 4 }), "session_capacity", "all 4 session slots"},
		{"listener bound", NewNetworkHealthCheck(func() string { return "127.0.0.1:7400" }), "network", ""},
		{"no listener", NewNetworkHealthCheck(func() string { return "" }), "network", "no listener"},
		{"heap below ceiling", NewMemoryHealthCheck(512, func() int64 { return 128 }), "memory", ""},
		{"heap at ceiling", NewMemoryHealthCheck(512, func() int64 { return 512 }), "memory", ""},
		{"heap over ceiling", NewMemoryHealthCheck(512, func() int64 { return 700 }), "memory", "heap at 700MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.id, tt.check.Name())
			err := tt.check.Check(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func BenchmarkHealthChecker_CheckHealth(b *testing.B) {
	hc := NewHealthChecker()
	for _, name := range []string{"env_server", "network", "session_capacity", "memory"} {
		hc.AddCheck(stubCheck{name: name})
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hc.CheckHealth(ctx)
	}
}
