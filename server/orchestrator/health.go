package orchestrator

import (
	"sync"
	"time"
)

// unhealthyAfter is the number of consecutive failures after which a
// provider is reported unhealthy.
const unhealthyAfter = 3

// HealthStatus represents the current health state of a provider, derived
// from the traffic it has served.
type HealthStatus struct {
	Healthy          bool          `json:"healthy"`
	LastCheck        time.Time     `json:"last_check"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	Latency          time.Duration `json:"latency"`
	ErrorCount       int64         `json:"error_count"`
	RequestCount     int64         `json:"request_count"`
	LastError        string        `json:"last_error,omitempty"`
}

type healthTracker struct {
	mu     sync.RWMutex
	states map[string]HealthStatus
}

func newHealthTracker(names []string) *healthTracker {
	h := &healthTracker{states: make(map[string]HealthStatus, len(names))}
	for _, name := range names {
		h.states[name] = HealthStatus{Healthy: true}
	}
	return h
}

func (h *healthTracker) success(name string, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.states[name]
	s.Healthy = true
	s.LastCheck = time.Now()
	s.ConsecutiveFails = 0
	s.Latency = latency
	s.RequestCount++
	s.LastError = ""
	h.states[name] = s
}

func (h *healthTracker) failure(name string, latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.states[name]
	s.LastCheck = time.Now()
	s.ConsecutiveFails++
	s.Healthy = s.ConsecutiveFails < unhealthyAfter
	s.Latency = latency
	s.RequestCount++
	s.ErrorCount++
	s.LastError = err.Error()
	h.states[name] = s
}

// Health returns a snapshot of every provider's status keyed by name.
func (o *Orchestrator) Health() map[string]HealthStatus {
	o.health.mu.RLock()
	defer o.health.mu.RUnlock()
	out := make(map[string]HealthStatus, len(o.health.states))
	for name, s := range o.health.states {
		out[name] = s
	}
	return out
}

// Healthy reports whether at least one provider is healthy.
func (o *Orchestrator) Healthy() bool {
	for _, s := range o.Health() {
		if s.Healthy {
			return true
		}
	}
	return false
}
