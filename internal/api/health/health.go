// Package health aggregates component checks into the /health response.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is operational but with issues.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Pinger is an interface for components that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ComponentCheck reports the status of one component.
type ComponentCheck func(ctx context.Context) ComponentStatus

// FromPinger turns a Pinger into a check that is unhealthy when the ping fails.
func FromPinger(p Pinger, okMessage string) ComponentCheck {
	return func(ctx context.Context) ComponentStatus {
		if p == nil {
			return ComponentStatus{Status: StatusUnhealthy, Message: "not configured"}
		}
		if err := p.Ping(ctx); err != nil {
			return ComponentStatus{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentStatus{Status: StatusHealthy, Message: okMessage}
	}
}

// Checker runs registered checks.
type Checker struct {
	startTime time.Time
	version   string

	mu      sync.RWMutex
	timeout time.Duration
	checks  map[string]ComponentCheck
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
		checks:    make(map[string]ComponentCheck),
	}
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, p ComponentCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = p
}

// SetTimeout sets the timeout for health checks.
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Check performs all health checks and returns the aggregated response.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	timeout := c.timeout
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]ComponentCheck, len(c.checks))
	for name, p := range c.checks {
		checks[name] = p
	}
	c.mu.RUnlock()
	sort.Strings(names)

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	components := make(map[string]ComponentStatus, len(names))
	overall := StatusHealthy
	for _, name := range names {
		st := checks[name](checkCtx)
		components[name] = st
		switch {
		case st.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case st.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return &Response{
		Status:     overall,
		Components: components,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(response)
	}
}
