// Package liveness marks towers offline when their heartbeats stop.
package liveness

import (
	"iter"
	"log/slog"
	"time"

	"github.com/narvanalabs/tower-controller/internal/clock"
)

// DefaultTimeout is how long a tower may stay silent before it is considered offline.
const DefaultTimeout = 30 * time.Second

// Tracked is the view of a node the monitor needs.
type Tracked interface {
	ID() uint8
	Online() bool
	LastUpdate() clock.Tick
	MarkOffline()
}

// Monitor sweeps nodes and clears the online flag of silent ones.
type Monitor struct {
	timeout clock.Tick
	logger  *slog.Logger
}

// NewMonitor creates a monitor with the given silence timeout.
func NewMonitor(timeout time.Duration, logger *slog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewMonitorTicks(clock.FromDuration(timeout), logger)
}

// NewMonitorTicks creates a monitor with a timeout expressed in ticks.
func NewMonitorTicks(timeout clock.Tick, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{timeout: timeout, logger: logger}
}

// Timeout returns the silence timeout in ticks.
func (m *Monitor) Timeout() clock.Tick {
	return m.timeout
}

// Expired reports whether a heartbeat at last is too old at now.
func (m *Monitor) Expired(now, last clock.Tick) bool {
	return clock.Since(now, last) > m.timeout
}

// Sweep marks every online node whose last heartbeat is older than the timeout
// as offline and returns the ids that changed.
func Sweep[T Tracked](m *Monitor, nodes iter.Seq[T], now clock.Tick) []uint8 {
	var offline []uint8
	for n := range nodes {
		if !n.Online() || !m.Expired(now, n.LastUpdate()) {
			continue
		}
		n.MarkOffline()
		offline = append(offline, n.ID())
		m.logger.Info("tower status changed",
			"tower_id", n.ID(),
			"old_status", "online",
			"new_status", "offline",
			"silent_for", clock.Since(now, n.LastUpdate()).Duration(),
		)
	}
	return offline
}
