// Package clock provides the monotonic tick counter used by the controller loop.
package clock

import (
	"sync"
	"time"
)

// Tick is a wrapping millisecond counter. It overflows after roughly 49.7 days,
// so elapsed time must always be computed with Since.
type Tick uint32

// Since returns the ticks elapsed from then to now. Unsigned subtraction keeps
// the result correct across a single counter wrap.
func Since(now, then Tick) Tick {
	return now - then
}

// FromDuration converts a duration to ticks.
func FromDuration(d time.Duration) Tick {
	return Tick(d / time.Millisecond)
}

// Duration converts ticks back to a duration.
func (t Tick) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}

// Clock supplies both the monotonic tick and wall time.
type Clock interface {
	Now() Tick
	Wall() time.Time
}

// System is a Clock backed by the process monotonic clock.
type System struct {
	start time.Time
}

// NewSystem creates a System clock starting at tick zero.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Now returns the current tick.
func (s *System) Now() Tick {
	return Tick(uint64(time.Since(s.start) / time.Millisecond))
}

// Wall returns the current wall time.
func (s *System) Wall() time.Time {
	return time.Now()
}

// Manual is a Clock that only moves when told to. Used in tests and simulations.
type Manual struct {
	mu   sync.Mutex
	tick Tick
	wall time.Time
}

// NewManual creates a Manual clock at the given tick and wall time.
func NewManual(tick Tick, wall time.Time) *Manual {
	return &Manual{tick: tick, wall: wall}
}

// Now returns the current tick.
func (m *Manual) Now() Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Wall returns the current wall time.
func (m *Manual) Wall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wall
}

// Advance moves both the tick and the wall time forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick += FromDuration(d)
	m.wall = m.wall.Add(d)
}

// Set positions the tick counter without touching wall time.
func (m *Manual) Set(tick Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = tick
}
