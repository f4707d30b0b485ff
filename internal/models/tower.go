// Package models provides data models for the tower controller.
package models

import (
	"fmt"
	"time"

	"github.com/narvanalabs/tower-controller/internal/clock"
)

// Mode is the global pump control mode.
type Mode int

const (
	// ModeAuto lets the auto-control engine drive the pumps.
	ModeAuto Mode = 0
	// ModeManual leaves pump state to explicit operator commands.
	ModeManual Mode = 1
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// IsValid returns true if the mode is Auto or Manual.
func (m Mode) IsValid() bool {
	return m == ModeAuto || m == ModeManual
}

// Alarms is the set of alarm flags raised for a tower.
type Alarms struct {
	LowWater bool `json:"low_water"`
	Overflow bool `json:"overflow"`
	Shortage bool `json:"shortage"`
}

// Any returns true if at least one flag is raised.
func (a Alarms) Any() bool {
	return a.LowWater || a.Overflow || a.Shortage
}

// Count returns the number of raised flags.
func (a Alarms) Count() int {
	n := 0
	for _, v := range []bool{a.LowWater, a.Overflow, a.Shortage} {
		if v {
			n++
		}
	}
	return n
}

// Tower is a read-only snapshot of a registered tower node.
type Tower struct {
	ID          uint8      `json:"id"`
	Name        string     `json:"name"`
	Level       uint8      `json:"level"`
	PumpOn      bool       `json:"pump"`
	Online      bool       `json:"online"`
	Alarms      Alarms     `json:"alarms"`
	WellWaterOK bool       `json:"well_water_ok"`
	LastUpdate  clock.Tick `json:"-"`
	LastSeen    time.Time  `json:"last_seen"`
}

// HistorySample is one periodic snapshot of a tower.
// A zero Timestamp marks a slot that was never written.
type HistorySample struct {
	Timestamp time.Time `json:"timestamp"`
	Level     uint8     `json:"water_level"`
	PumpOn    bool      `json:"pump_on"`
}

// IsZero reports whether the sample slot is unwritten.
func (s HistorySample) IsZero() bool {
	return s.Timestamp.IsZero()
}

// SystemState is the controller-wide state owned by the control loop.
type SystemState struct {
	Mode            Mode
	WellWaterOK     bool
	LastAutoTick    clock.Tick
	LastHistoryTick clock.Tick
	LinkUp          bool
	Degraded        bool
}

// SystemStatus is the status snapshot served to clients.
type SystemStatus struct {
	Mode         Mode      `json:"mode"`
	LinkUp       bool      `json:"link_up"`
	WellWaterOK  bool      `json:"well_water_ok"`
	Degraded     bool      `json:"degraded"`
	Towers       []Tower   `json:"towers"`
	TotalTowers  int       `json:"total_towers"`
	OnlineTowers int       `json:"online_towers"`
	AlarmCount   int       `json:"alarm_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// NewSystemStatus builds a status snapshot and fills in the derived counters.
func NewSystemStatus(state SystemState, towers []Tower, now time.Time) SystemStatus {
	st := SystemStatus{
		Mode:        state.Mode,
		LinkUp:      state.LinkUp,
		WellWaterOK: state.WellWaterOK,
		Degraded:    state.Degraded,
		Towers:      towers,
		TotalTowers: len(towers),
		GeneratedAt: now,
	}
	if st.Towers == nil {
		st.Towers = []Tower{}
	}
	for _, t := range towers {
		if t.Online {
			st.OnlineTowers++
		}
		st.AlarmCount += t.Alarms.Count()
	}
	return st
}
