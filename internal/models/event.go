package models

import "time"

// EventType classifies controller events.
type EventType string

const (
	EventTowerRegistered EventType = "tower_registered"
	EventTowerOnline     EventType = "tower_online"
	EventTowerOffline    EventType = "tower_offline"
	EventPumpChanged     EventType = "pump_changed"
	EventModeChanged     EventType = "mode_changed"
	EventWellWater       EventType = "well_water"
	EventAlarm           EventType = "alarm"
	EventHistorySnapshot EventType = "history_snapshot"
	EventDegraded        EventType = "degraded"
)

// Event is a notable state change published by the control loop.
type Event struct {
	Type      EventType `json:"type"`
	TowerID   uint8     `json:"tower_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Critical reports whether the event should reach an operator out of band.
func (e Event) Critical() bool {
	switch e.Type {
	case EventTowerOffline, EventAlarm, EventWellWater, EventDegraded:
		return true
	}
	return false
}
