package registry

import (
	"fmt"
	"time"

	"github.com/narvanalabs/tower-controller/internal/clock"
	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/protocol"
)

// Node is the live state of one registered tower. Handles stay valid for the
// lifetime of the registry since nodes are never removed.
type Node struct {
	id             uint8
	name           string
	level          uint8
	pumpOn         bool
	online         bool
	wellWaterOK    bool
	reportedAlarms uint8
	lastUpdate     clock.Tick
	lastSeen       time.Time
	ring           *history.Ring
}

func newNode(id uint8, slot, historyCapacity int) *Node {
	return &Node{
		id:   id,
		name: fmt.Sprintf("Tower %d", slot+1),
		ring: history.NewRing(historyCapacity),
	}
}

// ID returns the node address.
func (n *Node) ID() uint8 { return n.id }

// Name returns the display name assigned at registration.
func (n *Node) Name() string { return n.name }

// Level returns the last reported water level percentage.
func (n *Node) Level() uint8 { return n.level }

// PumpOn returns the controller's belief about the pump relay.
func (n *Node) PumpOn() bool { return n.pumpOn }

// Online reports whether the node has sent a heartbeat within the timeout.
func (n *Node) Online() bool { return n.online }

// WellWaterOK returns the well-water bit from the last heartbeat.
func (n *Node) WellWaterOK() bool { return n.wellWaterOK }

// LastUpdate returns the tick of the last accepted heartbeat.
func (n *Node) LastUpdate() clock.Tick { return n.lastUpdate }

// LastSeen returns the wall time of the last accepted heartbeat.
func (n *Node) LastSeen() time.Time { return n.lastSeen }

// HistoryRing returns the node's history buffer.
func (n *Node) HistoryRing() *history.Ring { return n.ring }

// ApplyHeartbeat records a heartbeat and marks the node online.
// It returns true if the node was offline before.
func (n *Node) ApplyHeartbeat(hb protocol.Heartbeat, now clock.Tick, wall time.Time) bool {
	wasOffline := !n.online
	n.level = hb.Level
	n.pumpOn = hb.PumpOn
	n.wellWaterOK = hb.WellWaterOK
	n.online = true
	n.lastUpdate = now
	n.lastSeen = wall
	return wasOffline
}

// MarkOffline clears the online flag. Only the liveness monitor calls this.
func (n *Node) MarkOffline() {
	n.online = false
}

// SetPumpOn updates the pump belief after a command was sent.
func (n *Node) SetPumpOn(on bool) {
	n.pumpOn = on
}

// SetReportedAlarms stores the alarm bits from the node's last Alarm frame.
func (n *Node) SetReportedAlarms(bits uint8) {
	n.reportedAlarms = bits
}

// Alarms combines locally derived flags with those the node reported.
func (n *Node) Alarms(levels AlarmLevels) models.Alarms {
	a := models.Alarms{
		LowWater: n.reportedAlarms&protocol.AlarmLowWater != 0,
		Overflow: n.reportedAlarms&protocol.AlarmOverflow != 0,
		Shortage: n.reportedAlarms&protocol.AlarmShortage != 0,
	}
	if n.lastSeen.IsZero() {
		return a
	}
	if n.level < levels.LowWater {
		a.LowWater = true
	}
	if n.level > levels.Overflow {
		a.Overflow = true
	}
	if !n.wellWaterOK {
		a.Shortage = true
	}
	return a
}

// Sample returns the history sample describing the node at the given time.
func (n *Node) Sample(at time.Time) models.HistorySample {
	return models.HistorySample{
		Timestamp: at,
		Level:     n.level,
		PumpOn:    n.pumpOn,
	}
}

// Snapshot returns a read-only copy of the node.
func (n *Node) Snapshot(levels AlarmLevels) models.Tower {
	return models.Tower{
		ID:          n.id,
		Name:        n.name,
		Level:       n.level,
		PumpOn:      n.pumpOn,
		Online:      n.online,
		Alarms:      n.Alarms(levels),
		WellWaterOK: n.wellWaterOK,
		LastUpdate:  n.lastUpdate,
		LastSeen:    n.lastSeen,
	}
}
