package controller

import (
	"errors"
	"strings"

	"github.com/narvanalabs/tower-controller/internal/clock"
	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/protocol"
	"github.com/narvanalabs/tower-controller/internal/registry"
)

// handleFrame decodes and applies one inbound frame. Bad frames are dropped
// without touching any state.
func (c *Controller) handleFrame(raw []byte, now clock.Tick) {
	f, err := protocol.Decode(raw)
	if err != nil {
		c.dropMalformed(raw, err)
		return
	}
	if !f.Command.Uplink() {
		c.logger.Debug("ignoring downlink frame on uplink", "command", f.Command.String(), "tower_id", f.NodeID())
		return
	}

	switch f.Command {
	case protocol.CommandHeartbeat:
		hb, err := protocol.ParseHeartbeat(f)
		if err != nil {
			c.dropMalformed(raw, err)
			return
		}
		c.countFrame(f)
		c.applyHeartbeat(f.NodeID(), hb, now)
	case protocol.CommandAlarm:
		bits, err := protocol.ParseAlarm(f)
		if err != nil {
			c.dropMalformed(raw, err)
			return
		}
		c.countFrame(f)
		c.applyAlarm(f.NodeID(), bits)
	}
}

func (c *Controller) applyHeartbeat(id uint8, hb protocol.Heartbeat, now clock.Tick) {
	node, err := c.registry.LookupOrRegister(id)
	if err != nil {
		if errors.Is(err, registry.ErrCapacityExceeded) && c.metrics != nil {
			c.metrics.FrameRejected()
		}
		c.logger.Warn("heartbeat rejected", "tower_id", id, "error", err)
		return
	}

	levels := c.registry.AlarmLevels()
	first := node.LastSeen().IsZero()
	before := node.Alarms(levels)

	if wasOffline := node.ApplyHeartbeat(hb, now, c.clock.Wall()); wasOffline {
		if first {
			c.logger.Info("tower registered", "tower_id", id, "name", node.Name(), "slot", c.registry.Len())
			c.publish(models.EventTowerRegistered, id, node.Name()+" registered")
		}
		c.logger.Info("tower status changed", "tower_id", id, "online", true, "level", hb.Level)
		c.publish(models.EventTowerOnline, id, "tower online")
	}

	c.raiseAlarms(id, before, node.Alarms(levels))
}

func (c *Controller) applyAlarm(id uint8, bits uint8) {
	node, ok := c.registry.Get(id)
	if !ok {
		c.logger.Warn("alarm from unregistered tower dropped", "tower_id", id, "bits", bits)
		return
	}
	levels := c.registry.AlarmLevels()
	before := node.Alarms(levels)
	node.SetReportedAlarms(bits)
	c.raiseAlarms(id, before, node.Alarms(levels))
}

// raiseAlarms publishes one event for the flags that went from clear to raised.
func (c *Controller) raiseAlarms(id uint8, before, after models.Alarms) {
	var raised []string
	if after.LowWater && !before.LowWater {
		raised = append(raised, "low water")
	}
	if after.Overflow && !before.Overflow {
		raised = append(raised, "overflow")
	}
	if after.Shortage && !before.Shortage {
		raised = append(raised, "well shortage")
	}
	if len(raised) == 0 {
		return
	}
	msg := strings.Join(raised, ", ") + " alarm"
	c.logger.Warn("tower alarm raised", "tower_id", id, "alarms", msg)
	c.publish(models.EventAlarm, id, msg)
}

func (c *Controller) countFrame(f protocol.Frame) {
	if c.metrics != nil {
		c.metrics.FrameReceived(f.Command.String())
	}
}

func (c *Controller) dropMalformed(raw []byte, err error) {
	if c.metrics != nil {
		c.metrics.FrameMalformed()
	}
	c.logger.Warn("dropping malformed frame", "bytes", len(raw), "error", err)
}
