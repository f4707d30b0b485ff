package protocol

import "fmt"

// Heartbeat status bits.
const (
	StatusPumpOn      = 1 << 0
	StatusWellWaterOK = 1 << 1
)

// Alarm bits carried by an Alarm frame.
const (
	AlarmLowWater = 1 << 0
	AlarmOverflow = 1 << 1
	AlarmShortage = 1 << 2
)

// Heartbeat is the decoded payload of a Heartbeat frame.
type Heartbeat struct {
	Level       uint8
	PumpOn      bool
	WellWaterOK bool
}

// ParseHeartbeat extracts the heartbeat fields from a frame.
func ParseHeartbeat(f Frame) (Heartbeat, error) {
	if f.Command != CommandHeartbeat {
		return Heartbeat{}, fmt.Errorf("%w: expected heartbeat, got %s", ErrInvalidPayload, f.Command)
	}
	if len(f.Payload) < 2 {
		return Heartbeat{}, fmt.Errorf("%w: heartbeat needs 2 bytes, got %d", ErrInvalidPayload, len(f.Payload))
	}
	level := f.Payload[0]
	if level > 100 {
		return Heartbeat{}, fmt.Errorf("%w: water level %d out of range", ErrInvalidPayload, level)
	}
	status := f.Payload[1]
	return Heartbeat{
		Level:       level,
		PumpOn:      status&StatusPumpOn != 0,
		WellWaterOK: status&StatusWellWaterOK != 0,
	}, nil
}

// NewHeartbeat builds the frame a node sends to report its state.
func NewHeartbeat(nodeID uint8, hb Heartbeat) Frame {
	var status byte
	if hb.PumpOn {
		status |= StatusPumpOn
	}
	if hb.WellWaterOK {
		status |= StatusWellWaterOK
	}
	return Frame{
		SourceID: nodeID,
		DestID:   ControllerID,
		Command:  CommandHeartbeat,
		Payload:  []byte{hb.Level, status},
	}
}

// ParseAlarm returns the alarm bit set of an Alarm frame. An empty payload means no bits.
func ParseAlarm(f Frame) (uint8, error) {
	if f.Command != CommandAlarm {
		return 0, fmt.Errorf("%w: expected alarm, got %s", ErrInvalidPayload, f.Command)
	}
	if len(f.Payload) == 0 {
		return 0, nil
	}
	return f.Payload[0], nil
}

// NewAlarm builds an Alarm frame from a node.
func NewAlarm(nodeID uint8, bits uint8) Frame {
	return Frame{
		SourceID: nodeID,
		DestID:   ControllerID,
		Command:  CommandAlarm,
		Payload:  []byte{bits},
	}
}

// NewPumpControl builds a PumpControl frame addressed to a node.
func NewPumpControl(nodeID uint8, on bool) Frame {
	flag := byte(0)
	if on {
		flag = 1
	}
	return Frame{
		SourceID: ControllerID,
		DestID:   nodeID,
		Command:  CommandPumpControl,
		Payload:  []byte{flag},
	}
}

// ParsePumpControl returns the requested relay state.
func ParsePumpControl(f Frame) (bool, error) {
	if f.Command != CommandPumpControl || len(f.Payload) < 1 {
		return false, fmt.Errorf("%w: bad pump control frame", ErrInvalidPayload)
	}
	return f.Payload[0] != 0, nil
}

// NewQuery asks a node to report its state immediately.
func NewQuery(nodeID uint8) Frame {
	return Frame{SourceID: ControllerID, DestID: nodeID, Command: CommandQuery}
}

// NewModeCommand switches a node's local control mode.
func NewModeCommand(nodeID uint8, auto bool) Frame {
	cmd := CommandSetManual
	if auto {
		cmd = CommandSetAuto
	}
	return Frame{SourceID: ControllerID, DestID: nodeID, Command: cmd}
}
