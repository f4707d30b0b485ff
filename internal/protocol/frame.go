// Package protocol implements the radio frame codec shared by the controller and tower nodes.
//
// Wire layout, version 1:
//
//	[addr][command][payload_len][payload...]
//
// addr names the tower node taking part in the exchange. Uplink commands
// (Heartbeat, Alarm) carry the sending node; downlink commands (Query,
// PumpControl, SetAuto, SetManual) carry the destination node. The other
// endpoint is always the controller at ControllerID.
package protocol

import (
	"bytes"
	"fmt"
)

const (
	// WireVersion identifies the frame layout implemented by this package.
	WireVersion = 1

	// HeaderSize is the fixed number of bytes preceding the payload.
	HeaderSize = 3

	// MaxFrameSize is the largest frame the radio can carry.
	MaxFrameSize = 32

	// MaxPayloadSize is the largest payload that fits in a frame.
	MaxPayloadSize = MaxFrameSize - HeaderSize

	// ControllerID is the address of the controller.
	ControllerID uint8 = 0x00

	// MaxNodeID is the highest usable tower address. 0xFF is reserved.
	MaxNodeID uint8 = 0xFE
)

// Command identifies the frame type.
type Command uint8

// Command codes.
const (
	CommandHeartbeat   Command = 0x01
	CommandQuery       Command = 0x02
	CommandPumpControl Command = 0x10
	CommandSetAuto     Command = 0x20
	CommandSetManual   Command = 0x21
	CommandAlarm       Command = 0xFF
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CommandHeartbeat:
		return "heartbeat"
	case CommandQuery:
		return "query"
	case CommandPumpControl:
		return "pump_control"
	case CommandSetAuto:
		return "set_auto"
	case CommandSetManual:
		return "set_manual"
	case CommandAlarm:
		return "alarm"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(c))
	}
}

// Known reports whether c belongs to the command set.
func (c Command) Known() bool {
	switch c {
	case CommandHeartbeat, CommandQuery, CommandPumpControl,
		CommandSetAuto, CommandSetManual, CommandAlarm:
		return true
	}
	return false
}

// Uplink reports whether the command travels from a node to the controller.
func (c Command) Uplink() bool {
	return c == CommandHeartbeat || c == CommandAlarm
}

// Frame is a decoded radio frame.
type Frame struct {
	SourceID uint8
	DestID   uint8
	Command  Command
	Payload  []byte
}

// NodeID returns the tower address carried on the wire.
func (f Frame) NodeID() uint8 {
	if f.Command.Uplink() {
		return f.SourceID
	}
	return f.DestID
}

// Validate checks that the frame can be encoded.
func (f Frame) Validate() error {
	if !f.Command.Known() {
		return ErrUnknownCommand
	}
	if len(f.Payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(f.Payload), MaxPayloadSize)
	}

	var node, controller uint8
	if f.Command.Uplink() {
		node, controller = f.SourceID, f.DestID
	} else {
		node, controller = f.DestID, f.SourceID
	}
	if controller != ControllerID || node == ControllerID || node > MaxNodeID {
		return fmt.Errorf("%w: %s from %d to %d", ErrInvalidAddress, f.Command, f.SourceID, f.DestID)
	}
	return nil
}

// Equal reports whether two frames are identical. A nil and an empty payload compare equal.
func (f Frame) Equal(other Frame) bool {
	return f.SourceID == other.SourceID &&
		f.DestID == other.DestID &&
		f.Command == other.Command &&
		bytes.Equal(f.Payload, other.Payload)
}

// Encode serializes a frame into its wire form.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.NodeID()
	buf[1] = byte(f.Command)
	buf[2] = byte(len(f.Payload))
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// Decode parses a wire frame. Bytes beyond the declared payload are ignored.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedFrame, len(data), HeaderSize)
	}

	addr := data[0]
	cmd := Command(data[1])
	n := int(data[2])

	if !cmd.Known() {
		return Frame{}, fmt.Errorf("%w 0x%02x", ErrUnknownCommand, data[1])
	}
	if n > len(data)-HeaderSize {
		return Frame{}, fmt.Errorf("%w: declared payload %d bytes, have %d", ErrMalformedFrame, n, len(data)-HeaderSize)
	}
	if n > MaxPayloadSize {
		return Frame{}, fmt.Errorf("%w: declared payload %d bytes exceeds %d", ErrMalformedFrame, n, MaxPayloadSize)
	}
	if addr == ControllerID || addr > MaxNodeID {
		return Frame{}, fmt.Errorf("%w: %v node address %d", ErrMalformedFrame, ErrInvalidAddress, addr)
	}

	f := Frame{Command: cmd}
	if cmd.Uplink() {
		f.SourceID, f.DestID = addr, ControllerID
	} else {
		f.SourceID, f.DestID = ControllerID, addr
	}
	if n > 0 {
		f.Payload = append([]byte(nil), data[HeaderSize:HeaderSize+n]...)
	}
	return f, nil
}
