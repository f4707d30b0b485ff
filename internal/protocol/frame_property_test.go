package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allCommands = []Command{
	CommandHeartbeat, CommandQuery, CommandPumpControl,
	CommandSetAuto, CommandSetManual, CommandAlarm,
}

// genCommand generates any known command.
func genCommand() gopter.Gen {
	return gen.IntRange(0, len(allCommands)-1).Map(func(i int) Command {
		return allCommands[i]
	})
}

// genNodeID generates a valid tower address.
func genNodeID() gopter.Gen {
	return gen.UInt8Range(1, MaxNodeID)
}

// genPayload generates a payload of up to n bytes.
func genPayload(n int) gopter.Gen {
	return gen.IntRange(0, n).FlatMap(func(v interface{}) gopter.Gen {
		return gen.SliceOfN(v.(int), gen.UInt8())
	}, reflect.TypeOf([]uint8{}))
}

// genFrame generates valid frames in either direction.
func genFrame() gopter.Gen {
	return gopter.CombineGens(genCommand(), genNodeID(), genPayload(MaxPayloadSize)).
		Map(func(vals []interface{}) Frame {
			cmd := vals[0].(Command)
			node := vals[1].(uint8)
			payload := vals[2].([]uint8)
			f := Frame{Command: cmd, Payload: payload}
			if cmd.Uplink() {
				f.SourceID, f.DestID = node, ControllerID
			} else {
				f.SourceID, f.DestID = ControllerID, node
			}
			return f
		})
}

// **Feature: tower-controller, Property 7: Codec round-trip**
// For every valid frame, decoding the encoded bytes yields the same frame, and
// the encoded size never exceeds the radio frame size.
func TestFrameRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(f)) == f", prop.ForAll(
		func(f Frame) bool {
			data, err := Encode(f)
			if err != nil {
				t.Logf("encode failed: %v", err)
				return false
			}
			if len(data) > MaxFrameSize {
				t.Logf("frame is %d bytes", len(data))
				return false
			}
			decoded, err := Decode(data)
			if err != nil {
				t.Logf("decode failed: %v", err)
				return false
			}
			return decoded.Equal(f)
		},
		genFrame(),
	))

	properties.Property("encode rejects payloads over 29 bytes", prop.ForAll(
		func(f Frame, extra []uint8) bool {
			f.Payload = append(make([]byte, MaxPayloadSize), extra...)
			_, err := Encode(f)
			return errors.Is(err, ErrPayloadTooLarge)
		},
		genFrame(),
		gen.SliceOfN(5, gen.UInt8()),
	))

	properties.Property("truncated frames are malformed", prop.ForAll(
		func(f Frame) bool {
			if len(f.Payload) == 0 {
				return true
			}
			data, err := Encode(f)
			if err != nil {
				return false
			}
			_, err = Decode(data[:len(data)-1])
			return errors.Is(err, ErrMalformedFrame)
		},
		genFrame(),
	))

	properties.TestingRun(t)
}

func TestDecodeShortFrame(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {1}, {1, 0x01}} {
		if _, err := Decode(data); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Decode(%v): expected ErrMalformedFrame, got %v", data, err)
		}
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := Decode([]byte{3, 0x55, 0})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("unknown command should also be malformed, got %v", err)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	f, err := Decode([]byte{4, byte(CommandHeartbeat), 2, 55, 0x03, 0xAA, 0xBB})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.SourceID != 4 || f.DestID != ControllerID || len(f.Payload) != 2 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestDecodeRejectsControllerAddress(t *testing.T) {
	if _, err := Decode([]byte{ControllerID, byte(CommandHeartbeat), 0}); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected malformed for controller address, got %v", err)
	}
}

func TestEncodeRejectsWrongDirection(t *testing.T) {
	f := Frame{SourceID: 3, DestID: 4, Command: CommandPumpControl, Payload: []byte{1}}
	if _, err := Encode(f); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestPumpControlWireLayout(t *testing.T) {
	data, err := Encode(NewPumpControl(7, true))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{7, 0x10, 1, 1}
	if string(data) != string(want) {
		t.Fatalf("expected %v, got %v", want, data)
	}
}
