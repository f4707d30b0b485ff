package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/tower-controller/internal/protocol"
)

// genDistinctIDs generates n distinct valid tower ids.
func genDistinctIDs(n int) gopter.Gen {
	return gen.SliceOfN(n*4, gen.UInt8Range(1, protocol.MaxNodeID)).
		Map(func(ids []uint8) []uint8 {
			seen := make(map[uint8]bool)
			out := make([]uint8, 0, n)
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
				if len(out) == n {
					break
				}
			}
			return out
		}).
		SuchThat(func(ids []uint8) bool { return len(ids) == n })
}

// **Feature: tower-controller, Property 6: Registry capacity**
// Registering one id more than the capacity fails with ErrCapacityExceeded and
// leaves the existing nodes untouched.
func TestRegistryCapacityExceeded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ninth distinct id is rejected", prop.ForAll(
		func(ids []uint8) bool {
			r := New(DefaultConfig())
			for i, id := range ids[:DefaultCapacity] {
				n, err := r.LookupOrRegister(id)
				if err != nil {
					return false
				}
				n.ApplyHeartbeat(protocol.Heartbeat{Level: uint8(i * 10)}, 1, time.Now())
			}

			_, err := r.LookupOrRegister(ids[DefaultCapacity])
			if !errors.Is(err, ErrCapacityExceeded) {
				t.Logf("expected ErrCapacityExceeded, got %v", err)
				return false
			}
			if r.Len() != DefaultCapacity {
				return false
			}
			if _, ok := r.Get(ids[DefaultCapacity]); ok {
				return false
			}
			for i, id := range ids[:DefaultCapacity] {
				n, ok := r.Get(id)
				if !ok || n.Level() != uint8(i*10) || !n.Online() {
					return false
				}
			}
			return true
		},
		genDistinctIDs(DefaultCapacity+1),
	))

	properties.Property("lookup of a known id never allocates", prop.ForAll(
		func(ids []uint8) bool {
			r := New(DefaultConfig())
			for _, id := range ids {
				if _, err := r.LookupOrRegister(id); err != nil {
					return false
				}
			}
			for _, id := range ids {
				n, err := r.LookupOrRegister(id)
				if err != nil || n.ID() != id {
					return false
				}
			}
			return r.Len() == len(ids)
		},
		genDistinctIDs(DefaultCapacity),
	))

	properties.TestingRun(t)
}

func TestNewNodeDefaults(t *testing.T) {
	r := New(DefaultConfig())
	n, err := r.LookupOrRegister(5)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if n.Online() || n.Level() != 0 || n.PumpOn() {
		t.Fatalf("new node should be offline with level 0, got %+v", n.Snapshot(r.AlarmLevels()))
	}
	if n.Name() != "Tower 1" {
		t.Errorf("expected name Tower 1, got %q", n.Name())
	}
	if n.HistoryRing().Cap() != 48 {
		t.Errorf("expected history capacity 48, got %d", n.HistoryRing().Cap())
	}
}

func TestGetNeverAllocates(t *testing.T) {
	r := New(DefaultConfig())
	if _, ok := r.Get(3); ok {
		t.Fatal("unexpected node")
	}
	if r.Len() != 0 {
		t.Fatalf("Get allocated a slot")
	}
}

func TestRegisterRejectsReservedIDs(t *testing.T) {
	r := New(DefaultConfig())
	for _, id := range []uint8{protocol.ControllerID, 0xFF} {
		if _, err := r.LookupOrRegister(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("id %d: expected ErrInvalidID, got %v", id, err)
		}
	}
}

func TestAlarmDerivation(t *testing.T) {
	r := New(DefaultConfig())
	n, _ := r.LookupOrRegister(1)

	if a := n.Alarms(r.AlarmLevels()); a.Any() {
		t.Fatalf("node without heartbeat should have no local alarms, got %+v", a)
	}

	n.ApplyHeartbeat(protocol.Heartbeat{Level: 5, WellWaterOK: true}, 10, time.Now())
	if a := n.Alarms(r.AlarmLevels()); !a.LowWater || a.Overflow || a.Shortage {
		t.Errorf("expected low water only, got %+v", a)
	}

	n.ApplyHeartbeat(protocol.Heartbeat{Level: 99, WellWaterOK: false}, 20, time.Now())
	if a := n.Alarms(r.AlarmLevels()); a.LowWater || !a.Overflow || !a.Shortage {
		t.Errorf("expected overflow and shortage, got %+v", a)
	}

	n.ApplyHeartbeat(protocol.Heartbeat{Level: 50, WellWaterOK: true}, 30, time.Now())
	n.SetReportedAlarms(protocol.AlarmLowWater)
	if a := n.Alarms(r.AlarmLevels()); !a.LowWater || a.Count() != 1 {
		t.Errorf("expected reported low water, got %+v", a)
	}
}

func TestApplyHeartbeatReportsTransition(t *testing.T) {
	r := New(DefaultConfig())
	n, _ := r.LookupOrRegister(2)

	if !n.ApplyHeartbeat(protocol.Heartbeat{Level: 40}, 1, time.Now()) {
		t.Error("first heartbeat should report offline->online")
	}
	if n.ApplyHeartbeat(protocol.Heartbeat{Level: 41}, 2, time.Now()) {
		t.Error("second heartbeat should not report a transition")
	}
	n.MarkOffline()
	if !n.ApplyHeartbeat(protocol.Heartbeat{Level: 42}, 3, time.Now()) {
		t.Error("heartbeat after offline should report a transition")
	}
}
