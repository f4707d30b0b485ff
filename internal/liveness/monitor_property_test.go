package liveness

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/tower-controller/internal/clock"
	"github.com/narvanalabs/tower-controller/internal/protocol"
	"github.com/narvanalabs/tower-controller/internal/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// **Feature: tower-controller, Property 2: Offline after silence**
// A node with no heartbeat for more than the timeout goes offline and stays
// offline until the next heartbeat, including across a tick counter wrap.
func TestOfflineAfterTimeout(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	const timeout = clock.Tick(30)

	properties.Property("silence beyond the timeout flips online to false", prop.ForAll(
		func(start uint32, silence uint32) bool {
			r := registry.New(registry.DefaultConfig())
			n, _ := r.LookupOrRegister(1)
			n.ApplyHeartbeat(protocol.Heartbeat{Level: 50}, clock.Tick(start), time.Now())

			m := NewMonitorTicks(timeout, quietLogger())
			now := clock.Tick(start) + clock.Tick(silence)
			changed := Sweep(m, r.All(), now)

			if silence > uint32(timeout) {
				if n.Online() || len(changed) != 1 {
					return false
				}
				// Further sweeps keep it offline and report nothing new.
				return len(Sweep(m, r.All(), now+100)) == 0 && !n.Online()
			}
			return n.Online() && len(changed) == 0
		},
		gen.UInt32(),
		gen.UInt32Range(0, 120),
	))

	properties.TestingRun(t)
}

func TestSweepAcrossCounterWrap(t *testing.T) {
	r := registry.New(registry.DefaultConfig())
	n, _ := r.LookupOrRegister(7)

	last := clock.Tick(math.MaxUint32 - 5)
	n.ApplyHeartbeat(protocol.Heartbeat{Level: 10}, last, time.Now())

	m := NewMonitorTicks(30, quietLogger())

	// 20 ticks later the counter has wrapped but the node is still fresh.
	Sweep(m, r.All(), last+20)
	if !n.Online() {
		t.Fatal("node marked offline 20 ticks after heartbeat across wrap")
	}

	Sweep(m, r.All(), last+31)
	if n.Online() {
		t.Fatal("node still online 31 ticks after heartbeat across wrap")
	}

	n.ApplyHeartbeat(protocol.Heartbeat{Level: 10}, last+40, time.Now())
	if !n.Online() {
		t.Fatal("heartbeat did not bring node back online")
	}
}

func TestSweepIgnoresNodesNeverSeen(t *testing.T) {
	r := registry.New(registry.DefaultConfig())
	r.LookupOrRegister(3)

	m := NewMonitor(DefaultTimeout, quietLogger())
	if changed := Sweep(m, r.All(), clock.FromDuration(time.Hour)); len(changed) != 0 {
		t.Fatalf("offline node reported as changed: %v", changed)
	}
	if m.Timeout() != 30000 {
		t.Errorf("expected 30000 tick timeout, got %d", m.Timeout())
	}
}
