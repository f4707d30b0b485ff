package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/tower-controller/internal/models"
)

type fakeTower struct {
	id     uint8
	online bool
	level  uint8
	pumpOn bool
}

func (f *fakeTower) ID() uint8    { return f.id }
func (f *fakeTower) Online() bool { return f.online }
func (f *fakeTower) Level() uint8 { return f.level }
func (f *fakeTower) PumpOn() bool { return f.pumpOn }

// recordingEmitter applies commands to fake towers and records every frame sent.
type recordingEmitter struct {
	towers map[uint8]*fakeTower
	sent   []bool
	fail   error
}

func newRecordingEmitter(towers ...*fakeTower) *recordingEmitter {
	e := &recordingEmitter{towers: make(map[uint8]*fakeTower)}
	for _, t := range towers {
		e.towers[t.id] = t
	}
	return e
}

func (e *recordingEmitter) SetPump(_ context.Context, id uint8, on bool) error {
	if e.fail != nil {
		return e.fail
	}
	e.sent = append(e.sent, on)
	e.towers[id].pumpOn = on
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHysteresisSequence(t *testing.T) {
	tower := &fakeTower{id: 1, online: true, level: 25}
	em := newRecordingEmitter(tower)
	e := NewEngine(DefaultThresholds(), em, quietLogger())

	levels := []uint8{25, 19, 21, 91, 85}
	want := []State{StateIdle, StatePumpRunning, StatePumpRunning, StateIdle, StateIdle}

	for i, level := range levels {
		tower.level = level
		Tick(context.Background(), e, models.ModeAuto, true, slices.Values([]*fakeTower{tower}))
		if got := StateOf(tower.pumpOn); got != want[i] {
			t.Fatalf("step %d level %d: expected %s, got %s", i, level, want[i], got)
		}
	}
	if len(em.sent) != 2 {
		t.Fatalf("expected exactly 2 pump frames, got %d", len(em.sent))
	}
}

// **Feature: tower-controller, Property 3: Hysteresis dead band**
// No level inside [20, 90] ever causes a transition, and re-evaluating an
// unchanged tower never emits a frame.
func TestDeadBandAndIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("levels in the dead band keep the state", prop.ForAll(
		func(level uint8, running bool) bool {
			s := StateOf(running)
			return DefaultThresholds().Next(s, level) == s
		},
		gen.UInt8Range(20, 90),
		gen.Bool(),
	))

	properties.Property("one frame per change, none on re-evaluation", prop.ForAll(
		func(levels []uint8) bool {
			tower := &fakeTower{id: 3, online: true}
			em := newRecordingEmitter(tower)
			e := NewEngine(DefaultThresholds(), em, quietLogger())
			towers := slices.Values([]*fakeTower{tower})

			changes := 0
			for _, level := range levels {
				tower.level = level
				before := tower.pumpOn
				Tick(context.Background(), e, models.ModeAuto, true, towers)
				if tower.pumpOn != before {
					changes++
				}
				// A second evaluation at the same level must be silent.
				sent := len(em.sent)
				Tick(context.Background(), e, models.ModeAuto, true, towers)
				if len(em.sent) != sent {
					return false
				}
			}
			return len(em.sent) == changes
		},
		gen.SliceOf(gen.UInt8Range(0, 100)),
	))

	properties.TestingRun(t)
}

// **Feature: tower-controller, Property 4: Well-water guard**
// While the well is short no pump runs and none is started, whatever the
// level; once restored the thresholds apply on the next tick.
func TestWellWaterGuard(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("shortage forces every tower idle", prop.ForAll(
		func(levels []uint8, pumps []bool, online []bool) bool {
			var towers []*fakeTower
			for i, level := range levels {
				towers = append(towers, &fakeTower{
					id:     uint8(i + 1),
					level:  level,
					pumpOn: pumps[i%len(pumps)],
					online: online[i%len(online)],
				})
			}
			em := newRecordingEmitter(towers...)
			e := NewEngine(DefaultThresholds(), em, quietLogger())

			Tick(context.Background(), e, models.ModeAuto, false, slices.Values(towers))
			for _, tw := range towers {
				if tw.pumpOn {
					return false
				}
			}
			for _, on := range em.sent {
				if on {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.UInt8Range(0, 100)),
		gen.SliceOfN(3, gen.Bool()),
		gen.SliceOfN(2, gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestGuardReleaseResumesThresholds(t *testing.T) {
	tower := &fakeTower{id: 1, online: true, level: 5}
	em := newRecordingEmitter(tower)
	e := NewEngine(DefaultThresholds(), em, quietLogger())
	towers := slices.Values([]*fakeTower{tower})

	Tick(context.Background(), e, models.ModeAuto, false, towers)
	if tower.pumpOn || len(em.sent) != 0 {
		t.Fatal("pump started during shortage")
	}

	Tick(context.Background(), e, models.ModeAuto, true, towers)
	if !tower.pumpOn {
		t.Fatal("pump not started once the well recovered")
	}
}

func TestManualModeDoesNothing(t *testing.T) {
	tower := &fakeTower{id: 1, online: true, level: 5}
	em := newRecordingEmitter(tower)
	e := NewEngine(DefaultThresholds(), em, quietLogger())

	decisions := Tick(context.Background(), e, models.ModeManual, false, slices.Values([]*fakeTower{tower}))
	if len(decisions) != 0 || len(em.sent) != 0 {
		t.Fatalf("manual mode emitted %d frames", len(em.sent))
	}
}

func TestOfflineTowersAreSkipped(t *testing.T) {
	tower := &fakeTower{id: 1, online: false, level: 5}
	em := newRecordingEmitter(tower)
	e := NewEngine(DefaultThresholds(), em, quietLogger())

	Tick(context.Background(), e, models.ModeAuto, true, slices.Values([]*fakeTower{tower}))
	if len(em.sent) != 0 {
		t.Fatal("offline tower was driven")
	}
}

func TestFailedEmissionKeepsState(t *testing.T) {
	tower := &fakeTower{id: 1, online: true, level: 5}
	em := newRecordingEmitter(tower)
	em.fail = errors.New("radio down")
	e := NewEngine(DefaultThresholds(), em, quietLogger())

	decisions := Tick(context.Background(), e, models.ModeAuto, true, slices.Values([]*fakeTower{tower}))
	if len(decisions) != 1 || decisions[0].Err == nil {
		t.Fatalf("expected one failed decision, got %+v", decisions)
	}
	if tower.pumpOn {
		t.Fatal("pump belief changed despite failed send")
	}
}
