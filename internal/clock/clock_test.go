package clock

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Feature: tower-controller, Property 2: Wraparound-safe elapsed ticks**
// For any start tick and any elapsed amount, Since recovers the elapsed amount
// even when the counter overflows in between.
func TestSinceAcrossWrap(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Since(then+d, then) == d", prop.ForAll(
		func(then, d uint32) bool {
			now := Tick(then) + Tick(d)
			return Since(now, Tick(then)) == Tick(d)
		},
		gen.UInt32(),
		gen.UInt32Range(0, math.MaxUint32/2),
	))

	properties.TestingRun(t)
}

func TestSinceExplicitWrap(t *testing.T) {
	then := Tick(math.MaxUint32 - 10)
	now := Tick(20)
	if got := Since(now, then); got != 31 {
		t.Fatalf("expected 31 ticks across wrap, got %d", got)
	}
}

func TestManualAdvance(t *testing.T) {
	wall := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(math.MaxUint32-499, wall)
	c.Advance(time.Second)

	if c.Now() != 500 {
		t.Errorf("expected tick 500 after wrap, got %d", c.Now())
	}
	if !c.Wall().Equal(wall.Add(time.Second)) {
		t.Errorf("wall clock not advanced: %v", c.Wall())
	}
}

func TestFromDuration(t *testing.T) {
	if FromDuration(30*time.Second) != 30000 {
		t.Errorf("expected 30000 ticks, got %d", FromDuration(30*time.Second))
	}
	if Tick(1500).Duration() != 1500*time.Millisecond {
		t.Errorf("unexpected duration %v", Tick(1500).Duration())
	}
}
