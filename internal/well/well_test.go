package well

import (
	"errors"
	"iter"
	"testing"
)

type report struct {
	online, ok bool
}

func (r report) Online() bool      { return r.online }
func (r report) WellWaterOK() bool { return r.ok }

func reports(rs ...report) func() iter.Seq[Reporter] {
	return func() iter.Seq[Reporter] {
		return func(yield func(Reporter) bool) {
			for _, r := range rs {
				if !yield(r) {
					return
				}
			}
		}
	}
}

func TestHeartbeatSource(t *testing.T) {
	tests := []struct {
		name string
		in   []report
		want bool
	}{
		{"no towers", nil, false},
		{"all offline", []report{{false, true}, {false, true}}, false},
		{"all online agree", []report{{true, true}, {true, true}}, true},
		{"one online reports shortage", []report{{true, true}, {true, false}}, false},
		{"offline shortage ignored", []report{{true, true}, {false, false}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewHeartbeat(reports(tt.in...)).WaterOK()
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type failing struct{}

func (failing) WaterOK() (bool, error) { return true, errors.New("i2c nack") }
func (failing) Close() error           { return nil }

func TestReadFailsClosed(t *testing.T) {
	ok, err := Read(failing{})
	if ok || err == nil {
		t.Fatalf("expected shortage with error, got %v %v", ok, err)
	}
}

func TestNewSelectsSource(t *testing.T) {
	src, err := New(Config{Kind: KindAssumeOK}, nil)
	if err != nil {
		t.Fatalf("assume-ok: %v", err)
	}
	if ok, _ := src.WaterOK(); !ok {
		t.Fatal("assume-ok source reported shortage")
	}

	if _, err := New(Config{Kind: "magic"}, nil); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if _, err := New(Config{Kind: KindHeartbeat}, nil); err == nil {
		t.Fatal("heartbeat source without tower view accepted")
	}
}
