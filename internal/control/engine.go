// Package control implements the automatic hysteresis pump controller.
package control

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/narvanalabs/tower-controller/internal/models"
)

// DefaultInterval is how often the engine evaluates the towers.
const DefaultInterval = 5 * time.Second

// State is the per-tower controller state.
type State int

const (
	// StateIdle means the pump should be off.
	StateIdle State = iota
	// StatePumpRunning means the pump should be on.
	StatePumpRunning
)

// String returns the state name.
func (s State) String() string {
	if s == StatePumpRunning {
		return "pump_running"
	}
	return "idle"
}

// StateOf maps a pump relay belief to a controller state.
func StateOf(pumpOn bool) State {
	if pumpOn {
		return StatePumpRunning
	}
	return StateIdle
}

// PumpOn returns the relay state the controller state asks for.
func (s State) PumpOn() bool {
	return s == StatePumpRunning
}

// Thresholds is the hysteresis band. Levels inside [Start, Stop] never cause a transition.
type Thresholds struct {
	Start uint8
	Stop  uint8
}

// DefaultThresholds returns the 20/90 band.
func DefaultThresholds() Thresholds {
	return Thresholds{Start: 20, Stop: 90}
}

// Next returns the state after observing level.
func (t Thresholds) Next(s State, level uint8) State {
	switch s {
	case StateIdle:
		if level < t.Start {
			return StatePumpRunning
		}
	case StatePumpRunning:
		if level > t.Stop {
			return StateIdle
		}
	}
	return s
}

// Target is the view of a tower the engine evaluates.
type Target interface {
	ID() uint8
	Online() bool
	Level() uint8
	PumpOn() bool
}

// Emitter sends pump commands. On success it must update the tower's pump belief.
type Emitter interface {
	SetPump(ctx context.Context, towerID uint8, on bool) error
}

// Decision is a pump change the engine asked for.
type Decision struct {
	TowerID uint8
	From    State
	To      State
	Reason  string
	Err     error
}

// Engine evaluates every tower on a fixed tick and emits one command per state change.
type Engine struct {
	thresholds Thresholds
	emitter    Emitter
	logger     *slog.Logger
}

// NewEngine creates an auto-control engine.
func NewEngine(thresholds Thresholds, emitter Emitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		thresholds: thresholds,
		emitter:    emitter,
		logger:     logger,
	}
}

// Thresholds returns the configured band.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Tick runs one evaluation. In manual mode it does nothing. When the well is
// short, every running pump is stopped and no pump is started, whatever the
// tower level.
func Tick[T Target](ctx context.Context, e *Engine, mode models.Mode, wellOK bool, towers iter.Seq[T]) []Decision {
	if mode != models.ModeAuto {
		return nil
	}

	var decisions []Decision
	if !wellOK {
		for t := range towers {
			if !t.PumpOn() {
				continue
			}
			decisions = append(decisions, e.apply(ctx, t.ID(), StatePumpRunning, StateIdle, "well water shortage"))
		}
		if len(decisions) > 0 {
			e.logger.Warn("well water shortage, stopping all pumps", "stopped", len(decisions))
		}
		return decisions
	}

	for t := range towers {
		if !t.Online() {
			continue
		}
		from := StateOf(t.PumpOn())
		to := e.thresholds.Next(from, t.Level())
		if to == from {
			continue
		}
		reason := "level above stop threshold"
		if to == StatePumpRunning {
			reason = "level below start threshold"
		}
		decisions = append(decisions, e.apply(ctx, t.ID(), from, to, reason))
	}
	return decisions
}

func (e *Engine) apply(ctx context.Context, id uint8, from, to State, reason string) Decision {
	d := Decision{TowerID: id, From: from, To: to, Reason: reason}
	d.Err = e.emitter.SetPump(ctx, id, to.PumpOn())
	if d.Err != nil {
		e.logger.Warn("auto control command failed",
			"tower_id", id,
			"from", from.String(),
			"to", to.String(),
			"error", d.Err,
		)
		return d
	}
	e.logger.Info("auto control transition",
		"tower_id", id,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
	return d
}
