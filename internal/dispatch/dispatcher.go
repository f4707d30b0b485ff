// Package dispatch executes operator commands against the registry and the radio link.
package dispatch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/protocol"
	"github.com/narvanalabs/tower-controller/internal/registry"
	"github.com/narvanalabs/tower-controller/internal/transport"
)

// PumpCommand records the outcome of one PumpControl send.
type PumpCommand struct {
	ID       string
	TowerID  uint8
	On       bool
	Attempts int
	Duration time.Duration
	Err      error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPumpObserver registers a callback run after every pump command, successful or not.
func WithPumpObserver(fn func(PumpCommand)) Option {
	return func(d *Dispatcher) {
		d.observers = append(d.observers, fn)
	}
}

// Dispatcher applies commands to the tower fleet. It shares the registry and
// system state with the control loop and must only be called from it.
type Dispatcher struct {
	registry  *registry.Registry
	state     *models.SystemState
	sender    *transport.Sender
	observers []func(PumpCommand)
	logger    *slog.Logger
}

// New creates a dispatcher.
func New(reg *registry.Registry, state *models.SystemState, sender *transport.Sender, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		registry: reg,
		state:    state,
		sender:   sender,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetPump sends a PumpControl frame and, once the link accepted it, records
// the new relay state. On failure the recorded state is left alone.
func (d *Dispatcher) SetPump(ctx context.Context, towerID uint8, on bool) error {
	node, ok := d.registry.Get(towerID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTower, towerID)
	}
	if on && !d.state.WellWaterOK {
		return ErrWellShortage
	}

	frame, err := protocol.Encode(protocol.NewPumpControl(towerID, on))
	if err != nil {
		return fmt.Errorf("encoding pump command: %w", err)
	}

	cmd := PumpCommand{ID: uuid.NewString(), TowerID: towerID, On: on}
	res, err := d.sender.SendReliable(ctx, frame)
	cmd.Attempts, cmd.Duration, cmd.Err = res.Attempts, res.Duration, err
	d.notify(cmd)

	if err != nil {
		d.logger.Warn("pump command failed",
			"command_id", cmd.ID,
			"tower_id", towerID,
			"pump_on", on,
			"attempts", res.Attempts,
			"error", err,
		)
		return fmt.Errorf("pump command to tower %d: %w", towerID, err)
	}

	node.SetPumpOn(on)
	d.logger.Info("pump command sent",
		"command_id", cmd.ID,
		"tower_id", towerID,
		"pump_on", on,
		"attempts", res.Attempts,
	)
	return nil
}

// SetMode switches between auto and manual control.
func (d *Dispatcher) SetMode(mode models.Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: mode %d", ErrInvalidParams, int(mode))
	}
	if d.state.Mode != mode {
		d.logger.Info("control mode changed", "from", d.state.Mode.String(), "to", mode.String())
	}
	d.state.Mode = mode
	return nil
}

// AnnounceMode sends SetAuto or SetManual to every online tower once and
// returns how many accepted it. Failures are logged and skipped.
func (d *Dispatcher) AnnounceMode(ctx context.Context) int {
	sent := 0
	for n := range d.registry.All() {
		if !n.Online() {
			continue
		}
		frame, err := protocol.Encode(protocol.NewModeCommand(n.ID(), d.state.Mode == models.ModeAuto))
		if err != nil {
			d.logger.Error("encoding mode command", "tower_id", n.ID(), "error", err)
			continue
		}
		if err := d.sender.Send(ctx, frame); err != nil {
			d.logger.Warn("mode command failed", "tower_id", n.ID(), "mode", d.state.Mode.String(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Mode returns the current control mode.
func (d *Dispatcher) Mode() models.Mode {
	return d.state.Mode
}

// QueryHistory returns the tower's samples oldest first.
func (d *Dispatcher) QueryHistory(towerID uint8) (iter.Seq[models.HistorySample], error) {
	node, ok := d.registry.Get(towerID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTower, towerID)
	}
	return node.HistoryRing().Chronological(), nil
}

// ListTowers returns a snapshot of every registered tower.
func (d *Dispatcher) ListTowers() []models.Tower {
	return d.registry.Snapshot()
}

// Tower returns a snapshot of a single tower.
func (d *Dispatcher) Tower(towerID uint8) (models.Tower, error) {
	node, ok := d.registry.Get(towerID)
	if !ok {
		return models.Tower{}, fmt.Errorf("%w: %d", ErrUnknownTower, towerID)
	}
	return node.Snapshot(d.registry.AlarmLevels()), nil
}

// QueryTower asks a node for an immediate heartbeat. It is sent once.
func (d *Dispatcher) QueryTower(ctx context.Context, towerID uint8) error {
	if _, ok := d.registry.Get(towerID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTower, towerID)
	}
	frame, err := protocol.Encode(protocol.NewQuery(towerID))
	if err != nil {
		return fmt.Errorf("encoding query: %w", err)
	}
	if err := d.sender.Send(ctx, frame); err != nil {
		return fmt.Errorf("query to tower %d: %w", towerID, err)
	}
	d.logger.Debug("query sent", "tower_id", towerID)
	return nil
}

// Status returns the full system snapshot.
func (d *Dispatcher) Status(now time.Time) models.SystemStatus {
	return models.NewSystemStatus(*d.state, d.registry.Snapshot(), now)
}

func (d *Dispatcher) notify(cmd PumpCommand) {
	for _, fn := range d.observers {
		fn(cmd)
	}
}
