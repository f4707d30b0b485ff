package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/narvanalabs/tower-controller/internal/dispatch"
	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/models"
)

// ErrStopped is returned for requests submitted after the loop exited.
var ErrStopped = errors.New("controller stopped")

type request struct {
	ctx   context.Context
	fn    func(ctx context.Context, d *dispatch.Dispatcher) error
	reply chan error
}

// Do runs fn on the loop goroutine and waits for it to finish. fn may use
// the dispatcher freely but must not retain anything it returns that aliases
// loop-owned state.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context, d *dispatch.Dispatcher) error) error {
	req := request{ctx: ctx, fn: fn, reply: make(chan error, 1)}

	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// serve runs req within both its own deadline and the remaining pass budget.
func (c *Controller) serve(pass context.Context, req request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- err
		return
	}
	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	if deadline, ok := pass.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	req.reply <- req.fn(ctx, c.dispatcher)
}

// Status returns the system snapshot.
func (c *Controller) Status(ctx context.Context) (models.SystemStatus, error) {
	var st models.SystemStatus
	err := c.Do(ctx, func(_ context.Context, d *dispatch.Dispatcher) error {
		st = d.Status(c.clock.Wall())
		return nil
	})
	return st, err
}

// SetPump commands a tower pump.
func (c *Controller) SetPump(ctx context.Context, towerID uint8, on bool) error {
	return c.Do(ctx, func(ctx context.Context, d *dispatch.Dispatcher) error {
		return d.SetPump(ctx, towerID, on)
	})
}

// SetMode changes the control mode, announcing it to the towers when configured.
func (c *Controller) SetMode(ctx context.Context, mode models.Mode) error {
	return c.Do(ctx, func(ctx context.Context, d *dispatch.Dispatcher) error {
		prev := d.Mode()
		if err := d.SetMode(mode); err != nil {
			return err
		}
		if prev == mode {
			return nil
		}
		c.publish(models.EventModeChanged, 0, "mode "+mode.String())
		if c.cfg.AnnounceMode {
			d.AnnounceMode(ctx)
		}
		return nil
	})
}

// History returns the tower's samples at or after since, oldest first.
// A zero since returns everything in the ring.
func (c *Controller) History(ctx context.Context, towerID uint8, since time.Time) ([]models.HistorySample, error) {
	var samples []models.HistorySample
	err := c.Do(ctx, func(_ context.Context, d *dispatch.Dispatcher) error {
		seq, err := d.QueryHistory(towerID)
		if err != nil {
			return err
		}
		if !since.IsZero() {
			seq = history.Since(seq, since)
		}
		samples = slices.Collect(seq)
		return nil
	})
	return samples, err
}

// Towers lists every registered tower.
func (c *Controller) Towers(ctx context.Context) ([]models.Tower, error) {
	var towers []models.Tower
	err := c.Do(ctx, func(_ context.Context, d *dispatch.Dispatcher) error {
		towers = d.ListTowers()
		return nil
	})
	return towers, err
}

// Tower returns one tower.
func (c *Controller) Tower(ctx context.Context, towerID uint8) (models.Tower, error) {
	var t models.Tower
	err := c.Do(ctx, func(_ context.Context, d *dispatch.Dispatcher) error {
		var err error
		t, err = d.Tower(towerID)
		return err
	})
	return t, err
}

// QueryTower asks a tower for a fresh heartbeat.
func (c *Controller) QueryTower(ctx context.Context, towerID uint8) error {
	return c.Do(ctx, func(ctx context.Context, d *dispatch.Dispatcher) error {
		if err := d.QueryTower(ctx, towerID); err != nil {
			return fmt.Errorf("querying tower: %w", err)
		}
		return nil
	})
}
