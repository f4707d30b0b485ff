// Package well reports whether the shared well can supply water.
// Every source fails closed: an unreadable or unconfirmed state is a shortage.
package well

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// Source kinds accepted by New.
const (
	KindGPIO      = "gpio"
	KindHeartbeat = "heartbeat"
	KindAssumeOK  = "assume-ok"
)

// ErrUnknownSource is returned for an unrecognized source kind.
var ErrUnknownSource = errors.New("unknown well source")

// Reporter is a tower that reports the well bit in its heartbeat.
type Reporter interface {
	Online() bool
	WellWaterOK() bool
}

// Source reads the well state. Read errors are reported alongside false.
type Source interface {
	WaterOK() (bool, error)
	Close() error
}

// Config selects and configures a source.
type Config struct {
	Kind    string
	Chip    string
	Line    int
	Reports func() iter.Seq[Reporter]
}

// New builds the configured source.
func New(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Kind {
	case KindGPIO:
		return NewGPIO(cfg.Chip, cfg.Line)
	case KindHeartbeat, "":
		if cfg.Reports == nil {
			return nil, fmt.Errorf("heartbeat well source needs a tower view")
		}
		return NewHeartbeat(cfg.Reports), nil
	case KindAssumeOK:
		logger.Warn("well water assumed available, dry-well protection disabled")
		return Static(true), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Kind)
	}
}

// Read samples src and folds errors into a shortage.
func Read(src Source) (bool, error) {
	ok, err := src.WaterOK()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Static always returns the same answer.
type Static bool

// WaterOK returns the fixed value.
func (s Static) WaterOK() (bool, error) { return bool(s), nil }

// Close is a no-op.
func (Static) Close() error { return nil }

// Heartbeat derives the well state from the towers' status bits. The well is
// OK only if at least one tower is online and every online tower agrees.
type Heartbeat struct {
	reports func() iter.Seq[Reporter]
}

// NewHeartbeat creates a heartbeat-derived source.
func NewHeartbeat(reports func() iter.Seq[Reporter]) *Heartbeat {
	return &Heartbeat{reports: reports}
}

// WaterOK evaluates the current reports.
func (h *Heartbeat) WaterOK() (bool, error) {
	online := 0
	for r := range h.reports() {
		if !r.Online() {
			continue
		}
		online++
		if !r.WellWaterOK() {
			return false, nil
		}
	}
	return online > 0, nil
}

// Close is a no-op.
func (h *Heartbeat) Close() error { return nil }
