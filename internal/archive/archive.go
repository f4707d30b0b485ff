// Package archive keeps every history snapshot beyond the in-memory ring.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/models"
)

// Archive kinds.
const (
	KindNone     = "none"
	KindBolt     = "bolt"
	KindPostgres = "postgres"
)

// Archive errors.
var (
	// ErrDisabled is returned by queries when no archive is configured.
	ErrDisabled = errors.New("archive disabled")

	// ErrUnknownKind is returned for an unrecognized archive kind.
	ErrUnknownKind = errors.New("unknown archive kind")
)

// Archive stores history records durably.
type Archive interface {
	// Append stores records. Records already present are ignored.
	Append(ctx context.Context, records []history.Record) error
	// Range returns samples for a tower at or after since, oldest first.
	Range(ctx context.Context, towerID uint8, since time.Time) ([]models.HistorySample, error)
	// Prune deletes samples older than before and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures the archive backend.
type Config struct {
	Kind      string
	Path      string
	DSN       string
	Retention time.Duration
}

// Open creates the configured archive.
func Open(cfg Config, logger *slog.Logger) (Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Kind {
	case KindNone, "":
		return Nop{}, nil
	case KindBolt:
		return OpenBolt(cfg.Path, logger)
	case KindPostgres:
		return OpenPostgres(DefaultPostgresConfig(cfg.DSN), logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Append(context.Context, []history.Record) error { return nil }

func (Nop) Range(context.Context, uint8, time.Time) ([]models.HistorySample, error) {
	return nil, ErrDisabled
}

func (Nop) Prune(context.Context, time.Time) (int, error) { return 0, nil }
func (Nop) Ping(context.Context) error                    { return nil }
func (Nop) Close() error                                  { return nil }
