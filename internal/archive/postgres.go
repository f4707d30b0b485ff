package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS tower_history (
	tower_id SMALLINT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	level SMALLINT NOT NULL,
	pump_on BOOLEAN NOT NULL,
	PRIMARY KEY (tower_id, ts)
)`

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns a PostgresConfig with sensible defaults.
func DefaultPostgresConfig(dsn string) *PostgresConfig {
	return &PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresArchive stores samples in a tower_history table.
type PostgresArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenPostgres connects, verifies the connection and creates the table.
func OpenPostgres(cfg *PostgresConfig, logger *slog.Logger) (*PostgresArchive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres archive DSN is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	a := NewPostgres(db, logger)
	if err := a.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to PostgreSQL archive")
	return a, nil
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB, logger *slog.Logger) *PostgresArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresArchive{db: db, logger: logger}
}

// Migrate creates the history table if it does not exist.
func (a *PostgresArchive) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating tower_history: %w", err)
	}
	return nil
}

// Append inserts the records in a single statement.
func (a *PostgresArchive) Append(ctx context.Context, records []history.Record) error {
	if len(records) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO tower_history (tower_id, ts, level, pump_on) VALUES ")
	args := make([]any, 0, len(records)*4)
	for i, r := range records {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3, len(args)+4)
		args = append(args, int64(r.TowerID), r.Sample.Timestamp, int64(r.Sample.Level), r.Sample.PumpOn)
	}
	b.WriteString(" ON CONFLICT (tower_id, ts) DO NOTHING")

	if _, err := a.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	return nil
}

// Range returns samples for a tower, oldest first.
func (a *PostgresArchive) Range(ctx context.Context, towerID uint8, since time.Time) ([]models.HistorySample, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT ts, level, pump_on FROM tower_history WHERE tower_id = $1 AND ts >= $2 ORDER BY ts ASC",
		int64(towerID), since)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var samples []models.HistorySample
	for rows.Next() {
		var (
			s     models.HistorySample
			level int64
		)
		if err := rows.Scan(&s.Timestamp, &level, &s.PumpOn); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		s.Level = uint8(level)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Prune deletes samples older than before.
func (a *PostgresArchive) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM tower_history WHERE ts < $1", before)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping verifies the connection.
func (a *PostgresArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the connection pool.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
