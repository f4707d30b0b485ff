package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func record(tower uint8, hour int, level uint8) history.Record {
	return history.Record{
		TowerID: tower,
		Sample:  models.HistorySample{Timestamp: base.Add(time.Duration(hour) * time.Hour), Level: level},
	}
}

func openTestBolt(t *testing.T) *BoltArchive {
	t.Helper()
	a, err := OpenBolt(filepath.Join(t.TempDir(), "archive.db"), quietLogger())
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestBoltAppendAndRange(t *testing.T) {
	a := openTestBolt(t)
	ctx := context.Background()

	err := a.Append(ctx, []history.Record{record(1, 2, 30), record(1, 0, 10), record(2, 1, 99), record(1, 1, 20)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	// Duplicates are ignored.
	if err := a.Append(ctx, []history.Record{record(1, 1, 77)}); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}

	got, err := a.Range(ctx, 1, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 2 || got[0].Level != 20 || got[1].Level != 30 {
		t.Fatalf("unexpected range %+v", got)
	}

	none, err := a.Range(ctx, 9, base)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty range for unknown tower, got %v %v", none, err)
	}
}

func TestBoltPrune(t *testing.T) {
	a := openTestBolt(t)
	ctx := context.Background()
	a.Append(ctx, []history.Record{record(1, 0, 1), record(1, 1, 2), record(2, 0, 3), record(2, 5, 4)})

	removed, err := a.Prune(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	got, _ := a.Range(ctx, 2, base)
	if len(got) != 1 || got[0].Level != 4 {
		t.Fatalf("unexpected remaining samples %+v", got)
	}
}

// **Feature: tower-controller, Property 11: Archive range queries are ordered**
func TestBoltRangeOrdered(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("range returns samples in time order", prop.ForAll(
		func(hours []int) bool {
			a := openTestBolt(t)
			records := make([]history.Record, 0, len(hours))
			for _, h := range hours {
				records = append(records, record(1, h, uint8(h%100)))
			}
			if err := a.Append(context.Background(), records); err != nil {
				return false
			}
			got, err := a.Range(context.Background(), 1, base)
			if err != nil {
				return false
			}
			for i := 1; i < len(got); i++ {
				if !got[i-1].Timestamp.Before(got[i].Timestamp) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 500)),
	))

	properties.TestingRun(t)
}

func TestPostgresAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	a := NewPostgres(db, quietLogger())
	r1, r2 := record(1, 0, 40), record(2, 0, 55)

	query := regexp.QuoteMeta("INSERT INTO tower_history (tower_id, ts, level, pump_on) VALUES ($1,$2,$3,$4),($5,$6,$7,$8) ON CONFLICT (tower_id, ts) DO NOTHING")
	mock.ExpectExec(query).
		WithArgs(int64(1), r1.Sample.Timestamp, int64(40), false, int64(2), r2.Sample.Timestamp, int64(55), false).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := a.Append(context.Background(), []history.Record{r1, r2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAppendEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if err := NewPostgres(db, quietLogger()).Append(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"ts", "level", "pump_on"}).
		AddRow(base, int64(12), true).
		AddRow(base.Add(time.Hour), int64(35), false)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT ts, level, pump_on FROM tower_history WHERE tower_id = $1 AND ts >= $2 ORDER BY ts ASC")).
		WithArgs(int64(3), base).
		WillReturnRows(rows)

	got, err := NewPostgres(db, quietLogger()).Range(context.Background(), 3, base)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 2 || got[0].Level != 12 || !got[0].PumpOn || got[1].Level != 35 {
		t.Fatalf("unexpected samples %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresPrune(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tower_history WHERE ts < $1")).
		WithArgs(base).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := NewPostgres(db, quietLogger()).Prune(context.Background(), base)
	if err != nil || n != 7 {
		t.Fatalf("expected 7 pruned, got %d %v", n, err)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	a, err := Open(Config{Kind: KindNone}, quietLogger())
	if err != nil {
		t.Fatalf("open none: %v", err)
	}
	if _, err := a.Range(context.Background(), 1, base); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := Open(Config{Kind: "s3"}, quietLogger()); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

type memArchive struct {
	Nop
	mu      sync.Mutex
	batches [][]history.Record
}

func (m *memArchive) Append(_ context.Context, r []history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, r)
	return nil
}

func TestWriterFlushesOnStop(t *testing.T) {
	mem := &memArchive{}
	w := NewWriter(mem, DefaultWriterConfig(), quietLogger())
	w.Start(context.Background())

	for i := range 5 {
		if !w.Submit([]history.Record{record(1, i, 1)}) {
			t.Fatal("submit dropped")
		}
	}
	w.Stop()

	mem.mu.Lock()
	defer mem.mu.Unlock()
	if len(mem.batches) != 5 {
		t.Fatalf("expected 5 batches archived, got %d", len(mem.batches))
	}
}

func TestWriterDropsWhenFull(t *testing.T) {
	w := NewWriter(&memArchive{}, WriterConfig{QueueSize: 1}, quietLogger())
	w.Submit([]history.Record{record(1, 0, 1)})
	if w.Submit([]history.Record{record(1, 1, 1)}) {
		t.Fatal("expected second submit to be dropped")
	}
	if w.Dropped() != 1 {
		t.Fatalf("expected 1 dropped batch, got %d", w.Dropped())
	}
}
