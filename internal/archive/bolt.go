package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/models"
)

// BoltArchive stores samples in a local bbolt file, one bucket per tower,
// keyed by big-endian unix milliseconds so cursor order is time order.
type BoltArchive struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBolt opens or creates the archive file.
func OpenBolt(path string, logger *slog.Logger) (*BoltArchive, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt archive path is required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	logger.Info("opened local archive", "path", path)
	return &BoltArchive{db: db, logger: logger}, nil
}

func bucketName(towerID uint8) []byte {
	return []byte(fmt.Sprintf("tower-%03d", towerID))
}

func timeKey(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixMilli()))
	return k
}

// Append stores the records in one transaction.
func (a *BoltArchive) Append(_ context.Context, records []history.Record) error {
	if len(records) == 0 {
		return nil
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		for _, r := range records {
			b, err := tx.CreateBucketIfNotExists(bucketName(r.TowerID))
			if err != nil {
				return fmt.Errorf("creating bucket for tower %d: %w", r.TowerID, err)
			}
			key := timeKey(r.Sample.Timestamp)
			if b.Get(key) != nil {
				continue
			}
			val, err := json.Marshal(r.Sample)
			if err != nil {
				return fmt.Errorf("marshal sample: %w", err)
			}
			if err := b.Put(key, val); err != nil {
				return fmt.Errorf("storing sample: %w", err)
			}
		}
		return nil
	})
}

// Range scans the tower bucket from since.
func (a *BoltArchive) Range(_ context.Context, towerID uint8, since time.Time) ([]models.HistorySample, error) {
	var samples []models.HistorySample
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(towerID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(timeKey(since)); k != nil; k, v = c.Next() {
			var s models.HistorySample
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decoding sample: %w", err)
			}
			samples = append(samples, s)
		}
		return nil
	})
	return samples, err
}

// Prune removes samples older than before from every tower bucket.
func (a *BoltArchive) Prune(_ context.Context, before time.Time) (int, error) {
	removed := 0
	limit := timeKey(before)
	err := a.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			var stale [][]byte
			c := b.Cursor()
			for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.Next() {
				stale = append(stale, append([]byte(nil), k...))
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			removed += len(stale)
			return nil
		})
	})
	return removed, err
}

// Ping checks the database is still open.
func (a *BoltArchive) Ping(context.Context) error {
	return a.db.View(func(*bolt.Tx) error { return nil })
}

// Close closes the file.
func (a *BoltArchive) Close() error {
	return a.db.Close()
}
