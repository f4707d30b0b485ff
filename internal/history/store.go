package history

import (
	"iter"
	"time"

	"github.com/narvanalabs/tower-controller/internal/models"
)

// Recorder is anything that owns a history ring and can describe its current state.
type Recorder interface {
	ID() uint8
	HistoryRing() *Ring
	Sample(at time.Time) models.HistorySample
}

// Record is one sample written during a snapshot, tagged with its tower.
type Record struct {
	TowerID uint8
	Sample  models.HistorySample
}

// Snapshot writes one sample per recorder and returns what was written.
func Snapshot[R Recorder](recorders iter.Seq[R], at time.Time) []Record {
	var written []Record
	for rec := range recorders {
		s := rec.Sample(at)
		rec.HistoryRing().Write(s)
		written = append(written, Record{TowerID: rec.ID(), Sample: s})
	}
	return written
}
