// Package history keeps the fixed-size periodic history of each tower.
package history

import (
	"iter"
	"time"

	"github.com/narvanalabs/tower-controller/internal/models"
)

// DefaultCapacity holds two days of hourly samples.
const DefaultCapacity = 48

// Ring is a fixed-capacity circular buffer of samples. The oldest sample is
// overwritten once the ring is full.
type Ring struct {
	samples []models.HistorySample
	cursor  int
}

// NewRing creates an empty ring. A non-positive capacity falls back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{samples: make([]models.HistorySample, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.samples)
}

// Cursor returns the slot the next write goes to.
func (r *Ring) Cursor() int {
	return r.cursor
}

// Write stores a sample at the cursor and advances it.
func (r *Ring) Write(s models.HistorySample) {
	r.samples[r.cursor] = s
	r.cursor = (r.cursor + 1) % len(r.samples)
}

// Len returns the number of written slots.
func (r *Ring) Len() int {
	n := 0
	for _, s := range r.samples {
		if !s.IsZero() {
			n++
		}
	}
	return n
}

// Chronological yields samples oldest first, starting at the cursor and
// skipping slots never written. Each range over the sequence walks the ring anew.
func (r *Ring) Chronological() iter.Seq[models.HistorySample] {
	return func(yield func(models.HistorySample) bool) {
		n := len(r.samples)
		for i := 0; i < n; i++ {
			s := r.samples[(r.cursor+i)%n]
			if s.IsZero() {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Since filters a sample sequence to those taken at or after cutoff.
func Since(seq iter.Seq[models.HistorySample], cutoff time.Time) iter.Seq[models.HistorySample] {
	return func(yield func(models.HistorySample) bool) {
		for s := range seq {
			if s.Timestamp.Before(cutoff) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}
