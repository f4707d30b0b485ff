// Package registry keeps the bounded set of known tower nodes.
package registry

import (
	"errors"
	"fmt"
	"iter"

	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/protocol"
)

// DefaultCapacity is the number of towers one controller serves.
const DefaultCapacity = 8

// Registry errors.
var (
	// ErrCapacityExceeded is returned when an unseen id arrives and every slot is taken.
	ErrCapacityExceeded = errors.New("registry capacity exceeded")

	// ErrInvalidID is returned for the controller address and the reserved address.
	ErrInvalidID = errors.New("invalid tower id")
)

// AlarmLevels are the water levels at which local alarms are raised.
type AlarmLevels struct {
	LowWater uint8
	Overflow uint8
}

// DefaultAlarmLevels returns the default alarm thresholds.
func DefaultAlarmLevels() AlarmLevels {
	return AlarmLevels{LowWater: 10, Overflow: 95}
}

// Config holds registry configuration.
type Config struct {
	Capacity        int
	HistoryCapacity int
	Alarms          AlarmLevels
}

// DefaultConfig returns a Config with the standard sizes.
func DefaultConfig() Config {
	return Config{
		Capacity:        DefaultCapacity,
		HistoryCapacity: history.DefaultCapacity,
		Alarms:          DefaultAlarmLevels(),
	}
}

// Registry is a fixed-capacity arena of nodes with an id index.
// It is not safe for concurrent use; the control loop owns it.
type Registry struct {
	slots           []*Node
	index           map[uint8]int
	historyCapacity int
	alarms          AlarmLevels
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = history.DefaultCapacity
	}
	return &Registry{
		slots:           make([]*Node, 0, cfg.Capacity),
		index:           make(map[uint8]int, cfg.Capacity),
		historyCapacity: cfg.HistoryCapacity,
		alarms:          cfg.Alarms,
	}
}

// LookupOrRegister returns the node for id, allocating a slot on first sight.
// When the registry is full it fails with ErrCapacityExceeded and changes nothing.
func (r *Registry) LookupOrRegister(id uint8) (*Node, error) {
	if n, ok := r.Get(id); ok {
		return n, nil
	}
	if id == protocol.ControllerID || id > protocol.MaxNodeID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if len(r.slots) == cap(r.slots) {
		return nil, fmt.Errorf("%w: %d of %d slots used, tower %d rejected", ErrCapacityExceeded, len(r.slots), cap(r.slots), id)
	}

	slot := len(r.slots)
	n := newNode(id, slot, r.historyCapacity)
	r.slots = append(r.slots, n)
	r.index[id] = slot
	return n, nil
}

// Get returns the node for id without allocating.
func (r *Registry) Get(id uint8) (*Node, bool) {
	slot, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.slots[slot], true
}

// All yields nodes in registration order.
func (r *Registry) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, n := range r.slots {
			if !yield(n) {
				return
			}
		}
	}
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	return len(r.slots)
}

// Cap returns the registry capacity.
func (r *Registry) Cap() int {
	return cap(r.slots)
}

// AlarmLevels returns the configured alarm thresholds.
func (r *Registry) AlarmLevels() AlarmLevels {
	return r.alarms
}

// Snapshot returns read-only copies of all nodes in registration order.
func (r *Registry) Snapshot() []models.Tower {
	towers := make([]models.Tower, 0, len(r.slots))
	for _, n := range r.slots {
		towers = append(towers, n.Snapshot(r.alarms))
	}
	return towers
}
