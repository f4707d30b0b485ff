// Package events fans controller events out to live subscribers.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/tower-controller/internal/models"
)

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 64

// Filter narrows what a subscriber receives.
type Filter struct {
	TowerID      uint8 // 0 for all towers
	CriticalOnly bool
}

// Subscriber represents an event stream subscriber.
type Subscriber struct {
	ID        string
	Filter    Filter
	Ch        chan models.Event
	CreatedAt time.Time
}

// Broker manages subscriptions and publishing. Publish never blocks: a
// subscriber whose channel is full misses the event.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe(filter Filter) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.NewString(),
		Filter:    filter,
		Ch:        make(chan models.Event, DefaultBuffer),
		CreatedAt: time.Now(),
	}
	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "tower_id", filter.TowerID)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends an event to every matching subscriber.
func (b *Broker) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.Filter.matches(ev) {
			continue
		}
		select {
		case sub.Ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"event_type", string(ev.Type),
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns the number of events dropped on full subscriber channels.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes everyone.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
	return nil
}

func (f Filter) matches(ev models.Event) bool {
	if f.TowerID != 0 && ev.TowerID != 0 && f.TowerID != ev.TowerID {
		return false
	}
	if f.CriticalOnly && !ev.Critical() {
		return false
	}
	return true
}
