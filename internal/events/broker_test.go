package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/narvanalabs/tower-controller/internal/models"
)

func newTestBroker() *Broker {
	return NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	b := newTestBroker()
	all := b.Subscribe(Filter{})
	tower2 := b.Subscribe(Filter{TowerID: 2})
	critical := b.Subscribe(Filter{CriticalOnly: true})

	b.Publish(models.Event{Type: models.EventPumpChanged, TowerID: 1})
	b.Publish(models.Event{Type: models.EventTowerOffline, TowerID: 2})

	if len(all.Ch) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all.Ch))
	}
	if len(tower2.Ch) != 1 {
		t.Fatalf("tower subscriber got %d events, want 1", len(tower2.Ch))
	}
	if len(critical.Ch) != 1 {
		t.Fatalf("critical subscriber got %d events, want 1", len(critical.Ch))
	}
	if ev := <-critical.Ch; ev.Type != models.EventTowerOffline || ev.Timestamp.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := newTestBroker()
	sub := b.Subscribe(Filter{})
	for range DefaultBuffer + 5 {
		b.Publish(models.Event{Type: models.EventPumpChanged, TowerID: 1})
	}
	if len(sub.Ch) != DefaultBuffer {
		t.Fatalf("expected full channel, got %d", len(sub.Ch))
	}
	if b.Dropped() != 5 {
		t.Fatalf("expected 5 drops, got %d", b.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBroker()
	sub := b.Subscribe(Filter{})
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	if _, open := <-sub.Ch; open {
		t.Fatal("channel still open")
	}
	if b.SubscriberCount() != 0 {
		t.Fatal("subscriber not removed")
	}
}
