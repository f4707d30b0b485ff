package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/narvanalabs/tower-controller/internal/events"
	"github.com/narvanalabs/tower-controller/internal/models"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyCooldown(t *testing.T) {
	bot := &fakeBot{}
	n := New(bot, 42, time.Minute, quietLogger())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	ev := models.Event{Type: models.EventTowerOffline, TowerID: 3, Message: "tower offline"}
	if !n.Notify(ev) {
		t.Fatal("first alert not sent")
	}
	if n.Notify(ev) {
		t.Fatal("repeat alert sent within cooldown")
	}
	now = now.Add(2 * time.Minute)
	if !n.Notify(ev) {
		t.Fatal("alert not sent after cooldown")
	}
	if bot.count() != 2 || !strings.Contains(bot.sent[0], "Tower 3") {
		t.Fatalf("unexpected messages %v", bot.sent)
	}
}

func TestNotifySendFailureDoesNotArmCooldown(t *testing.T) {
	bot := &fakeBot{err: errors.New("network down")}
	n := New(bot, 42, time.Hour, quietLogger())
	ev := models.Event{Type: models.EventWellWater, Message: "well water shortage"}

	if n.Notify(ev) {
		t.Fatal("failed send reported as sent")
	}
	bot.err = nil
	if !n.Notify(ev) {
		t.Fatal("alert suppressed after failed send")
	}
}

func TestStartForwardsCriticalEventsOnly(t *testing.T) {
	bot := &fakeBot{}
	broker := events.NewBroker(quietLogger())
	n := New(bot, 1, time.Minute, quietLogger())
	n.Start(context.Background(), broker)

	broker.Publish(models.Event{Type: models.EventPumpChanged, TowerID: 1, Message: "pump on"})
	broker.Publish(models.Event{Type: models.EventAlarm, TowerID: 1, Message: "low water"})

	deadline := time.Now().Add(time.Second)
	for bot.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	n.Stop()

	if bot.count() != 1 {
		t.Fatalf("expected exactly the alarm to be sent, got %v", bot.sent)
	}
}
