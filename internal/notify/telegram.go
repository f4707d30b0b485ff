// Package notify forwards critical controller events to operators over Telegram.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/narvanalabs/tower-controller/internal/events"
	"github.com/narvanalabs/tower-controller/internal/models"
)

// DefaultCooldown suppresses repeats of the same alert.
const DefaultCooldown = 10 * time.Minute

// Bot is the part of the Telegram client the notifier uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends one chat message per critical event.
type Notifier struct {
	bot      Bot
	chatID   int64
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	lastSent map[string]time.Time
	sub      *events.Subscriber
	broker   *events.Broker
	wg       sync.WaitGroup
}

// NewTelegram connects to the Bot API with the given token.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return New(bot, chatID, DefaultCooldown, logger), nil
}

// New creates a notifier around an existing bot.
func New(bot Bot, chatID int64, cooldown time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		bot:      bot,
		chatID:   chatID,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}
}

// Start subscribes to critical events and forwards them until ctx is done or Stop is called.
func (n *Notifier) Start(ctx context.Context, broker *events.Broker) {
	n.broker = broker
	n.sub = broker.Subscribe(events.Filter{CriticalOnly: true})
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case ev, ok := <-n.sub.Ch:
				if !ok {
					return
				}
				n.Notify(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the forwarder to exit.
func (n *Notifier) Stop() {
	if n.broker != nil {
		n.broker.Unsubscribe(n.sub)
	}
	n.wg.Wait()
}

// Notify sends the event unless the same alert went out within the cooldown.
func (n *Notifier) Notify(ev models.Event) bool {
	key := fmt.Sprintf("%s/%d/%s", ev.Type, ev.TowerID, ev.Message)
	now := n.now()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}

	msg := tgbotapi.NewMessage(n.chatID, Format(ev))
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("failed to send telegram alert", "event_type", string(ev.Type), "error", err)
		return false
	}
	n.lastSent[key] = now
	n.logger.Info("telegram alert sent", "event_type", string(ev.Type), "tower_id", ev.TowerID)
	return true
}

// Format renders an event as a chat message.
func Format(ev models.Event) string {
	prefix := "WARNING:"
	if ev.Type == models.EventWellWater || ev.Type == models.EventDegraded {
		prefix = "CRITICAL:"
	}
	if ev.TowerID != 0 {
		return fmt.Sprintf("%s Tower %d: %s", prefix, ev.TowerID, ev.Message)
	}
	return fmt.Sprintf("%s %s", prefix, ev.Message)
}
