// Package notifier implements C10's chat-delivery sink: a LogNotifier for
// development, a Telegram adapter, a webhook adapter, and a HealthPinger
// wrapper that dedups operational error notifications to at most one per
// error-kind per trading day (spec §7). Adapted from the teacher's
// internal/notification package — same three-adapter shape — but the
// Telegram adapter is rebuilt on github.com/go-telegram-bot-api/telegram-bot-api/v5
// instead of the teacher's hand-rolled HTTP POST, and every adapter now
// satisfies model.Notifier's tags-map signature instead of the teacher's
// level/title/message Alert struct.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nsewatch/internal/clock"
)

// LogNotifier logs every send; useful for development and as the always-on
// fallback alongside a real channel.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, payload string, tags map[string]string) error {
	if n.log != nil {
		n.log.Info("notify", slog.String("payload", payload), slog.Any("tags", tags))
	}
	return nil
}

// TelegramNotifier delivers alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier builds a TelegramNotifier from a bot token and target
// chat ID.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notifier: telegram init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, payload string, tags map[string]string) error {
	msg := tgbotapi.NewMessage(t.chatID, payload)
	_, err := t.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("notifier: telegram send: %w", err)
	}
	return nil
}

// WebhookNotifier posts alerts as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a WebhookNotifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Send(ctx context.Context, payload string, tags map[string]string) error {
	body, err := json.Marshal(map[string]interface{}{
		"payload": payload,
		"tags":    tags,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("notifier: webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: webhook unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Fanout sends to every wrapped notifier, best-effort (matches
// model.Notifier's own best-effort contract — the first error is returned
// to the caller but every notifier is still attempted).
type Fanout struct {
	notifiers []notifierWithName
	log       *slog.Logger
}

type notifierWithName struct {
	name string
	send func(context.Context, string, map[string]string) error
}

// NewFanout wires named notifiers together. name is used only for logging.
func NewFanout(log *slog.Logger) *Fanout {
	return &Fanout{log: log}
}

// Add registers a notifier under name.
func (f *Fanout) Add(name string, n interface {
	Send(ctx context.Context, payload string, tags map[string]string) error
}) {
	f.notifiers = append(f.notifiers, notifierWithName{name: name, send: n.Send})
}

func (f *Fanout) Send(ctx context.Context, payload string, tags map[string]string) error {
	var firstErr error
	for _, n := range f.notifiers {
		if err := n.send(ctx, payload, tags); err != nil {
			if f.log != nil {
				f.log.Error("notifier: send failed", slog.String("notifier", n.name), slog.Any("err", err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// HealthPinger wraps a Notifier so operational error messages (as opposed
// to trading alerts) are deduplicated to at most one per error-kind per
// trading day (spec §7).
type HealthPinger struct {
	inner interface {
		Send(ctx context.Context, payload string, tags map[string]string) error
	}
	clk *clock.Clock

	mu   sync.Mutex
	sent map[string]string // error kind -> trade date last sent
}

// NewHealthPinger builds a HealthPinger around inner.
func NewHealthPinger(inner interface {
	Send(ctx context.Context, payload string, tags map[string]string) error
}, clk *clock.Clock) *HealthPinger {
	return &HealthPinger{inner: inner, clk: clk, sent: make(map[string]string)}
}

// PingError sends a deduplicated operational error notification. kind
// identifies the error class (e.g. "redis_down", "provider_timeout").
func (p *HealthPinger) PingError(ctx context.Context, kind, message string, now time.Time) error {
	today := p.clk.TradeDate(now)

	p.mu.Lock()
	if p.sent[kind] == today {
		p.mu.Unlock()
		return nil
	}
	p.sent[kind] = today
	p.mu.Unlock()

	return p.inner.Send(ctx, message, map[string]string{"kind": kind})
}
