package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram posts alerts to a single chat through the Bot API.
type Telegram struct {
	bot    *tele.Bot
	chat   tele.ChatID
	logger *zap.Logger
}

// NewTelegram builds an offline bot that only sends; it never polls for updates.
// apiURL may be empty to use the public Bot API.
func NewTelegram(token string, chatID int64, apiURL string, logger *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram notifier needs a token and chat id")
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chat: tele.ChatID(chatID), logger: logger}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(t.chat, text, tele.ModeHTML); err != nil {
		t.logger.Warn("Telegram notify failed", zap.Error(err))
		return err
	}
	return nil
}

// New returns a Telegram notifier when a token is configured, Nop otherwise.
func New(token string, chatID int64, logger *zap.Logger) Notifier {
	if token == "" {
		return Nop{}
	}
	tg, err := NewTelegram(token, chatID, "", logger)
	if err != nil {
		logger.Warn("Telegram notifier disabled", zap.Error(err))
		return Nop{}
	}
	return tg
}

// RunFailed formats the alert for a failed integration run.
func RunFailed(integrationName, integrationType, integrationID string, attempt int, final bool, runErr error, at time.Time) string {
	var b strings.Builder
	b.WriteString("<b>Integration run failed</b>\n")
	fmt.Fprintf(&b, "Integration: %s (%s)\n", html.EscapeString(integrationName), html.EscapeString(integrationType))
	fmt.Fprintf(&b, "ID: <code>%s</code>\n", html.EscapeString(integrationID))
	fmt.Fprintf(&b, "Attempt: %d", attempt)
	if final {
		b.WriteString(" (giving up)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "At: %s\n", at.UTC().Format(time.RFC3339))
	if runErr != nil {
		fmt.Fprintf(&b, "Error: <code>%s</code>", html.EscapeString(runErr.Error()))
	}
	return b.String()
}
