package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the subset of *tgbotapi.BotAPI used for delivery.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts breach summaries to a Telegram chat.
type TelegramNotifier struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramNotifier authenticates against the Bot API and returns a
// notifier for chatID.
func NewTelegramNotifier(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, chatID, maxRetries, retryDelayBase)
}

func newTelegramNotifier(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*TelegramNotifier, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &TelegramNotifier{
		bot:            bot,
		chatID:         id,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Notify sends one message covering all breaches, retrying with a linear
// backoff.
func (n *TelegramNotifier) Notify(ctx context.Context, breaches []Breach) error {
	if len(breaches) == 0 {
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, formatMessage(breaches))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		_, err := n.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed to send message after %d retries: %w", n.maxRetries, lastErr)
}

func formatMessage(breaches []Breach) string {
	var sb strings.Builder
	sb.WriteString("🚨 *Zone capacity exceeded*\n\n")
	sb.WriteString(fmt.Sprintf("📅 %s\n\n", escapeMarkdownV2(breaches[0].At.Format("2006-01-02 15:04:05"))))
	for _, b := range breaches {
		name := b.ZoneName
		if name == "" {
			name = fmt.Sprintf("Zone %d", b.ZoneID)
		}
		sb.WriteString(fmt.Sprintf("• *%s*: %d visitors \\(limit %d\\)\n",
			escapeMarkdownV2(name), b.Count, b.Threshold))
	}
	return sb.String()
}

// escapeMarkdownV2 escapes the characters Telegram reserves in MarkdownV2.
func escapeMarkdownV2(text string) string {
	var sb strings.Builder
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
