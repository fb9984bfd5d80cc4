package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

// messageSender is the part of the Telegram client used for notifications.
type messageSender interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

// Telegram posts notifications to one Telegram chat.
type Telegram struct {
	sender messageSender
	chatID int64
	log    logrus.FieldLogger
}

// NewTelegram creates a notifier for chatID using the bot token.
func NewTelegram(token string, chatID int64, logger logrus.FieldLogger) (*Telegram, error) {
	log := logger.WithField("component", "telegram")

	b, err := tgbot.New(token)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.WithField("chat_id", chatID).Info("Telegram notifier initialized")
	return &Telegram{sender: b, chatID: chatID, log: log}, nil
}

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	_, err := t.sender.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: t.chatID,
		Text:   message,
	})
	if err != nil {
		t.log.WithError(err).Warn("Failed to send Telegram message")
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
