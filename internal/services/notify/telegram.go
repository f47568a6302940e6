package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramNotifier pushes fulfillment failures to the operator chat. Delivery
// is best effort: a dead bot token must never block or fail a payment flow.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &TelegramNotifier{
		api:    api,
		chatID: chatID,
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) FulfillmentFailed(_ context.Context, paymentID int64, resellerUsername string, credits int, reason string) {
	if n == nil || n.api == nil {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, failureMessage(paymentID, resellerUsername, credits, reason))
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn("send fulfillment failure notification",
			zap.Int64("payment_id", paymentID),
			zap.Error(err),
		)
	}
}

func failureMessage(paymentID int64, resellerUsername string, credits int, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	// Telegram message limit is 4096; keep the remote error tail short.
	if len(reason) > 500 {
		reason = reason[:500] + "…"
	}

	return fmt.Sprintf(
		"⚠️ Fulfillment failed\npayment: #%d\nreseller: %s\ncredits: %d\nreason: %s",
		paymentID, resellerUsername, credits, reason,
	)
}
