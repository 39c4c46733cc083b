package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramTimeout caps one Bot API round trip when the caller's context
// carries no earlier deadline.
const telegramTimeout = 10 * time.Second

// TelegramSink sends alerts to one chat through a bot.
type TelegramSink struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegramSink authenticates the bot token with Telegram.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	return newTelegramSink(token, tgbot.APIEndpoint, chatID)
}

func newTelegramSink(token, endpoint string, chatID int64) (*TelegramSink, error) {
	b, err := tgbot.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: telegramTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSink{bot: b, chatID: chatID}, nil
}

// Send delivers message or gives up when ctx ends. The bot client has no
// context support, so an abandoned request finishes in the background within
// telegramTimeout.
func (t *TelegramSink) Send(ctx context.Context, message string) error {
	errc := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tgbot.NewMessage(t.chatID, message))
		errc <- err
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: %w", ctx.Err())
	}
}
