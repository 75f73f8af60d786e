package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Update is one inbound message on the command channel.
type Update struct {
	ID     int64
	ChatID int64
	Text   string
}

// Channel is the transport the bot polls and replies on.
type Channel interface {
	// Updates returns updates with ID >= offset.
	Updates(ctx context.Context, offset int64) ([]Update, error)
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramChannel polls the Telegram Bot API with getUpdates.
type TelegramChannel struct {
	bot *telego.Bot
}

func NewTelegramChannel(bot *telego.Bot) *TelegramChannel {
	return &TelegramChannel{bot: bot}
}

func (c *TelegramChannel) Updates(ctx context.Context, offset int64) ([]Update, error) {
	updates, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:         int(offset),
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram get updates: %w", err)
	}

	out := make([]Update, 0, len(updates))
	for _, u := range updates {
		update := Update{ID: int64(u.UpdateID)}
		if u.Message != nil {
			update.ChatID = u.Message.Chat.ID
			update.Text = u.Message.Text
		}
		out = append(out, update)
	}
	return out, nil
}

func (c *TelegramChannel) Send(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    tu.ID(chatID),
		Text:      text,
		ParseMode: telego.ModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
