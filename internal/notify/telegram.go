package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

// TelegramChat posts admin notices to one Telegram chat. A nil bot or a
// zero chat id disables it.
type TelegramChat struct {
	bot    *telego.Bot
	chatID int64
}

func NewTelegramChat(bot *telego.Bot, chatID int64) *TelegramChat {
	if bot == nil || chatID == 0 {
		logger.Warning("notify: telegram not configured, admin notices disabled")
	}
	return &TelegramChat{bot: bot, chatID: chatID}
}

func (c *TelegramChat) NewAccount(ctx context.Context, acct types.AccountView) error {
	status := "Verified ✅"
	if !acct.Verified {
		status = "Pending ❌"
	}
	text := "🆕 *New User Registered on PlayBell*\n\n" +
		fmt.Sprintf("👤 *Name:* %s\n", orDash(acct.Name)) +
		fmt.Sprintf("🆔 *Username:* %s\n", EscapeMarkdown(acct.Username)) +
		fmt.Sprintf("📧 *Email:* %s\n", orDash(acct.Email)) +
		fmt.Sprintf("📱 *Phone:* %s\n", orDash(acct.Phone)) +
		fmt.Sprintf("✅ *Verified:* %s", status)
	return c.send(ctx, text)
}

func (c *TelegramChat) SongRequest(ctx context.Context, req types.SongRequest) error {
	text := "🎵 *New Song Request*\n\n" +
		fmt.Sprintf("🧑‍🎧 *User:* %s\n", EscapeMarkdown(req.RequestedBy)) +
		fmt.Sprintf("🎼 *Title:* %s\n", EscapeMarkdown(req.Title)) +
		fmt.Sprintf("🎤 *Artist:* %s\n", EscapeMarkdown(req.Artist)) +
		"⏳ *Status:* Pending review"
	return c.send(ctx, text)
}

func (c *TelegramChat) send(ctx context.Context, text string) error {
	if c.bot == nil || c.chatID == 0 {
		return nil
	}
	_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    tu.ID(c.chatID),
		Text:      text,
		ParseMode: telego.ModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdown escapes user text for Telegram's legacy Markdown mode.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return EscapeMarkdown(s)
}
