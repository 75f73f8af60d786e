// Package bot is the admin remote control: it polls a chat channel for
// commands from one trusted chat and applies them through AccountService.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playbell/apiserver/internal/notify"
	"github.com/playbell/apiserver/internal/services"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

// Accounts is the subset of AccountService the bot drives.
type Accounts interface {
	List(ctx context.Context) ([]types.Account, error)
	ListPending(ctx context.Context) ([]types.Account, error)
	ListVerified(ctx context.Context) ([]types.Account, error)
	SetVerified(ctx context.Context, username string, verified bool) (types.Account, error)
	SetRole(ctx context.Context, username string, role types.Role) (types.Account, error)
	ResetPasswordAdmin(ctx context.Context, username, password string) (types.Account, error)
	DeleteAccount(ctx context.Context, username string) (types.Account, error)
}

// Cursor persists the next update offset.
type Cursor interface {
	Get(ctx context.Context) (int64, error)
	Set(ctx context.Context, offset int64) error
}

type Bot struct {
	channel  Channel
	accounts Accounts
	cursor   Cursor
	chatID   int64
}

func New(channel Channel, accounts Accounts, cursor Cursor, trustedChatID int64) *Bot {
	return &Bot{
		channel:  channel,
		accounts: accounts,
		cursor:   cursor,
		chatID:   trustedChatID,
	}
}

const (
	msgUnauthorized = "❌ *You are not authorized to use this bot.*"
	msgNotFound     = "❌ *User not found.*"
	msgUnknown      = "❓ Unknown command.\nUse `/help` to see available commands."
	msgFailed       = "⚠️ Command failed, check the server log."
	msgHelp         = "*PlayBell Admin Bot*\n\n" +
		"Available commands:\n" +
		"• `/users` – Show *all* users (role + verified)\n" +
		"• `/pusers` – Show *pending* (not verified) users\n" +
		"• `/vusers` – Show *verified* users\n" +
		"• `/verify username` – Verify a user\n" +
		"• `/unverify username` – Remove verification\n" +
		"• `/promote username admin|superadmin` – Change role\n" +
		"• `/reset username newpassword` – Reset password\n" +
		"• `/deleteuser username` – Delete user (except superadmin)"
	msgStarted = "🚀 *PlayBell Server Started*\n\n" +
		"🟢 Status: Online\n" +
		"🛠 Panel: Web + Telegram Admin Controls Ready"
)

// Announce tells the trusted chat that the server is up.
func (b *Bot) Announce(ctx context.Context) error {
	return b.channel.Send(ctx, b.chatID, msgStarted)
}

// Poll runs one iteration: fetch pending updates, answer each one and move
// the persisted cursor past it.
func (b *Bot) Poll(ctx context.Context) error {
	offset, err := b.cursor.Get(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	updates, err := b.channel.Updates(ctx, offset)
	if err != nil {
		return err
	}

	for _, u := range updates {
		b.handle(ctx, u)
		if err := b.cursor.Set(ctx, u.ID+1); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	return nil
}

func (b *Bot) handle(ctx context.Context, u Update) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	if u.ChatID != b.chatID {
		logger.Warningf("bot: rejected command from chat %d", u.ChatID)
		b.reply(ctx, u.ChatID, msgUnauthorized)
		return
	}
	logger.Infof("bot: command %q", commandName(text))
	b.reply(ctx, u.ChatID, b.Execute(ctx, text))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.channel.Send(ctx, chatID, text); err != nil {
		logger.Warningf("bot: reply to %d: %v", chatID, err)
	}
}

// Execute runs one command line and returns the reply text.
func (b *Bot) Execute(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return msgUnknown
	}
	args := fields[1:]

	switch commandName(text) {
	case "/start", "/help":
		return msgHelp
	case "/users":
		return b.listUsers(ctx)
	case "/pusers":
		return b.listPending(ctx)
	case "/vusers":
		return b.listVerified(ctx)
	case "/verify":
		return b.setVerified(ctx, args, true)
	case "/unverify":
		return b.setVerified(ctx, args, false)
	case "/promote":
		return b.promote(ctx, args)
	case "/reset":
		return b.resetPassword(ctx, args)
	case "/deleteuser":
		return b.deleteUser(ctx, args)
	default:
		return msgUnknown
	}
}

// commandName strips an @botname suffix from the first word.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name)
}

func (b *Bot) listUsers(ctx context.Context) string {
	accounts, err := b.accounts.List(ctx)
	if err != nil {
		return b.failed("list users", err)
	}
	if len(accounts) == 0 {
		return "ℹ️ *No users found in database.*"
	}
	var sb strings.Builder
	sb.WriteString("*👥 All Users:*\n\n")
	for _, a := range accounts {
		fmt.Fprintf(&sb, "• *%s* (%s)\n   Role: `%s` | Verified: %s\n\n",
			md(a.Username), md(orDash(a.Name)), a.Role, check(a.Verified))
	}
	return sb.String()
}

func (b *Bot) listPending(ctx context.Context) string {
	accounts, err := b.accounts.ListPending(ctx)
	if err != nil {
		return b.failed("list pending users", err)
	}
	if len(accounts) == 0 {
		return "✅ *No pending users for verification.*"
	}
	var sb strings.Builder
	sb.WriteString("🕒 *Pending Users:*\n\n")
	for _, a := range accounts {
		fmt.Fprintf(&sb, "• *%s* (%s)\n", md(a.Username), md(orDash(a.Name)))
	}
	return sb.String()
}

func (b *Bot) listVerified(ctx context.Context) string {
	accounts, err := b.accounts.ListVerified(ctx)
	if err != nil {
		return b.failed("list verified users", err)
	}
	if len(accounts) == 0 {
		return "ℹ️ *No verified users yet.*"
	}
	var sb strings.Builder
	sb.WriteString("✅ *Verified Users:*\n\n")
	for _, a := range accounts {
		fmt.Fprintf(&sb, "• *%s* (%s) – `%s`\n", md(a.Username), md(orDash(a.Name)), a.Role)
	}
	return sb.String()
}

func (b *Bot) setVerified(ctx context.Context, args []string, verified bool) string {
	if len(args) < 1 {
		if verified {
			return "❌ Usage: `/verify username`"
		}
		return "❌ Usage: `/unverify username`"
	}
	username := args[0]
	if _, err := b.accounts.SetVerified(ctx, username, verified); err != nil {
		return b.accountError("verify", err)
	}
	if verified {
		logger.Infof("bot: verified %s", username)
		return fmt.Sprintf("✅ *%s* has been *verified* successfully.", md(username))
	}
	logger.Infof("bot: unverified %s", username)
	return fmt.Sprintf("⚠️ *%s* has been *unverified*.", md(username))
}

func (b *Bot) promote(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "❌ Usage: `/promote username admin|superadmin`"
	}
	username, role := args[0], types.Role(strings.ToLower(args[1]))
	if role != types.RoleAdmin && role != types.RoleSuperadmin {
		return "❌ Role must be `admin` or `superadmin`.\nExample: `/promote test admin`"
	}
	if _, err := b.accounts.SetRole(ctx, username, role); err != nil {
		if errors.Is(err, services.ErrForbidden) {
			return "❌ Cannot demote the last *superadmin*."
		}
		return b.accountError("promote", err)
	}
	logger.Infof("bot: %s promoted to %s", username, role)
	return fmt.Sprintf("✅ *%s* has been promoted to *%s*.", md(username), role)
}

func (b *Bot) resetPassword(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "❌ Usage: `/reset username newpassword`"
	}
	username := args[0]
	if _, err := b.accounts.ResetPasswordAdmin(ctx, username, args[1]); err != nil {
		if errors.Is(err, services.ErrPasswordTooShort) {
			return "❌ Password is too short."
		}
		if errors.Is(err, services.ErrPasswordTooLong) {
			return "❌ Password is too long."
		}
		return b.accountError("reset password", err)
	}
	logger.Infof("bot: password reset for %s", username)
	return fmt.Sprintf("✅ Password for *%s* has been updated.", md(username))
}

func (b *Bot) deleteUser(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "❌ Usage: `/deleteuser username`"
	}
	username := args[0]
	if _, err := b.accounts.DeleteAccount(ctx, username); err != nil {
		if errors.Is(err, services.ErrForbidden) {
			return "❌ Cannot delete a *superadmin*."
		}
		return b.accountError("delete user", err)
	}
	logger.Infof("bot: deleted %s", username)
	return fmt.Sprintf("🗑️ User *%s* has been *deleted* successfully.", md(username))
}

func (b *Bot) accountError(op string, err error) string {
	if errors.Is(err, services.ErrNotFound) {
		return msgNotFound
	}
	return b.failed(op, err)
}

func (b *Bot) failed(op string, err error) string {
	logger.Errorf("bot: %s: %v", op, err)
	return msgFailed
}

func md(s string) string { return notify.EscapeMarkdown(s) }

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func check(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
