package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/playbell/apiserver/config"
	"github.com/playbell/apiserver/internal/mq"
	"github.com/playbell/apiserver/internal/notify"
	"github.com/playbell/apiserver/types"
)

func TestOpenStoreFileBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Dir = t.TempDir()
	cfg.Auth.BcryptCost = 4

	st, closeStore, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()

	accounts := NewAccountService(cfg, st, nil)
	cfg.Auth.SuperadminPassword = "rootpass"
	if err := seedSuperadmin(context.Background(), cfg.Auth, accounts); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := seedSuperadmin(context.Background(), cfg.Auth, accounts); err != nil {
		t.Fatalf("second seed should be a no-op: %v", err)
	}
	all, err := accounts.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Role != types.RoleSuperadmin || !all[0].Verified {
		t.Fatalf("unexpected accounts after seeding: %+v", all)
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Driver = "sqlite"
	if _, _, err := OpenStore(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestNewTelegramDisabledWithoutToken(t *testing.T) {
	tg, chatID, err := newTelegram(config.TelegramConfig{ChatID: "42"})
	if err != nil || tg != nil || chatID != 0 {
		t.Fatalf("expected disabled bot, got %v %d %v", tg, chatID, err)
	}
}

func TestNewTelegramRejectsBadChatID(t *testing.T) {
	_, _, err := newTelegram(config.TelegramConfig{BotToken: "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi", ChatID: "not-a-number"})
	if err == nil {
		t.Fatalf("expected invalid chat id to fail")
	}
}

type slowChat struct {
	mu    sync.Mutex
	songs []string
}

func (c *slowChat) SendVerification(context.Context, types.AccountView, string) error { return nil }
func (c *slowChat) SendPasswordReset(context.Context, types.AccountView, string) error { return nil }
func (c *slowChat) NewAccount(context.Context, types.AccountView) error { return nil }

func (c *slowChat) SongRequest(_ context.Context, req types.SongRequest) error {
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.songs = append(c.songs, req.Title)
	return nil
}

func TestRunDeliversBufferedEventsOnShutdown(t *testing.T) {
	queue := mq.NewMemory()
	chat := &slowChat{}
	s := &Server{
		httpServer: &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()},
		queue:      queue,
		channel:    "events",
		dispatcher: notify.NewDispatcher(queue, "events"),
		deliverer:  notify.NewDeliverer(chat, chat),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	const total = 40
	for i := 0; i < total; i++ {
		s.dispatcher.NotifySongRequest(types.SongRequest{Title: fmt.Sprintf("song-%d", i)})
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("Run did not return")
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.songs) != total {
		t.Fatalf("expected %d delivered events, got %d", total, len(chat.songs))
	}
}
