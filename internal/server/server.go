package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mymmrac/telego"
	"github.com/playbell/apiserver/config"
	"github.com/playbell/apiserver/internal/bot"
	"github.com/playbell/apiserver/internal/db"
	"github.com/playbell/apiserver/internal/handlers"
	"github.com/playbell/apiserver/internal/mq"
	"github.com/playbell/apiserver/internal/notify"
	"github.com/playbell/apiserver/internal/services"
	"github.com/playbell/apiserver/internal/storage"
	"github.com/playbell/apiserver/internal/store"
	"github.com/playbell/apiserver/logger"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server wires the HTTP API, the notification pipeline and the admin bot
// around one shared store.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux

	queue      mq.Backend
	channel    string
	dispatcher *notify.Dispatcher
	deliverer  *notify.Deliverer
	bot        *bot.Bot
	scheduler  *bot.Scheduler

	closeStore func() error
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{closeStore: closeStore, channel: cfg.MQ.Channel}
	if err := s.init(ctx, cfg, st); err != nil {
		_ = s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context, cfg config.Config, st *store.Store) error {
	sessions, err := handlers.NewSessions(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, cfg.Auth.SecureCookie)
	if err != nil {
		return err
	}

	objects, err := storage.NewObjectStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	assets := storage.NewAssetStore(objects, storage.AudioTypes...)

	s.queue, err = mq.Open(ctx, cfg.MQ)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	s.dispatcher = notify.NewDispatcher(s.queue, s.channel)

	tg, chatID, err := newTelegram(cfg.Telegram)
	if err != nil {
		return err
	}
	s.deliverer = notify.NewDeliverer(
		notify.NewResendMailer(cfg.Email, cfg.PublicURL),
		notify.NewTelegramChat(tg, chatID),
	)

	accounts := NewAccountService(cfg, st, s.dispatcher)
	catalog := services.NewCatalogService(
		store.NewSongRepository(st),
		store.NewRequestRepository(st),
		assets,
		s.dispatcher,
	)

	if err := seedSuperadmin(ctx, cfg.Auth, accounts); err != nil {
		return err
	}

	if tg != nil && chatID != 0 {
		s.bot = bot.New(bot.NewTelegramChannel(tg), accounts, store.NewCursorRepository(st), chatID)
		s.scheduler, err = bot.NewScheduler(s.bot, cfg.Telegram.PollInterval)
		if err != nil {
			return err
		}
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	handlers.Register(router, accounts, catalog, assets, sessions)
	s.router = router

	port := cfg.ServerPort
	if port == 0 {
		port = 3000
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

// OpenStore opens the record store selected by cfg.Store.Driver. The
// returned func releases the backend.
func OpenStore(ctx context.Context, cfg config.Config) (*store.Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "file":
		backend, err := store.NewFileBackend(cfg.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("store: using files under %s", backend.Dir())
		return store.New(backend), func() error { return nil }, nil
	case "postgres":
		if err := db.MigrateUp(cfg.Database); err != nil {
			return nil, nil, err
		}
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		logger.Infof("store: using postgres %s/%s", cfg.Database.Host, cfg.Database.DBName)
		return store.New(store.NewPostgresBackend(conn)), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// NewAccountService builds the account service over st with the configured
// password rules.
func NewAccountService(cfg config.Config, st *store.Store, notifier notify.Notifier) *services.AccountService {
	return services.NewAccountService(store.NewAccountRepository(st), notifier, services.AccountOptions{
		BcryptCost:        cfg.Auth.BcryptCost,
		PasswordMinLength: cfg.Auth.PasswordMinLength,
	})
}

func seedSuperadmin(ctx context.Context, cfg config.AuthConfig, accounts *services.AccountService) error {
	if cfg.SuperadminPassword == "" {
		logger.Info("superadmin: no seed password configured, skipping")
		return nil
	}
	created, err := accounts.EnsureSuperadmin(ctx, cfg.SuperadminUsername, cfg.SuperadminPassword)
	if errors.Is(err, services.ErrDuplicate) {
		logger.Warningf("superadmin: username %q is taken by a non-superadmin account", cfg.SuperadminUsername)
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed superadmin: %w", err)
	}
	if created {
		logger.Infof("superadmin: created %q", cfg.SuperadminUsername)
	}
	return nil
}

// newTelegram returns a nil bot when no token is configured.
func newTelegram(cfg config.TelegramConfig) (*telego.Bot, int64, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		logger.Warning("telegram: TELEGRAM_BOT_TOKEN not set, bot disabled")
		return nil, 0, nil
	}
	var chatID int64
	if raw := strings.TrimSpace(cfg.ChatID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
		chatID = id
	}
	tg, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, 0, fmt.Errorf("create telegram bot: %w", err)
	}
	return tg, chatID, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP and runs the background workers until ctx is done or one
// of them fails, then shuts everything down. Delivery outlives the HTTP
// server so events published by the last requests still go out.
func (s *Server) Run(ctx context.Context) error {
	deliverCtx, stopDelivery := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDelivery()
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		_ = s.deliverer.Run(deliverCtx, s.queue, s.channel)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("http: listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	if s.scheduler != nil {
		g.Go(func() error {
			if err := s.bot.Announce(ctx); err != nil {
				logger.Warningf("bot: announce: %v", err)
			}
			return s.scheduler.Run(ctx)
		})
	}

	err := g.Wait()
	s.dispatcher.Wait()
	s.drain(delivered)
	stopDelivery()
	<-delivered
	if closeErr := s.close(); closeErr != nil {
		logger.Warningf("server: close: %v", closeErr)
	}
	return err
}

// drain lets the deliverer finish events still buffered in process. Broker
// backends keep undelivered events themselves.
func (s *Server) drain(delivered <-chan struct{}) {
	mem, ok := s.queue.(*mq.Memory)
	if !ok {
		return
	}
	_ = mem.Close()
	select {
	case <-delivered:
	case <-time.After(shutdownTimeout):
		logger.Warningf("notify: dropping %d undelivered events on shutdown", mem.Pending(s.channel))
	}
}

func (s *Server) close() error {
	var errs []error
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	if s.closeStore != nil {
		errs = append(errs, s.closeStore())
	}
	return errors.Join(errs...)
}
