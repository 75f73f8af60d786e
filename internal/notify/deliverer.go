package notify

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/playbell/apiserver/internal/mq"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

// Mailer sends account emails.
type Mailer interface {
	SendVerification(ctx context.Context, to types.AccountView, token string) error
	SendPasswordReset(ctx context.Context, to types.AccountView, token string) error
}

// AdminChat posts notices to the admin chat.
type AdminChat interface {
	NewAccount(ctx context.Context, acct types.AccountView) error
	SongRequest(ctx context.Context, req types.SongRequest) error
}

// Deliverer consumes queued events and hands them to the mailer or the
// admin chat.
type Deliverer struct {
	mailer Mailer
	chat   AdminChat

	minRetry time.Duration
	maxRetry time.Duration
}

func NewDeliverer(mailer Mailer, chat AdminChat) *Deliverer {
	return &Deliverer{mailer: mailer, chat: chat, minRetry: time.Second, maxRetry: 30 * time.Second}
}

// Run consumes channel until ctx is done or the backend is closed. A failed
// subscription is logged and retried with backoff, never returned.
func (d *Deliverer) Run(ctx context.Context, backend mq.Backend, channel string) error {
	logger.Infof("notify: delivering events from %s", channel)
	delay := d.minRetry
	for {
		started := time.Now()
		err := backend.Subscribe(ctx, channel, d.Handle)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, mq.ErrClosed) {
			logger.Warningf("notify: queue closed, stopping delivery from %s", channel)
			return nil
		}
		if time.Since(started) > d.maxRetry {
			delay = d.minRetry
		}
		logger.Errorf("notify: subscription to %s failed, retrying in %s: %v", channel, delay, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, d.maxRetry)
	}
}

// Handle delivers one queued event. Malformed events are dropped.
func (d *Deliverer) Handle(ctx context.Context, msg mq.Message) error {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Warningf("notify: dropping malformed event %s: %v", msg.ID, err)
		return nil
	}

	switch ev.Kind {
	case KindVerificationEmail, KindPasswordResetEmail, KindNewAccount:
		if ev.Account == nil {
			logger.Warningf("notify: dropping %s event %s without account", ev.Kind, msg.ID)
			return nil
		}
	case KindSongRequest:
		if ev.Request == nil {
			logger.Warningf("notify: dropping %s event %s without request", ev.Kind, msg.ID)
			return nil
		}
	}

	var err error
	switch ev.Kind {
	case KindVerificationEmail:
		err = d.mailer.SendVerification(ctx, *ev.Account, ev.Token)
	case KindPasswordResetEmail:
		err = d.mailer.SendPasswordReset(ctx, *ev.Account, ev.Token)
	case KindNewAccount:
		err = d.chat.NewAccount(ctx, *ev.Account)
	case KindSongRequest:
		err = d.chat.SongRequest(ctx, *ev.Request)
	default:
		logger.Warningf("notify: dropping event %s of unknown kind %q", msg.ID, ev.Kind)
		return nil
	}
	if err != nil {
		return &SideEffectError{Kind: ev.Kind, Op: "deliver", Err: err}
	}
	return nil
}
