package notify

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/playbell/apiserver/internal/mq"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

const publishTimeout = 10 * time.Second

// Dispatcher implements Notifier by publishing events to a queue from a
// background goroutine.
type Dispatcher struct {
	backend mq.Backend
	channel string
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(backend mq.Backend, channel string) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		channel: channel,
		timeout: publishTimeout,
	}
}

func (d *Dispatcher) SendVerificationEmail(acct types.Account, token string) {
	view := acct.View()
	d.publish(Event{Kind: KindVerificationEmail, Account: &view, Token: token})
}

func (d *Dispatcher) SendPasswordResetEmail(acct types.Account, token string) {
	view := acct.View()
	d.publish(Event{Kind: KindPasswordResetEmail, Account: &view, Token: token})
}

func (d *Dispatcher) NotifyNewAccount(acct types.Account) {
	view := acct.View()
	d.publish(Event{Kind: KindNewAccount, Account: &view})
}

func (d *Dispatcher) NotifySongRequest(req types.SongRequest) {
	d.publish(Event{Kind: KindSongRequest, Request: &req})
}

// Wait blocks until every publish started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) publish(ev Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("notify: publish %s panicked: %v", ev.Kind, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.send(ctx, ev); err != nil {
			logger.Warningf("notify: %v", err)
		}
	}()
}

func (d *Dispatcher) send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return &SideEffectError{Kind: ev.Kind, Op: "encode", Err: err}
	}
	id, err := d.backend.Publish(ctx, d.channel, data, map[string]string{"kind": string(ev.Kind)})
	if err != nil {
		return &SideEffectError{Kind: ev.Kind, Op: "publish", Err: err}
	}
	logger.Debugf("notify: queued %s event %s", ev.Kind, id)
	return nil
}
