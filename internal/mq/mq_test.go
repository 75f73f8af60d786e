package mq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/playbell/apiserver/config"
)

func receive(t *testing.T, backend Backend, channel string, want int) []Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Message, want)
	done := make(chan error, 1)
	go func() {
		done <- backend.Subscribe(ctx, channel, func(_ context.Context, msg Message) error {
			got <- msg
			return nil
		})
	}()

	var out []Message
	for len(out) < want {
		select {
		case msg := <-got:
			out = append(out, msg)
		case <-ctx.Done():
			t.Fatalf("timed out after %d of %d messages", len(out), want)
		}
	}
	cancel()
	<-done
	return out
}

func TestMemoryPublishSubscribe(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	for _, body := range []string{"one", "two"} {
		if _, err := m.Publish(ctx, "events", []byte(body), map[string]string{"kind": body}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	msgs := receive(t, m, "events", 2)
	if string(msgs[0].Data) != "one" || string(msgs[1].Data) != "two" {
		t.Fatalf("unexpected order: %q %q", msgs[0].Data, msgs[1].Data)
	}
	if msgs[1].Attributes["kind"] != "two" {
		t.Fatalf("attributes lost: %+v", msgs[1].Attributes)
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	_ = m.Close()
	if _, err := m.Publish(context.Background(), "events", nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := m.Subscribe(context.Background(), "events", func(context.Context, Message) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from subscribe, got %v", err)
	}
}

func TestMemoryCloseDrainsBuffer(t *testing.T) {
	m := NewMemory()
	for _, body := range []string{"a", "b", "c"} {
		if _, err := m.Publish(context.Background(), "events", []byte(body), nil); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	_ = m.Close()

	var got []string
	err := m.Subscribe(context.Background(), "events", func(_ context.Context, msg Message) error {
		got = append(got, string(msg.Data))
		return nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
	if len(got) != 3 || m.Pending("events") != 0 {
		t.Fatalf("expected buffered messages to drain, got %v", got)
	}
}

func newTestRedis(t *testing.T) *RedisClient {
	t.Helper()
	return newRedisOn(t, miniredis.RunT(t).Addr())
}

func newRedisOn(t *testing.T, addr string) *RedisClient {
	t.Helper()
	client, err := NewRedisClient(config.RedisConfig{Addr: addr, ClaimIdle: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	client.block = 50 * time.Millisecond
	client.retry = 10 * time.Millisecond
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisPublishSubscribe(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	id, err := r.Publish(ctx, "events", []byte(`{"kind":"x"}`), map[string]string{"kind": "x"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs := receive(t, r, "events", 1)
	if msgs[0].ID != id || string(msgs[0].Data) != `{"kind":"x"}` {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].Attributes["kind"] != "x" {
		t.Fatalf("attributes lost: %+v", msgs[0].Attributes)
	}

	pending, err := r.client.XPending(ctx, "events", r.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected message to be acked, %d pending", pending.Count)
	}
}

func TestRedisPendingEntryIsClaimedByNextConsumer(t *testing.T) {
	srv := miniredis.RunT(t)
	first := newRedisOn(t, srv.Addr())
	first.claimIdle = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := first.Publish(ctx, "events", []byte("retry me"), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	attempted := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- first.Subscribe(ctx, "events", func(context.Context, Message) error {
			select {
			case attempted <- struct{}{}:
			default:
			}
			return errors.New("downstream unavailable")
		})
	}()
	select {
	case <-attempted:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never ran")
	}
	cancel()
	<-done
	_ = first.Close()

	second := newRedisOn(t, srv.Addr())
	if second.consumer == first.consumer {
		t.Fatalf("expected distinct consumer names")
	}
	msgs := receive(t, second, "events", 1)
	if string(msgs[0].Data) != "retry me" {
		t.Fatalf("unexpected redelivery: %q", msgs[0].Data)
	}

	pending, err := second.client.XPending(context.Background(), "events", second.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected claimed entry to be acked, %d pending", pending.Count)
	}
}

func TestRedisDropsEntryAfterMaxDeliveries(t *testing.T) {
	r := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.Publish(ctx, "events", []byte("poison"), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var attempts atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- r.Subscribe(ctx, "events", func(context.Context, Message) error {
			attempts.Add(1)
			return errors.New("always fails")
		})
	}()

	for {
		pending, err := r.client.XPending(ctx, "events", r.group).Result()
		if err == nil && pending.Count == 0 && attempts.Load() > 0 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("poison entry still pending after %d attempts", attempts.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	<-done
	if got := attempts.Load(); got != redisMaxDeliveries {
		t.Fatalf("expected %d attempts, got %d", redisMaxDeliveries, got)
	}
}

func TestRedisSubscribeOutlivesBrokerRestart(t *testing.T) {
	srv := miniredis.RunT(t)
	r := newRedisOn(t, srv.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- r.Subscribe(ctx, "events", func(_ context.Context, msg Message) error {
			got <- string(msg.Data)
			return nil
		})
	}()

	if _, err := r.Publish(ctx, "events", []byte("before"), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "before" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no delivery before broker restart")
	}

	srv.Close()
	select {
	case err := <-done:
		t.Fatalf("subscribe returned while broker was down: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if err := srv.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	if _, err := r.Publish(ctx, "events", []byte("after"), nil); err != nil {
		t.Fatalf("publish after restart: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "after" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no delivery after broker restart")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.MQConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}
