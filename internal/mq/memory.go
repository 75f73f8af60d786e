package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/playbell/apiserver/logger"
)

const memoryQueueSize = 256

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("mq: backend closed")

// ErrQueueFull is returned when an in-process queue has no room left.
var ErrQueueFull = errors.New("mq: queue full")

// Memory is an in-process backend. Messages are buffered per channel and
// lost when the process exits. A failed handler drops the message. After
// Close, a running subscriber drains what is already buffered before it
// returns ErrClosed.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan Message
	closed chan struct{}
	once   sync.Once
}

func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string]chan Message),
		closed: make(chan struct{}),
	}
}

func (m *Memory) queue(channel string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[channel]
	if !ok {
		q = make(chan Message, memoryQueueSize)
		m.queues[channel] = q
	}
	return q
}

func (m *Memory) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	select {
	case <-m.closed:
		return "", ErrClosed
	default:
	}

	msg := Message{ID: uuid.NewString(), Data: data, Attributes: attrs}
	select {
	case m.queue(channel) <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", ErrQueueFull
	}
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}
	q := m.queue(channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case msg := <-q:
					m.handle(ctx, channel, msg, handler)
				default:
					return ErrClosed
				}
			}
		case msg := <-q:
			m.handle(ctx, channel, msg, handler)
		}
	}
}

func (m *Memory) handle(ctx context.Context, channel string, msg Message, handler Handler) {
	if err := handler(ctx, msg); err != nil {
		logger.Warningf("mq: memory handler failed for %s on %s: %v", msg.ID, channel, err)
	}
}

// Pending reports how many messages are buffered on channel.
func (m *Memory) Pending(channel string) int {
	return len(m.queue(channel))
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
