package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/playbell/apiserver/config"
	"github.com/playbell/apiserver/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient uses one queue per channel on the default exchange.
// Publishing and consuming run on separate AMQP channels of one connection.
// A delivery whose handler fails is dropped, not requeued. A dropped
// connection is redialed on the next publish or subscribe.
type RabbitMQClient struct {
	conn    *amqp.Connection
	publish *amqp.Channel
	cfg     config.RabbitMQConfig

	mu       sync.Mutex
	closed   bool
	declared map[string]bool
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return &RabbitMQClient{conn: conn, publish: ch, cfg: cfg, declared: make(map[string]bool)}, nil
}

func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	_, publish, err := r.connection()
	if err != nil {
		return "", err
	}
	if err := r.declare(publish, channel); err != nil {
		return "", err
	}

	headers := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		headers[k] = v
	}
	mode := amqp.Transient
	if r.cfg.QueueDurable {
		mode = amqp.Persistent
	}
	id := uuid.NewString()
	err = publish.PublishWithContext(ctx, "", channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    id,
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return id, nil
}

// Subscribe opens a dedicated AMQP channel and consumes until ctx is done.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	conn, _, err := r.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if r.cfg.PrefetchCount > 0 {
		if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
			return err
		}
	}
	if err := r.declare(ch, channel); err != nil {
		return err
	}

	tag := "playbell-" + uuid.NewString()
	deliveries, err := ch.Consume(channel, tag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Cancel(tag, false) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			msg := Message{ID: d.MessageId, Data: d.Body, Attributes: attributes(d.Headers)}
			if err := handler(ctx, msg); err != nil {
				logger.Warningf("mq: rabbitmq handler failed for %s on %s, dropping: %v", msg.ID, channel, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	_ = r.publish.Close()
	return r.conn.Close()
}

// connection returns the live connection and publish channel, redialing
// when the broker dropped them.
func (r *RabbitMQClient) connection() (*amqp.Connection, *amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, ErrClosed
	}
	if !r.conn.IsClosed() && !r.publish.IsClosed() {
		return r.conn, r.publish, nil
	}
	if r.conn.IsClosed() {
		conn, err := amqp.Dial(r.cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("redial rabbitmq: %w", err)
		}
		r.conn = conn
		r.declared = make(map[string]bool)
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	logger.Info("mq: rabbitmq reconnected")
	r.publish = ch
	return r.conn, r.publish, nil
}

// declare declares the queue once per client.
func (r *RabbitMQClient) declare(ch *amqp.Channel, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("rabbitmq channel is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[name] {
		return nil
	}
	if _, err := ch.QueueDeclare(name, r.cfg.QueueDurable, r.cfg.QueueAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	r.declared[name] = true
	return nil
}

func attributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for k, v := range headers {
		switch s := v.(type) {
		case string:
			attrs[k] = s
		case []byte:
			attrs[k] = string(s)
		default:
			attrs[k] = fmt.Sprint(v)
		}
	}
	return attrs
}
