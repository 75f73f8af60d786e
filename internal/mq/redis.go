package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/playbell/apiserver/config"
	"github.com/playbell/apiserver/logger"
	"github.com/redis/go-redis/v9"
)

const (
	redisGroup      = "playbell"
	redisMaxLen     = 10000
	redisReadCount  = 10
	redisClaimIdle  = 30 * time.Second
	redisRetryDelay = time.Second
	// redisMaxDeliveries bounds how often a rejected entry is retried
	// before it is acked and dropped.
	redisMaxDeliveries = 5
)

// RedisClient delivers messages through Redis streams with a consumer group.
// Each channel is one stream. Messages a handler rejects stay pending and
// are claimed again once they have been idle for claimIdle, by this or any
// other consumer in the group.
type RedisClient struct {
	client    *redis.Client
	group     string
	consumer  string
	block     time.Duration
	claimIdle time.Duration
	retry     time.Duration
}

// NewRedisClient constructs a Redis streams client from config.
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = redisClaimIdle
	}
	return &RedisClient{
		client:    client,
		group:     redisGroup,
		consumer:  consumer,
		block:     5 * time.Second,
		claimIdle: claimIdle,
		retry:     redisRetryDelay,
	}, nil
}

func (r *RedisClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("redis channel is required")
	}
	values := map[string]any{"data": string(data)}
	if len(attrs) > 0 {
		encoded, err := json.Marshal(attrs)
		if err != nil {
			return "", fmt.Errorf("encode attributes: %w", err)
		}
		values["attrs"] = string(encoded)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: channel,
		MaxLen: redisMaxLen,
		Approx: true,
		Values: values,
	}).Result()
}

// Subscribe reads channel until ctx is done. Broker errors are logged and
// retried; only a missing channel name, a closed client or cancellation
// ends the loop.
func (r *RedisClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("redis channel is required")
	}

	grouped := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !grouped {
			if err := r.ensureGroup(ctx, channel); err != nil {
				if errors.Is(err, redis.ErrClosed) {
					return ErrClosed
				}
				r.backoff(ctx, err)
				continue
			}
			grouped = true
		}

		claimed, err := r.claimPending(ctx, channel)
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		if err != nil {
			r.backoff(ctx, fmt.Errorf("claim %s: %w", channel, err))
			continue
		}
		for _, entry := range claimed {
			r.deliver(ctx, channel, entry, handler)
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{channel, ">"},
			Count:    redisReadCount,
			Block:    r.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		if err != nil {
			if isNoGroup(err) {
				grouped = false
			}
			r.backoff(ctx, fmt.Errorf("read %s: %w", channel, err))
			continue
		}
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				r.deliver(ctx, channel, entry, handler)
			}
		}
	}
}

// claimPending takes over entries that have sat unacked for claimIdle,
// including ones left behind by consumers that are gone.
func (r *RedisClient) claimPending(ctx context.Context, channel string) ([]redis.XMessage, error) {
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   channel,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  r.claimIdle,
		Start:    "0-0",
		Count:    redisReadCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil && isNoGroup(err) {
		return nil, r.ensureGroup(ctx, channel)
	}
	return msgs, err
}

func (r *RedisClient) backoff(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	logger.Warningf("mq: redis: %v, retrying in %s", err, r.retry)
	select {
	case <-ctx.Done():
	case <-time.After(r.retry):
	}
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}

func (r *RedisClient) deliver(ctx context.Context, channel string, entry redis.XMessage, handler Handler) {
	msg := Message{ID: entry.ID}
	if data, ok := entry.Values["data"].(string); ok {
		msg.Data = []byte(data)
	}
	if raw, ok := entry.Values["attrs"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Attributes); err != nil {
			logger.Warningf("mq: bad attributes on %s/%s: %v", channel, entry.ID, err)
		}
	}
	if err := handler(ctx, msg); err != nil {
		if r.deliveries(ctx, channel, entry.ID) < redisMaxDeliveries {
			logger.Warningf("mq: handler failed for %s/%s, leaving pending: %v", channel, entry.ID, err)
			return
		}
		logger.Errorf("mq: dropping %s/%s after %d attempts: %v", channel, entry.ID, redisMaxDeliveries, err)
	}
	if err := r.client.XAck(ctx, channel, r.group, entry.ID).Err(); err != nil {
		logger.Warningf("mq: ack %s/%s: %v", channel, entry.ID, err)
	}
}

// deliveries reports how many times id has been handed to a consumer.
func (r *RedisClient) deliveries(ctx context.Context, channel, id string) int64 {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: channel,
		Group:  r.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return pending[0].RetryCount
}

func (r *RedisClient) ensureGroup(ctx context.Context, channel string) error {
	err := r.client.XGroupCreateMkStream(ctx, channel, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group on %s: %w", channel, err)
	}
	return nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
