package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

func init() {
	Register("redis", func(settings map[string]any) (Bus, error) {
		addr := stringSetting(settings, "addr", "")
		if addr == "" {
			return nil, fmt.Errorf("redis: setting %q is required", "addr")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: stringSetting(settings, "password", ""),
			DB:       intSetting(settings, "db", 0),
		})
		return NewRedis(client, stringSetting(settings, "channel_prefix", "")), nil
	})
}

// RedisBus carries messages over Redis pub/sub channels. Messages are
// wrapped in a JSON envelope so metadata survives the wire.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client, channelPrefix string) *RedisBus {
	return &RedisBus{client: client, prefix: channelPrefix}
}

func (b *RedisBus) Initialize(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (b *RedisBus) Shutdown(context.Context) error {
	return b.client.Close()
}

func (b *RedisBus) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return fmt.Errorf("pubsub: topic is required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	channel := channelFor(b.prefix, msg.Topic)
	if err := b.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("pubsub: topic is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("pubsub: handler is required")
	}

	channel := channelFor(b.prefix, topic)
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", channel, err)
	}

	go func() {
		for raw := range ps.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				// Not our envelope; deliver the raw payload.
				msg = Message{Topic: topic, Body: []byte(raw.Payload)}
			}
			msg.Topic = topic
			_ = handler(ctx, msg)
		}
	}()

	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Unsubscribe() error {
	return s.ps.Close()
}
