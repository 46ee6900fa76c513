package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	rocketmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

func init() {
	Register("rocketmq", func(settings map[string]any) (Bus, error) {
		cfg := RocketMQConfig{
			NameServers:   stringsSetting(settings, "name_servers"),
			AccessKey:     stringSetting(settings, "access_key", ""),
			SecretKey:     stringSetting(settings, "secret_key", ""),
			Namespace:     stringSetting(settings, "namespace", ""),
			TopicPrefix:   stringSetting(settings, "topic_prefix", ""),
			ConsumerGroup: stringSetting(settings, "consumer_group", ""),
			MaxReconsume:  intSetting(settings, "max_reconsume", 0),
			ConsumeBatch:  intSetting(settings, "consume_batch", 0),
			ConsumeFrom:   stringSetting(settings, "consume_from", ""),
		}
		if len(cfg.NameServers) == 0 {
			return nil, fmt.Errorf("rocketmq: setting %q is required", "name_servers")
		}
		return NewRocketMQ(cfg), nil
	})
}

// RocketMQConfig holds the RocketMQ connection settings.
type RocketMQConfig struct {
	NameServers   []string
	AccessKey     string
	SecretKey     string
	Namespace     string
	TopicPrefix   string
	ConsumerGroup string
	MaxReconsume  int
	ConsumeBatch  int
	ConsumeFrom   string
}

// RocketMQBus carries messages over Apache RocketMQ. The producer comes up
// at Initialize; the push consumer is created lazily on first Subscribe.
type RocketMQBus struct {
	cfg RocketMQConfig

	mu      sync.Mutex
	prod    rocketmq.Producer
	cons    rocketmq.PushConsumer
	started bool
	consUp  bool
}

// NewRocketMQ creates an unstarted bus.
func NewRocketMQ(cfg RocketMQConfig) *RocketMQBus {
	return &RocketMQBus{cfg: cfg}
}

func (b *RocketMQBus) Initialize(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	prod, err := rocketmq.NewProducer(
		producer.WithNameServer(b.cfg.NameServers),
		producer.WithCredentials(primitive.Credentials{
			AccessKey: b.cfg.AccessKey,
			SecretKey: b.cfg.SecretKey,
		}),
		producer.WithNamespace(strings.TrimSpace(b.cfg.Namespace)),
		producer.WithRetry(2),
	)
	if err != nil {
		return fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := prod.Start(); err != nil {
		return fmt.Errorf("start rocketmq producer: %w", err)
	}
	b.prod = prod
	b.started = true
	return nil
}

func (b *RocketMQBus) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prod != nil {
		_ = b.prod.Shutdown()
		b.prod = nil
	}
	if b.cons != nil {
		_ = b.cons.Shutdown()
		b.cons = nil
	}
	b.started = false
	b.consUp = false
	return nil
}

func (b *RocketMQBus) Health(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return fmt.Errorf("rocketmq producer not started")
	}
	if len(b.cfg.NameServers) == 0 {
		return fmt.Errorf("no rocketmq name servers configured")
	}
	return nil
}

func (b *RocketMQBus) Publish(ctx context.Context, msg Message) error {
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

	b.mu.Lock()
	prod := b.prod
	b.mu.Unlock()
	if prod == nil {
		return fmt.Errorf("rocketmq producer not ready")
	}

	wire := &primitive.Message{
		Topic: b.topicFor(msg.Topic),
		Body:  body,
	}
	wire.WithProperty("topic", msg.Topic)
	if b.cfg.Namespace != "" {
		wire.WithProperty("namespace", b.cfg.Namespace)
	}
	for k, v := range msg.Metadata {
		wire.WithProperty(k, v)
	}

	if _, err := prod.SendSync(ctx, wire); err != nil {
		return fmt.Errorf("rocketmq send: %w", err)
	}
	return nil
}

func (b *RocketMQBus) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("pubsub: topic is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("pubsub: handler is required")
	}
	wireTopic := b.topicFor(topic)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cons == nil {
		opts := []consumer.Option{
			consumer.WithGroupName(b.consumerGroup()),
			consumer.WithNameServer(b.cfg.NameServers),
			consumer.WithCredentials(primitive.Credentials{
				AccessKey: b.cfg.AccessKey,
				SecretKey: b.cfg.SecretKey,
			}),
			consumer.WithNamespace(strings.TrimSpace(b.cfg.Namespace)),
		}
		if b.cfg.MaxReconsume > 0 {
			opts = append(opts, consumer.WithMaxReconsumeTimes(int32(b.cfg.MaxReconsume)))
		}
		if b.cfg.ConsumeBatch > 0 {
			opts = append(opts, consumer.WithConsumeMessageBatchMaxSize(b.cfg.ConsumeBatch))
		}
		switch strings.ToLower(strings.TrimSpace(b.cfg.ConsumeFrom)) {
		case "first":
			opts = append(opts, consumer.WithConsumeFromWhere(consumer.ConsumeFromFirstOffset))
		case "latest":
			opts = append(opts, consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset))
		}
		cons, err := rocketmq.NewPushConsumer(opts...)
		if err != nil {
			return nil, fmt.Errorf("create rocketmq consumer: %w", err)
		}
		b.cons = cons
	}

	err := b.cons.Subscribe(wireTopic, consumer.MessageSelector{}, func(c context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, wire := range msgs {
			var msg Message
			if err := json.Unmarshal(wire.Body, &msg); err != nil {
				msg = Message{Topic: topic, Body: wire.Body}
			}
			msg.Topic = topic
			if err := handler(c, msg); err != nil {
				return consumer.ConsumeRetryLater, nil
			}
		}
		return consumer.ConsumeSuccess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to topic %s: %w", wireTopic, err)
	}

	// Start the consumer lazily on first subscription.
	if !b.consUp {
		if err := b.cons.Start(); err != nil {
			return nil, fmt.Errorf("start rocketmq consumer: %w", err)
		}
		b.consUp = true
	}
	return &rocketmqSubscription{bus: b, topic: wireTopic}, nil
}

type rocketmqSubscription struct {
	bus   *RocketMQBus
	topic string
}

func (s *rocketmqSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.cons == nil {
		return nil
	}
	return s.bus.cons.Unsubscribe(s.topic)
}

func (b *RocketMQBus) consumerGroup() string {
	if strings.TrimSpace(b.cfg.ConsumerGroup) != "" {
		return b.cfg.ConsumerGroup
	}
	return "apphost"
}

func (b *RocketMQBus) topicFor(topic string) string {
	topic = sanitize(topic)
	prefix := strings.TrimSpace(b.cfg.TopicPrefix)
	if prefix == "" {
		prefix = "apphost"
	}
	if ns := strings.TrimSpace(b.cfg.Namespace); ns != "" {
		prefix = sanitize(ns) + "." + prefix
	}
	return fmt.Sprintf("%s.%s", prefix, topic)
}
