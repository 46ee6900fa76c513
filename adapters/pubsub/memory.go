package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func init() {
	Register("memory", func(_ map[string]any) (Bus, error) {
		return NewMemory(), nil
	})
}

// MemoryBus delivers messages synchronously to in-process subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewMemory creates an empty in-process bus.
func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

func (b *MemoryBus) Initialize(context.Context) error { return nil }

func (b *MemoryBus) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}

func (b *MemoryBus) Health(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("memory bus is shut down")
	}
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return fmt.Errorf("pubsub: topic is required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("memory bus is shut down")
	}
	handlers := make([]Handler, 0, len(b.subs[msg.Topic]))
	for _, h := range b.subs[msg.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			return fmt.Errorf("deliver %q: %w", msg.Topic, err)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("pubsub: topic is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("pubsub: handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memory bus is shut down")
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = handler

	return &memorySubscription{bus: b, topic: topic, id: id}, nil
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	id    int
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.topic], s.id)
	return nil
}
