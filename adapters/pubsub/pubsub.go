// Package pubsub defines the publish/subscribe capability an application
// instance binds into its pubsub adapter slot, plus a provider factory
// registry. Providers register themselves via init().
package pubsub

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Message is one published payload.
type Message struct {
	Topic    string            `json:"topic"`
	Body     []byte            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Handler consumes delivered messages. A non-nil error asks the provider to
// redeliver where it supports redelivery.
type Handler func(ctx context.Context, msg Message) error

// Subscription is a live topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is a topic-based publish/subscribe transport.
type Bus interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Health(ctx context.Context) error

	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
}

// Factory builds a Bus from provider-specific settings.
type Factory func(settings map[string]any) (Bus, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a provider factory. It is called from provider init()
// functions and panics on a duplicate name.
func Register(provider string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if factory == nil {
		panic("pubsub: Register with nil factory")
	}
	if _, exists := factories[provider]; exists {
		panic(fmt.Sprintf("pubsub: provider %q already registered", provider))
	}
	factories[provider] = factory
}

// Open builds a Bus for the named provider.
func Open(provider string, settings map[string]any) (Bus, error) {
	mu.RLock()
	factory, ok := factories[provider]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pubsub: unknown provider %q (available: %v)", provider, Providers())
	}
	bus, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("pubsub: open %q: %w", provider, err)
	}
	return bus, nil
}

// Providers lists the registered provider names, sorted.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// channelFor builds the wire channel name for a topic under a prefix.
func channelFor(prefix, topic string) string {
	topic = sanitize(topic)
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "apphost"
	}
	return fmt.Sprintf("%s.%s", prefix, topic)
}

func sanitize(in string) string {
	in = strings.TrimSpace(strings.ToLower(in))
	in = strings.ReplaceAll(in, " ", "-")
	return in
}

func stringSetting(settings map[string]any, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intSetting(settings map[string]any, key string, fallback int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func stringsSetting(settings map[string]any, key string) []string {
	switch v := settings[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}
