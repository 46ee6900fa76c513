// Package eventlog defines the append-only event log capability an
// application instance binds into its event_log adapter slot, plus a
// provider factory registry. Providers register themselves via init().
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ExpectAny disables the optimistic version check on Append.
const ExpectAny int64 = -1

// ErrVersionConflict means the stream moved past the expected version.
var ErrVersionConflict = errors.New("eventlog: version conflict")

// Event is one recorded entry of a stream.
type Event struct {
	Stream     string         `json:"stream" db:"stream"`
	Version    int64          `json:"version" db:"version"`
	Type       string         `json:"type" db:"type"`
	Payload    []byte         `json:"payload" db:"payload"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"-"`
	RecordedAt time.Time      `json:"recorded_at" db:"recorded_at"`
}

// Log is an append-only, per-stream versioned event log.
type Log interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Health(ctx context.Context) error

	// Append writes events after the stream's current version. A non-negative
	// expect that does not match the current version fails with
	// ErrVersionConflict; ExpectAny skips the check. It returns the stream
	// version after the append.
	Append(ctx context.Context, stream string, expect int64, events []Event) (int64, error)

	// Read returns up to limit events of stream with version > after, in
	// version order. limit <= 0 means no bound.
	Read(ctx context.Context, stream string, after int64, limit int) ([]Event, error)
}

// Factory builds a Log from provider-specific settings.
type Factory func(settings map[string]any) (Log, error)

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
		panic("eventlog: Register with nil factory")
	}
	if _, exists := factories[provider]; exists {
		panic(fmt.Sprintf("eventlog: provider %q already registered", provider))
	}
	factories[provider] = factory
}

// Open builds a Log for the named provider.
func Open(provider string, settings map[string]any) (Log, error) {
	mu.RLock()
	factory, ok := factories[provider]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("eventlog: unknown provider %q (available: %v)", provider, Providers())
	}
	log, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", provider, err)
	}
	return log, nil
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
