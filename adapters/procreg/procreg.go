// Package procreg defines the process name registry capability an
// application instance binds into its registry adapter slot: a mapping from
// well-known names to running process references. Providers register
// themselves via init().
package procreg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNameTaken means another process already holds the name.
	ErrNameTaken = errors.New("procreg: name already registered")

	// ErrNotRegistered means no process holds the name.
	ErrNotRegistered = errors.New("procreg: name not registered")
)

// Registry maps well-known names to process references. A reference is
// opaque to the registry; callers store whatever addresses their processes.
type Registry interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Health(ctx context.Context) error

	// RegisterName claims name for ref. A taken name fails with ErrNameTaken.
	RegisterName(ctx context.Context, name string, ref any) error

	// WhereIs returns the reference registered under name, or
	// ErrNotRegistered.
	WhereIs(ctx context.Context, name string) (any, error)

	// Unregister releases name, reporting whether it was held. Releasing a
	// free name is a no-op.
	Unregister(ctx context.Context, name string) (bool, error)

	// Names lists the registered names, sorted.
	Names(ctx context.Context) ([]string, error)
}

// Factory builds a Registry from provider-specific settings.
type Factory func(settings map[string]any) (Registry, error)

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
		panic("procreg: Register with nil factory")
	}
	if _, exists := factories[provider]; exists {
		panic(fmt.Sprintf("procreg: provider %q already registered", provider))
	}
	factories[provider] = factory
}

// Open builds a Registry for the named provider.
func Open(provider string, settings map[string]any) (Registry, error) {
	mu.RLock()
	factory, ok := factories[provider]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("procreg: unknown provider %q (available: %v)", provider, Providers())
	}
	reg, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("procreg: open %q: %w", provider, err)
	}
	return reg, nil
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
