package procreg

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

func init() {
	Register("memory", func(_ map[string]any) (Registry, error) {
		return NewMemory(), nil
	})
}

// MemoryRegistry is the in-process name registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	names  map[string]any
	closed bool
}

// NewMemory creates an empty registry.
func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{names: make(map[string]any)}
}

func (r *MemoryRegistry) Initialize(context.Context) error { return nil }

func (r *MemoryRegistry) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.names = make(map[string]any)
	return nil
}

func (r *MemoryRegistry) Health(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("memory registry is shut down")
	}
	return nil
}

func (r *MemoryRegistry) RegisterName(_ context.Context, name string, ref any) error {
	if name == "" {
		return fmt.Errorf("procreg: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("memory registry is shut down")
	}
	if _, taken := r.names[name]; taken {
		return fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	r.names[name] = ref
	return nil
}

func (r *MemoryRegistry) WhereIs(_ context.Context, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return ref, nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.names[name]
	delete(r.names, name)
	return held, nil
}

func (r *MemoryRegistry) Names(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
