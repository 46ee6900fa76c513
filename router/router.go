// Package router provides an in-process command router for application
// instances: commands are routed by concrete type to registered handlers,
// and the dispatch options decide the result shape and consistency wait.
package router

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/apphost-dev/apphost/host"
	"github.com/apphost-dev/apphost/pkg/logger"
)

// Outcome is what a handler reports back after executing a command.
type Outcome struct {
	State    any
	Version  int64
	Metadata map[string]any
}

// HandlerFunc executes one command type.
type HandlerFunc func(ctx context.Context, command any, opts host.DispatchOptions) (Outcome, error)

// Barrier waits until the instance has reached the requested consistency
// for the just-executed command. It is consulted for strong dispatches only.
type Barrier func(ctx context.Context, opts host.DispatchOptions) error

// ExecutionResult is the structured result returned for the
// execution-result return mode.
type ExecutionResult struct {
	Application string         `json:"application"`
	State       any            `json:"state,omitempty"`
	Version     int64          `json:"version"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Table routes commands by concrete type.
type Table struct {
	log *logger.Logger

	mu       sync.RWMutex
	handlers map[reflect.Type]HandlerFunc
	barrier  Barrier
}

// New creates an empty routing table.
func New(log *logger.Logger) *Table {
	if log == nil {
		log = logger.NewDefault("router")
	}
	return &Table{
		log:      log,
		handlers: make(map[reflect.Type]HandlerFunc),
	}
}

// Route registers handler for the concrete type of the command prototype.
// Routing the same type twice panics; routes are wired once at startup.
func (t *Table) Route(prototype any, handler HandlerFunc) {
	if prototype == nil {
		panic("router: Route with nil prototype")
	}
	if handler == nil {
		panic("router: Route with nil handler")
	}
	key := reflect.TypeOf(prototype)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[key]; exists {
		panic(fmt.Sprintf("router: command %v already routed", key))
	}
	t.handlers[key] = handler
}

// SetBarrier installs the strong-consistency barrier.
func (t *Table) SetBarrier(b Barrier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.barrier = b
}

// Dispatch executes the handler routed for the command's type and shapes the
// result per the merged options.
func (t *Table) Dispatch(ctx context.Context, command any, opts host.DispatchOptions) (any, error) {
	if command == nil {
		return nil, fmt.Errorf("router: command is required")
	}

	key := reflect.TypeOf(command)
	t.mu.RLock()
	handler, ok := t.handlers[key]
	barrier := t.barrier
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", host.ErrUnregisteredCommand, key)
	}

	outcome, err := handler(ctx, command, opts)
	if err != nil {
		return nil, err
	}

	if opts.Consistency == host.ConsistencyStrong && barrier != nil {
		if err := barrier(ctx, opts); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				t.log.WithField("application", opts.Application).Warn("strong consistency not reached in time")
				return nil, fmt.Errorf("%w: %v", host.ErrConsistencyTimeout, err)
			}
			return nil, err
		}
	}

	switch opts.Returning {
	case host.ReturnAggregateState:
		return outcome.State, nil
	case host.ReturnAggregateVersion:
		return outcome.Version, nil
	case host.ReturnExecutionResult:
		return ExecutionResult{
			Application: opts.Application,
			State:       outcome.State,
			Version:     outcome.Version,
			Metadata:    outcome.Metadata,
		}, nil
	default:
		return nil, nil
	}
}

// Routes lists the routed command types.
func (t *Table) Routes() []reflect.Type {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]reflect.Type, 0, len(t.handlers))
	for key := range t.handlers {
		out = append(out, key)
	}
	return out
}
