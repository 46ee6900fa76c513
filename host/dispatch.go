package host

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Router is the external command dispatch engine an instance is wired to.
// The host treats it as an opaque capability resolved by identity: it
// forwards the command with merged options and propagates the result or
// error unchanged.
type Router interface {
	Dispatch(ctx context.Context, command any, opts DispatchOptions) (any, error)
}

// DispatchOptions are the merged options the router receives. Zero-valued
// fields fall back to the Definition defaults during normalization.
type DispatchOptions struct {
	// Application is the identity of the target instance. The host always
	// sets it, overriding any caller-supplied value, so the router can
	// re-derive adapter bindings if it needs to.
	Application string

	// Timeout bounds the dispatch. 0 falls back to the definition default.
	Timeout time.Duration

	// Infinite disables the timeout entirely.
	Infinite bool

	Consistency Consistency
	Returning   ReturnMode

	// Metadata is passed through to the router untouched.
	Metadata map[string]any
}

// Timeout is shorthand for options carrying only a timeout, mirroring the
// plain-timeout calling convention.
func Timeout(d time.Duration) DispatchOptions {
	return DispatchOptions{Timeout: d}
}

// NoTimeout is shorthand for an unbounded dispatch.
func NoTimeout() DispatchOptions {
	return DispatchOptions{Infinite: true}
}

// mergeOptions applies the definition defaults as the floor for any field
// the caller left zero, and unconditionally injects the instance identity.
func mergeOptions(defaults DispatchDefaults, opts DispatchOptions, identity string) DispatchOptions {
	out := opts
	out.Application = identity
	if out.Timeout == 0 && !out.Infinite {
		out.Timeout = defaults.Timeout
	}
	if out.Consistency == "" {
		out.Consistency = defaults.Consistency
	}
	if out.Returning == "" {
		out.Returning = defaults.Returning
	}
	return out
}

// Dispatch resolves the router for identity and forwards the command with
// merged options. An identity with no live entry yields a NotStartedError,
// an ordinary reportable condition.
func (h *Host) Dispatch(ctx context.Context, identity string, command any, opts DispatchOptions) (any, error) {
	if command == nil {
		return nil, fmt.Errorf("dispatch: command is required")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("dispatch: %w: empty identity", ErrInvalidIdentity)
	}

	e, err := h.reg.lookup(identity)
	if err != nil {
		// Caller-supplied identities don't belong in the application
		// label; a miss has no resolved application anyway.
		h.metrics.RecordDispatch("unknown", "unregistered", 0)
		return nil, err
	}

	merged := mergeOptions(e.cfg.Defaults, opts, identity)

	if h.limit != nil {
		release, err := h.limit.Acquire(ctx)
		if err != nil {
			h.metrics.RecordDispatch(e.cfg.Application, "rejected", 0)
			return nil, fmt.Errorf("dispatch to %q: %w", identity, err)
		}
		defer release()
	}

	callCtx := ctx
	if !merged.Infinite && merged.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, merged.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.router.Dispatch(callCtx, command, merged)
	h.metrics.RecordDispatch(e.cfg.Application, dispatchOutcome(err), time.Since(start))
	return result, err
}

func dispatchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConsistencyTimeout(err):
		return "consistency_timeout"
	case IsUnregisteredCommand(err):
		return "unregistered_command"
	default:
		return "error"
	}
}
