package host

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apphost-dev/apphost/internal/limiter"
	"github.com/apphost-dev/apphost/internal/metrics"
	"github.com/apphost-dev/apphost/pkg/logger"
)

// TreeHandle identifies a running supervised process tree.
type TreeHandle interface {
	ID() string
}

// Supervisor starts and stops the per-instance process tree. The host only
// relies on start/stop/handle semantics; the supervision strategy is the
// collaborator's business.
type Supervisor interface {
	StartTree(ctx context.Context, cfg ResolvedConfig, router Router) (TreeHandle, error)
	StopTree(ctx context.Context, tree TreeHandle, timeout time.Duration) error
}

// Handle is returned by Start and identifies one running instance.
type Handle struct {
	Identity string
	Tree     TreeHandle
}

// StartOptions control one instance start.
type StartOptions struct {
	// Name is the instance identity. Empty means the definition name.
	Name string

	// Hook adjusts the merged configuration before registration.
	Hook ResolveHook
}

// Options configure a Host.
type Options struct {
	Logger     *logger.Logger
	Source     ExternalSource // nil means no external overrides
	Supervisor Supervisor     // nil means no process tree is started
	Metrics    *metrics.Collector

	// MaxConcurrentDispatch bounds in-flight dispatches. 0 means unbounded.
	MaxConcurrentDispatch int
	// DispatchQueue bounds callers waiting for a dispatch permit.
	DispatchQueue int
}

// Host owns the process-wide instance registry and implements the
// caller-facing operations: Start, Stop, Dispatch, Config, ResolveAdapter.
type Host struct {
	log     *logger.Logger
	source  ExternalSource
	sup     Supervisor
	metrics *metrics.Collector
	limit   *limiter.Limiter
	reg     *instanceRegistry
}

// New creates a Host.
func New(opts Options) *Host {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("apphost")
	}
	sup := opts.Supervisor
	if sup == nil {
		sup = noopSupervisor{}
	}

	h := &Host{
		log:     log,
		source:  opts.Source,
		sup:     sup,
		metrics: opts.Metrics,
		reg:     newInstanceRegistry(),
	}
	if opts.MaxConcurrentDispatch > 0 {
		h.limit = limiter.New(limiter.Config{
			MaxConcurrent: opts.MaxConcurrentDispatch,
			QueueSize:     opts.DispatchQueue,
		})
	}
	return h
}

// Start resolves configuration for a new instance of def, registers it under
// its identity and starts its supervised process tree. On any failure no
// registry entry remains.
func (h *Host) Start(ctx context.Context, def Definition, opts StartOptions) (Handle, error) {
	if err := def.Validate(); err != nil {
		return Handle{}, err
	}

	identity, err := normalizeIdentity(def, opts.Name)
	if err != nil {
		h.metrics.RecordStart("invalid_identity")
		return Handle{}, err
	}

	cfg, err := resolveConfig(def, h.source, identity, opts.Hook)
	if err != nil {
		h.metrics.RecordStart("config_error")
		return Handle{}, err
	}

	if err := h.reg.register(identity, &entry{cfg: cfg, router: def.Router}); err != nil {
		h.metrics.RecordStart("already_started")
		return Handle{}, err
	}

	tree, err := h.sup.StartTree(ctx, cfg.Clone(), def.Router)
	if err != nil {
		// Roll back so a failed start leaves no residue.
		h.reg.unregister(identity)
		h.metrics.RecordStart("start_error")
		return Handle{}, &StartError{Identity: identity, Err: err}
	}
	h.reg.attachTree(identity, tree)

	h.metrics.RecordStart("ok")
	h.metrics.InstanceUp()
	h.log.WithField("application", def.Name).WithField("identity", identity).Info("instance started")

	return Handle{Identity: identity, Tree: tree}, nil
}

// Stop removes the instance from the registry and stops its process tree.
// Dispatches observe the removal immediately; stopping an already-stopped
// handle is a no-op, even when the identity has since been started again.
// A handle with no tree stops whatever incarnation is currently live.
func (h *Host) Stop(ctx context.Context, handle Handle, timeout time.Duration) error {
	if handle.Identity == "" {
		return fmt.Errorf("%w: empty identity in handle", ErrInvalidIdentity)
	}

	tree, removed := h.reg.unregisterTree(handle.Identity, handle.Tree)
	if !removed {
		return nil
	}
	h.metrics.InstanceDown()
	h.log.WithField("identity", handle.Identity).Info("instance stopped")

	if tree == nil {
		return nil
	}
	if err := h.sup.StopTree(ctx, tree, timeout); err != nil {
		return fmt.Errorf("stop tree for %q: %w", handle.Identity, err)
	}
	return nil
}

// Config returns a copy of the resolved configuration for a live instance.
func (h *Host) Config(identity string) (ResolvedConfig, error) {
	e, err := h.reg.lookup(identity)
	if err != nil {
		return ResolvedConfig{}, err
	}
	return e.cfg.Clone(), nil
}

// ResolveAdapter returns the adapter binding for one slot of a live
// instance.
func (h *Host) ResolveAdapter(identity string, slot Slot) (AdapterSpec, error) {
	if !slot.Valid() {
		return AdapterSpec{}, fmt.Errorf("unknown adapter slot %q", slot)
	}
	e, err := h.reg.lookup(identity)
	if err != nil {
		return AdapterSpec{}, err
	}
	spec, ok := e.cfg.Adapter(slot)
	if !ok {
		// The resolver guarantees all slots; reaching this is a bug.
		return AdapterSpec{}, &ConfigError{Application: e.cfg.Application, Slot: slot, Err: ErrMissingAdapter}
	}
	return spec, nil
}

// InstanceInfo summarizes one live instance.
type InstanceInfo struct {
	Identity    string `json:"identity"`
	Application string `json:"application"`
	TreeID      string `json:"tree_id,omitempty"`
}

// Instances lists the live instances, sorted by identity.
func (h *Host) Instances() []InstanceInfo {
	ids := h.reg.identities()
	out := make([]InstanceInfo, 0, len(ids))
	for _, id := range ids {
		e, err := h.reg.lookup(id)
		if err != nil {
			continue // stopped between list and lookup
		}
		info := InstanceInfo{Identity: id, Application: e.cfg.Application}
		if e.tree != nil {
			info.TreeID = e.tree.ID()
		}
		out = append(out, info)
	}
	return out
}

// noopSupervisor satisfies the Supervisor contract for hosts that embed
// their own process management.
type noopSupervisor struct{}

type noopTree struct{ id string }

func (t noopTree) ID() string { return t.id }

func (noopSupervisor) StartTree(context.Context, ResolvedConfig, Router) (TreeHandle, error) {
	return noopTree{id: uuid.NewString()}, nil
}

func (noopSupervisor) StopTree(context.Context, TreeHandle, time.Duration) error { return nil }
