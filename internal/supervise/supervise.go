// Package supervise provides the default process-tree supervisor: for each
// instance it opens the three configured adapters, brings them up in slot
// order, and tears them down in reverse. An optional periodic sweep checks
// adapter health.
package supervise

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/apphost-dev/apphost/adapters/eventlog"
	"github.com/apphost-dev/apphost/adapters/procreg"
	"github.com/apphost-dev/apphost/adapters/pubsub"
	"github.com/apphost-dev/apphost/host"
	"github.com/apphost-dev/apphost/pkg/logger"
)

// component is the lifecycle every adapter shares.
type component interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Health(ctx context.Context) error
}

// Tree is one instance's running adapter set.
type Tree struct {
	id          string
	identity    string
	application string

	eventLog eventlog.Log
	bus      pubsub.Bus
	registry procreg.Registry
}

func (t *Tree) ID() string                 { return t.id }
func (t *Tree) Identity() string           { return t.identity }
func (t *Tree) Application() string        { return t.application }
func (t *Tree) EventLog() eventlog.Log     { return t.eventLog }
func (t *Tree) Bus() pubsub.Bus            { return t.bus }
func (t *Tree) Registry() procreg.Registry { return t.registry }

// components returns the adapters in start order.
func (t *Tree) components() []component {
	return []component{t.eventLog, t.bus, t.registry}
}

// Options configure a Supervisor.
type Options struct {
	Logger *logger.Logger

	// HealthSweep is a cron expression for the periodic adapter health
	// check ("@every 30s"). Empty disables the sweep.
	HealthSweep string
}

// Supervisor implements the host's Supervisor contract with in-process
// adapter trees.
type Supervisor struct {
	log *logger.Logger

	mu         sync.Mutex
	trees      map[string]*Tree // by tree id
	byIdentity map[string]*Tree

	cron *cron.Cron
}

// New creates a Supervisor. The caller must Close it to stop the health
// sweep scheduler.
func New(opts Options) (*Supervisor, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("supervise")
	}
	s := &Supervisor{
		log:        log,
		trees:      make(map[string]*Tree),
		byIdentity: make(map[string]*Tree),
	}
	if opts.HealthSweep != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(opts.HealthSweep, s.sweep); err != nil {
			return nil, fmt.Errorf("schedule health sweep %q: %w", opts.HealthSweep, err)
		}
		s.cron.Start()
	}
	return s, nil
}

// Close stops the health sweep scheduler. Running trees are untouched.
func (s *Supervisor) Close() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// StartTree opens and initializes the instance's adapters in slot order.
// On a partial failure everything already up is shut down in reverse.
func (s *Supervisor) StartTree(ctx context.Context, cfg host.ResolvedConfig, _ host.Router) (host.TreeHandle, error) {
	tree := &Tree{
		id:          uuid.NewString(),
		identity:    cfg.Identity,
		application: cfg.Application,
	}

	// Opened adapters may hold resources (connection pools) before
	// Initialize runs, so a failed Open releases the earlier ones too.
	opened := make([]component, 0, 3)
	for _, slot := range host.Slots() {
		spec, ok := cfg.Adapter(slot)
		if !ok {
			s.teardown(ctx, opened)
			return nil, fmt.Errorf("slot %q not resolved", slot)
		}
		var (
			c   component
			err error
		)
		switch slot {
		case host.SlotEventLog:
			tree.eventLog, err = eventlog.Open(spec.Provider, spec.Settings)
			c = tree.eventLog
		case host.SlotPubSub:
			tree.bus, err = pubsub.Open(spec.Provider, spec.Settings)
			c = tree.bus
		case host.SlotRegistry:
			tree.registry, err = procreg.Open(spec.Provider, spec.Settings)
			c = tree.registry
		}
		if err != nil {
			s.teardown(ctx, opened)
			return nil, fmt.Errorf("open %s: %w", slot, err)
		}
		opened = append(opened, c)
	}

	started := make([]component, 0, 3)
	for i, c := range tree.components() {
		if err := c.Initialize(ctx); err != nil {
			s.teardown(ctx, started)
			return nil, fmt.Errorf("initialize %s: %w", host.Slots()[i], err)
		}
		started = append(started, c)
	}

	s.mu.Lock()
	s.trees[tree.id] = tree
	s.byIdentity[tree.identity] = tree
	s.mu.Unlock()

	s.log.WithField("identity", cfg.Identity).WithField("tree", tree.id).Info("adapter tree started")
	return tree, nil
}

// StopTree shuts the tree's adapters down in reverse start order, bounded
// by timeout when one is given.
func (s *Supervisor) StopTree(ctx context.Context, handle host.TreeHandle, timeout time.Duration) error {
	if handle == nil {
		return nil
	}

	s.mu.Lock()
	tree, ok := s.trees[handle.ID()]
	if ok {
		delete(s.trees, tree.id)
		delete(s.byIdentity, tree.identity)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := s.teardown(ctx, tree.components())
	s.log.WithField("identity", tree.identity).WithField("tree", tree.id).Info("adapter tree stopped")
	return err
}

// teardown shuts components down in reverse order, returning the first
// failure after attempting all of them.
func (s *Supervisor) teardown(ctx context.Context, components []component) error {
	var first error
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Lookup returns the running tree for identity.
func (s *Supervisor) Lookup(identity string) (*Tree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, ok := s.byIdentity[identity]
	return tree, ok
}

// Trees returns the number of running trees.
func (s *Supervisor) Trees() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trees)
}

// sweep health-checks every adapter of every running tree.
func (s *Supervisor) sweep() {
	s.mu.Lock()
	trees := make([]*Tree, 0, len(s.trees))
	for _, tree := range s.trees {
		trees = append(trees, tree)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, tree := range trees {
		for i, c := range tree.components() {
			if err := c.Health(ctx); err != nil {
				s.log.WithError(err).
					WithField("identity", tree.identity).
					WithField("slot", string(host.Slots()[i])).
					Warn("adapter unhealthy")
			}
		}
	}
}
