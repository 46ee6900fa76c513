package host

import (
	"sort"
	"sync"
)

// entry is one live instance: its resolved configuration, router reference
// and supervision handle. Configuration and router are immutable after
// registration; the tree handle is attached once the process tree is up.
type entry struct {
	cfg    ResolvedConfig
	router Router
	tree   TreeHandle
}

// instanceRegistry is the process-wide table of live instances. It is the
// only shared mutable state in the host; every write goes through its mutex
// so registration stays atomic per identity.
type instanceRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newInstanceRegistry() *instanceRegistry {
	return &instanceRegistry{entries: make(map[string]*entry)}
}

// register inserts the entry for identity. Exactly one of two racing
// registrations succeeds; the loser observes AlreadyStartedError.
func (r *instanceRegistry) register(identity string, e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[identity]; exists {
		return &AlreadyStartedError{Identity: identity}
	}
	r.entries[identity] = e
	return nil
}

// attachTree records the supervision handle after a successful tree start.
func (r *instanceRegistry) attachTree(identity string, tree TreeHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[identity]; ok {
		e.tree = tree
	}
}

// lookup returns the live entry for identity.
func (r *instanceRegistry) lookup(identity string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[identity]
	if !ok {
		return nil, &NotStartedError{Identity: identity}
	}
	return e, nil
}

// unregister removes the entry for identity, reporting whether one existed.
// It is idempotent.
func (r *instanceRegistry) unregister(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.entries[identity]
	delete(r.entries, identity)
	return existed
}

// unregisterTree removes the entry for identity and returns its tree handle.
// A non-nil tree must match the live entry's tree; a handle from a previous
// incarnation of the same identity leaves the current entry untouched. A nil
// tree unregisters whatever incarnation is live.
func (r *instanceRegistry) unregisterTree(identity string, tree TreeHandle) (TreeHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[identity]
	if !ok {
		return nil, false
	}
	if tree != nil && (e.tree == nil || e.tree.ID() != tree.ID()) {
		return nil, false
	}
	delete(r.entries, identity)
	return e.tree, true
}

// identities returns the live identities, sorted.
func (r *instanceRegistry) identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
