// Package host runs multiple independent, identically-shaped application
// instances inside one process. Each instance is described by a shared
// Definition, resolves its own configuration (base < external overrides <
// runtime hook), binds its own backend adapters, and is addressed by a
// caller-supplied identity at dispatch time.
package host

import (
	"fmt"
	"strings"
	"time"
)

// Slot names a pluggable backend capability of an instance.
type Slot string

const (
	SlotEventLog Slot = "event_log"
	SlotPubSub   Slot = "pubsub"
	SlotRegistry Slot = "registry"
)

// slotOrder fixes the resolution and start order of adapter slots.
var slotOrder = [...]Slot{SlotEventLog, SlotPubSub, SlotRegistry}

// Valid reports whether s is one of the known adapter slots.
func (s Slot) Valid() bool {
	switch s {
	case SlotEventLog, SlotPubSub, SlotRegistry:
		return true
	}
	return false
}

// Slots returns the known adapter slots in start order.
func Slots() []Slot {
	out := make([]Slot, len(slotOrder))
	copy(out, slotOrder[:])
	return out
}

// AdapterSpec is a concrete adapter binding: a provider identifier plus
// provider-specific settings.
type AdapterSpec struct {
	Provider string         `json:"provider" yaml:"provider"`
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Clone returns a copy with its own settings map.
func (a AdapterSpec) Clone() AdapterSpec {
	return AdapterSpec{Provider: a.Provider, Settings: cloneSettings(a.Settings)}
}

// Consistency selects how long a dispatch waits for downstream handling.
type Consistency string

const (
	ConsistencyEventual Consistency = "eventual"
	ConsistencyStrong   Consistency = "strong"
)

// ReturnMode selects the result shape a dispatch produces.
type ReturnMode string

const (
	ReturnNothing          ReturnMode = "nothing"
	ReturnAggregateState   ReturnMode = "aggregate_state"
	ReturnAggregateVersion ReturnMode = "aggregate_version"
	ReturnExecutionResult  ReturnMode = "execution_result"
)

// DispatchDefaults are the per-Definition floor for dispatch options.
// Callers override individual fields per call.
type DispatchDefaults struct {
	Consistency Consistency   `json:"consistency,omitempty" yaml:"consistency,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Returning   ReturnMode    `json:"returning,omitempty" yaml:"returning,omitempty"`
}

// Definition is the immutable, process-wide descriptor of an application
// type. It is created once at startup and shared by every instance started
// from it.
type Definition struct {
	// Name is the instance-type key. It doubles as the default instance
	// identity and as the lookup key for external configuration overrides.
	Name string

	// Adapters is the base configuration for the three adapter slots.
	Adapters map[Slot]AdapterSpec

	// Defaults are the definition-level dispatch options.
	Defaults DispatchDefaults

	// Router is the command dispatch engine instances of this type use.
	Router Router
}

// Validate checks the definition is usable as a start template.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("definition: name is required")
	}
	if d.Router == nil {
		return fmt.Errorf("definition %q: router is required", d.Name)
	}
	for slot := range d.Adapters {
		if !slot.Valid() {
			return fmt.Errorf("definition %q: unknown adapter slot %q", d.Name, slot)
		}
	}
	return nil
}

// ResolvedConfig is the final, per-instance configuration produced by the
// resolver. It is immutable once produced; accessors hand out copies.
type ResolvedConfig struct {
	// Application is the Definition name the instance was started from.
	Application string `json:"application"`

	// Identity addresses this instance.
	Identity string `json:"identity"`

	// Adapters holds the fully resolved adapter slot bindings.
	Adapters map[Slot]AdapterSpec `json:"adapters"`

	// Defaults are the resolved dispatch defaults.
	Defaults DispatchDefaults `json:"defaults"`
}

// Adapter returns the binding for one slot.
func (c ResolvedConfig) Adapter(slot Slot) (AdapterSpec, bool) {
	spec, ok := c.Adapters[slot]
	if !ok {
		return AdapterSpec{}, false
	}
	return spec.Clone(), true
}

// Clone returns a deep copy.
func (c ResolvedConfig) Clone() ResolvedConfig {
	out := c
	out.Adapters = cloneAdapters(c.Adapters)
	return out
}

func cloneAdapters(in map[Slot]AdapterSpec) map[Slot]AdapterSpec {
	out := make(map[Slot]AdapterSpec, len(in))
	for slot, spec := range in {
		out[slot] = spec.Clone()
	}
	return out
}

func cloneSettings(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
