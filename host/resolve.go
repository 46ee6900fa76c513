package host

import (
	"fmt"
	"strings"
)

// AdapterOverride is an external override for one adapter slot. An empty
// Provider keeps the provider from the lower layer and merges settings only.
type AdapterOverride struct {
	Provider string
	Settings map[string]any
}

// ExternalSource supplies configuration overrides from an external store,
// keyed by instance-type and identity. It is read once per instance start.
type ExternalSource interface {
	Overrides(application, identity string) (map[Slot]AdapterOverride, error)
}

// ResolveHook lets the instance author adjust the merged configuration at
// start time. It is invoked exactly once per start, synchronously, before
// the instance is registered. Returning an error aborts the start.
type ResolveHook func(ResolvedConfig) (ResolvedConfig, error)

// resolveConfig merges the definition's base configuration with external
// overrides and the runtime hook, in that order. Later layers override
// earlier ones key-wise, one level deep per adapter slot: a layer may
// replace the provider and may add or replace individual settings keys.
func resolveConfig(def Definition, src ExternalSource, identity string, hook ResolveHook) (ResolvedConfig, error) {
	cfg := ResolvedConfig{
		Application: def.Name,
		Identity:    identity,
		Adapters:    cloneAdapters(def.Adapters),
		Defaults:    def.Defaults,
	}

	if src != nil {
		overrides, err := src.Overrides(def.Name, identity)
		if err != nil {
			return ResolvedConfig{}, &ConfigError{
				Application: def.Name,
				Err:         fmt.Errorf("external source: %w", err),
			}
		}
		for slot, ov := range overrides {
			if !slot.Valid() {
				return ResolvedConfig{}, &ConfigError{
					Application: def.Name,
					Slot:        slot,
					Err:         ErrMalformedOverride,
				}
			}
			cfg.Adapters[slot] = mergeAdapter(cfg.Adapters[slot], ov)
		}
	}

	if hook != nil {
		out, err := hook(cfg.Clone())
		if err != nil {
			return ResolvedConfig{}, &ConfigError{
				Application: def.Name,
				Err:         fmt.Errorf("resolve hook: %w", err),
			}
		}
		// The hook may rewrite adapters and defaults, never the addressing.
		out.Application = cfg.Application
		out.Identity = cfg.Identity
		cfg = out.Clone()
	}

	for _, slot := range slotOrder {
		spec, ok := cfg.Adapters[slot]
		if !ok || strings.TrimSpace(spec.Provider) == "" {
			return ResolvedConfig{}, &ConfigError{
				Application: def.Name,
				Slot:        slot,
				Err:         ErrMissingAdapter,
			}
		}
	}

	return cfg, nil
}

func mergeAdapter(base AdapterSpec, ov AdapterOverride) AdapterSpec {
	out := base.Clone()
	if strings.TrimSpace(ov.Provider) != "" {
		out.Provider = ov.Provider
	}
	if len(ov.Settings) > 0 {
		if out.Settings == nil {
			out.Settings = make(map[string]any, len(ov.Settings))
		}
		for k, v := range ov.Settings {
			out.Settings[k] = v
		}
	}
	return out
}

// normalizeIdentity derives the instance identity from the start options.
// No explicit name means the definition itself is the identity. An explicit
// name must be a single non-empty token; anything else is a caller error
// reported before any registry interaction.
func normalizeIdentity(def Definition, name string) (string, error) {
	if name == "" {
		return def.Name, nil
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, name)
	}
	return trimmed, nil
}
