package host

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func baseDefinition() Definition {
	return Definition{
		Name: "banking",
		Adapters: map[Slot]AdapterSpec{
			SlotEventLog: {Provider: "A", Settings: map[string]any{"dsn": "base"}},
			SlotPubSub:   {Provider: "B"},
			SlotRegistry: {Provider: "C"},
		},
		Defaults: DispatchDefaults{Consistency: ConsistencyEventual},
		Router:   routerFunc(func(_ any, _ DispatchOptions) (any, error) { return nil, nil }),
	}
}

// mapSource serves overrides from a static map keyed by identity.
type mapSource struct {
	byIdentity map[string]map[Slot]AdapterOverride
	err        error
	calls      int
}

func (s *mapSource) Overrides(_, identity string) (map[Slot]AdapterOverride, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.byIdentity[identity], nil
}

func TestResolveMergeOrder(t *testing.T) {
	def := baseDefinition()
	src := &mapSource{byIdentity: map[string]map[Slot]AdapterOverride{
		"t1": {
			SlotEventLog: {Provider: "A2", Settings: map[string]any{"pool": 4}},
		},
	}}

	cfg, err := resolveConfig(def, src, "t1", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := cfg.Adapters[SlotEventLog].Provider; got != "A2" {
		t.Errorf("event log provider = %q, want A2", got)
	}
	// Settings merge key-wise, one level deep: base keys survive.
	if got := cfg.Adapters[SlotEventLog].Settings["dsn"]; got != "base" {
		t.Errorf("dsn = %v, want base", got)
	}
	if got := cfg.Adapters[SlotEventLog].Settings["pool"]; got != 4 {
		t.Errorf("pool = %v, want 4", got)
	}
	if got := cfg.Adapters[SlotPubSub].Provider; got != "B" {
		t.Errorf("pubsub provider = %q, want B", got)
	}
	if got := cfg.Adapters[SlotRegistry].Provider; got != "C" {
		t.Errorf("registry provider = %q, want C", got)
	}
	if cfg.Application != "banking" || cfg.Identity != "t1" {
		t.Errorf("addressing = %q/%q", cfg.Application, cfg.Identity)
	}
}

func TestResolveHookOverridesExternal(t *testing.T) {
	def := baseDefinition()
	src := &mapSource{byIdentity: map[string]map[Slot]AdapterOverride{
		"t1": {SlotEventLog: {Provider: "A2"}},
	}}

	calls := 0
	hook := func(cfg ResolvedConfig) (ResolvedConfig, error) {
		calls++
		spec := cfg.Adapters[SlotEventLog]
		spec.Provider = "A3"
		cfg.Adapters[SlotEventLog] = spec
		cfg.Application = "hijacked"
		cfg.Identity = "hijacked"
		return cfg, nil
	}

	cfg, err := resolveConfig(def, src, "t1", hook)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if calls != 1 {
		t.Errorf("hook invoked %d times, want 1", calls)
	}
	if got := cfg.Adapters[SlotEventLog].Provider; got != "A3" {
		t.Errorf("provider = %q, want A3 (hook wins)", got)
	}
	// The hook cannot rewrite addressing.
	if cfg.Application != "banking" || cfg.Identity != "t1" {
		t.Errorf("addressing = %q/%q, want banking/t1", cfg.Application, cfg.Identity)
	}
}

func TestResolveHookRejection(t *testing.T) {
	def := baseDefinition()
	boom := errors.New("nope")
	_, err := resolveConfig(def, nil, "t1", func(cfg ResolvedConfig) (ResolvedConfig, error) {
		return ResolvedConfig{}, boom
	})
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("hook error should be wrapped, got %v", err)
	}
}

func TestResolveMissingAdapter(t *testing.T) {
	for _, slot := range Slots() {
		t.Run(string(slot), func(t *testing.T) {
			def := baseDefinition()
			delete(def.Adapters, slot)

			_, err := resolveConfig(def, nil, "t1", nil)
			if !errors.Is(err, ErrMissingAdapter) {
				t.Fatalf("expected ErrMissingAdapter, got %v", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatal("expected *ConfigError")
			}
			if ce.Slot != slot {
				t.Errorf("error names slot %q, want %q", ce.Slot, slot)
			}
		})
	}
}

func TestResolveEmptyProviderIsMissing(t *testing.T) {
	def := baseDefinition()
	def.Adapters[SlotPubSub] = AdapterSpec{Provider: "  "}

	_, err := resolveConfig(def, nil, "t1", nil)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Slot != SlotPubSub {
		t.Fatalf("expected ConfigError for pubsub, got %v", err)
	}
}

func TestResolveMalformedOverride(t *testing.T) {
	def := baseDefinition()
	src := &mapSource{byIdentity: map[string]map[Slot]AdapterOverride{
		"t1": {Slot("cache"): {Provider: "X"}},
	}}

	_, err := resolveConfig(def, src, "t1", nil)
	if !errors.Is(err, ErrMalformedOverride) {
		t.Fatalf("expected ErrMalformedOverride, got %v", err)
	}
}

func TestResolveSourceFailure(t *testing.T) {
	def := baseDefinition()
	src := &mapSource{err: fmt.Errorf("store down")}

	_, err := resolveConfig(def, src, "t1", nil)
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	def := baseDefinition()
	src := &mapSource{byIdentity: map[string]map[Slot]AdapterOverride{
		"t1": {SlotEventLog: {Provider: "A2", Settings: map[string]any{"pool": 4}}},
	}}
	hook := func(cfg ResolvedConfig) (ResolvedConfig, error) { return cfg, nil }

	first, err := resolveConfig(def, src, "t1", hook)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := resolveConfig(def, src, "t1", hook)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolve not idempotent:\nfirst:  %#v\nsecond: %#v", first, second)
	}
}

func TestResolveDoesNotMutateDefinition(t *testing.T) {
	def := baseDefinition()
	src := &mapSource{byIdentity: map[string]map[Slot]AdapterOverride{
		"t1": {SlotEventLog: {Provider: "A2", Settings: map[string]any{"dsn": "override"}}},
	}}

	if _, err := resolveConfig(def, src, "t1", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := def.Adapters[SlotEventLog].Provider; got != "A" {
		t.Errorf("definition provider mutated to %q", got)
	}
	if got := def.Adapters[SlotEventLog].Settings["dsn"]; got != "base" {
		t.Errorf("definition settings mutated to %v", got)
	}
}

func TestResolveResultDetachedFromHook(t *testing.T) {
	def := baseDefinition()
	var leaked ResolvedConfig
	cfg, err := resolveConfig(def, nil, "t1", func(c ResolvedConfig) (ResolvedConfig, error) {
		leaked = c
		return c, nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Mutating what the hook kept must not affect the resolved config.
	leaked.Adapters[SlotEventLog] = AdapterSpec{Provider: "evil"}
	if got := cfg.Adapters[SlotEventLog].Provider; got != "A" {
		t.Errorf("resolved config shares state with hook copy: provider = %q", got)
	}
}

func TestNormalizeIdentity(t *testing.T) {
	def := baseDefinition()

	t.Run("DefaultsToDefinition", func(t *testing.T) {
		id, err := normalizeIdentity(def, "")
		if err != nil || id != "banking" {
			t.Errorf("got (%q, %v), want (banking, nil)", id, err)
		}
	})
	t.Run("ExplicitName", func(t *testing.T) {
		id, err := normalizeIdentity(def, " t1 ")
		if err != nil || id != "t1" {
			t.Errorf("got (%q, %v), want (t1, nil)", id, err)
		}
	})
	t.Run("Invalid", func(t *testing.T) {
		for _, bad := range []string{"   ", "two words", "tab\there"} {
			if _, err := normalizeIdentity(def, bad); !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("normalizeIdentity(%q): expected ErrInvalidIdentity, got %v", bad, err)
			}
		}
	})
}
