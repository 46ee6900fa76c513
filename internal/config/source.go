package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"

	"github.com/apphost-dev/apphost/host"
)

// envOverrides are process-environment adapter overrides. They apply to
// every instance and take precedence over file-level instance overrides.
type envOverrides struct {
	EventLogProvider string `env:"APPHOST_EVENT_LOG_PROVIDER,default="`
	EventLogDSN      string `env:"APPHOST_EVENT_LOG_DSN,default="`
	PubSubProvider   string `env:"APPHOST_PUBSUB_PROVIDER,default="`
	PubSubAddr       string `env:"APPHOST_PUBSUB_ADDR,default="`
	RegistryProvider string `env:"APPHOST_REGISTRY_PROVIDER,default="`
}

// Source resolves per-instance adapter overrides from the configuration
// file's instance declarations plus the process environment. It implements
// the host's ExternalSource contract.
type Source struct {
	file *File
	env  envOverrides
}

// NewSource creates a Source for the loaded file.
func NewSource(f *File) (*Source, error) {
	s := &Source{file: f}
	if err := envdecode.Decode(&s.env); err != nil {
		return nil, fmt.Errorf("decode env overrides: %w", err)
	}
	return s, nil
}

// Overrides returns the merged per-slot overrides for one instance:
// instance-level file overrides first, environment on top.
func (s *Source) Overrides(application, identity string) (map[host.Slot]host.AdapterOverride, error) {
	out := make(map[host.Slot]host.AdapterOverride)

	if app, ok := s.file.Applications[application]; ok {
		for _, inst := range app.Instances {
			if inst.Name != identity {
				continue
			}
			for slot, a := range inst.Adapters {
				out[host.Slot(slot)] = host.AdapterOverride{
					Provider: a.Provider,
					Settings: a.Settings,
				}
			}
			break
		}
	}

	applyEnv := func(slot host.Slot, provider string, settings map[string]any) {
		ov := out[slot]
		if provider != "" {
			ov.Provider = provider
		}
		if len(settings) > 0 {
			if ov.Settings == nil {
				ov.Settings = make(map[string]any, len(settings))
			}
			for k, v := range settings {
				ov.Settings[k] = v
			}
		}
		if ov.Provider != "" || len(ov.Settings) > 0 {
			out[slot] = ov
		}
	}

	var eventLogSettings map[string]any
	if s.env.EventLogDSN != "" {
		eventLogSettings = map[string]any{"dsn": s.env.EventLogDSN}
	}
	applyEnv(host.SlotEventLog, s.env.EventLogProvider, eventLogSettings)

	var pubsubSettings map[string]any
	if s.env.PubSubAddr != "" {
		pubsubSettings = map[string]any{"addr": s.env.PubSubAddr}
	}
	applyEnv(host.SlotPubSub, s.env.PubSubProvider, pubsubSettings)

	applyEnv(host.SlotRegistry, s.env.RegistryProvider, nil)

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
