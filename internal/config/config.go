// Package config loads the daemon configuration file: application
// definitions with base adapter bindings, per-instance overrides and
// dispatch defaults. The same file backs the external override source the
// resolver consults at instance start.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apphost-dev/apphost/host"
)

// Duration is a time.Duration that unmarshals from yaml strings ("5s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Adapter is one adapter slot binding in the file.
type Adapter struct {
	Provider string         `yaml:"provider"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Defaults are an application's dispatch defaults.
type Defaults struct {
	Consistency string   `yaml:"consistency,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	Returning   string   `yaml:"returning,omitempty"`
}

// Instance declares one instance to start at boot, with optional per-slot
// overrides on top of the application base.
type Instance struct {
	Name     string             `yaml:"name"`
	Adapters map[string]Adapter `yaml:"adapters,omitempty"`
}

// Application is one application declaration.
type Application struct {
	Adapters  map[string]Adapter `yaml:"adapters"`
	Defaults  Defaults           `yaml:"defaults,omitempty"`
	Instances []Instance         `yaml:"instances,omitempty"`
}

// Dispatch bounds in-flight dispatches.
type Dispatch struct {
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
	Queue         int `yaml:"queue,omitempty"`
}

// File is the daemon configuration.
type File struct {
	Listen       string                 `yaml:"listen,omitempty"`
	HealthSweep  string                 `yaml:"health_sweep,omitempty"`
	Dispatch     Dispatch               `yaml:"dispatch,omitempty"`
	Applications map[string]Application `yaml:"applications"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Applications) == 0 {
		return fmt.Errorf("config: at least one application is required")
	}
	for name, app := range f.Applications {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config: application name is required")
		}
		if err := validateAdapters(name, app.Adapters); err != nil {
			return err
		}
		if err := validateEnum(name, "consistency", app.Defaults.Consistency,
			string(host.ConsistencyEventual), string(host.ConsistencyStrong)); err != nil {
			return err
		}
		if err := validateEnum(name, "returning", app.Defaults.Returning,
			string(host.ReturnNothing), string(host.ReturnAggregateState),
			string(host.ReturnAggregateVersion), string(host.ReturnExecutionResult)); err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, inst := range app.Instances {
			if strings.TrimSpace(inst.Name) == "" {
				return fmt.Errorf("config: application %q: instance name is required", name)
			}
			if seen[inst.Name] {
				return fmt.Errorf("config: application %q: duplicate instance %q", name, inst.Name)
			}
			seen[inst.Name] = true
			if err := validateAdapters(name, inst.Adapters); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateAdapters(app string, adapters map[string]Adapter) error {
	for slot := range adapters {
		if !host.Slot(slot).Valid() {
			return fmt.Errorf("config: application %q: unknown adapter slot %q", app, slot)
		}
	}
	return nil
}

func validateEnum(app, field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("config: application %q: invalid %s %q", app, field, value)
}

// Definition builds the host Definition for the named application.
func (f *File) Definition(name string, router host.Router) (host.Definition, error) {
	app, ok := f.Applications[name]
	if !ok {
		return host.Definition{}, fmt.Errorf("config: application %q not declared", name)
	}

	adapters := make(map[host.Slot]host.AdapterSpec, len(app.Adapters))
	for slot, a := range app.Adapters {
		adapters[host.Slot(slot)] = host.AdapterSpec{Provider: a.Provider, Settings: a.Settings}
	}
	return host.Definition{
		Name:     name,
		Adapters: adapters,
		Defaults: host.DispatchDefaults{
			Consistency: host.Consistency(app.Defaults.Consistency),
			Timeout:     app.Defaults.Timeout.Std(),
			Returning:   host.ReturnMode(app.Defaults.Returning),
		},
		Router: router,
	}, nil
}
