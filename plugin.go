package pluginhost

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/masegraye/plugin-host-go/services"
	"github.com/spf13/viper"
)

// Plugin is the interface that must be implemented by all plugins.
// Embed Base to get a no-op default for every hook except Name.
type Plugin interface {
	// Name is the plugin's stable identifier. It is also the module name
	// used on the sub-process command line.
	Name() string

	// Version is the plugin's display version, empty if unknown.
	Version() string

	// GetMenuTabItems returns the plugin's menu entries, or nil for none.
	GetMenuTabItems() iter.Seq[MenuTabItem]

	// GetConfiguration is called before service registration. The returned
	// callbacks run after the configuration has been read. directoryExists
	// reports whether the plugin's configuration directory is present.
	GetConfiguration(builder *viper.Viper, directoryExists bool) []ConfigureFunc

	// OnInitialize runs after the service container has started.
	// An error aborts host startup.
	OnInitialize(ctx context.Context) error

	// ConfigureRequiredServices registers services the plugin always needs.
	ConfigureRequiredServices(services *services.Collection, startup *Startup)

	// ConfigureDemandServices registers services gated by startup state.
	// It runs after every plugin's ConfigureRequiredServices.
	ConfigureDemandServices(services *services.Collection, startup *Startup)

	// OnAddAutoMapper contributes object-mapping hooks and profiles.
	OnAddAutoMapper(cfg *MapperConfig)

	// OnUnhandledException observes faults routed through Host.ReportFault.
	// It must not panic.
	OnUnhandledException(err error, name string, termination Termination)

	// ExplicitHasValue reports whether the plugin counts as explicitly present.
	ExplicitHasValue() bool

	// OnExit runs during host shutdown. The host bounds the wait.
	OnExit(ctx context.Context) error

	// GetSubProcessBootConfiguration decodes the encoded sub-process
	// arguments. The zero BootConfiguration means the arguments could not
	// be decoded.
	GetSubProcessBootConfiguration(args string) BootConfiguration
}

// Base provides default implementations of every Plugin hook except Name.
type Base struct {
	// Versions resolves Version. Plugins normally point it at a package-level
	// resolver so resolution happens once per plugin type.
	Versions *VersionResolver
}

// Version returns the resolved version, or "" when no resolver is set.
func (b Base) Version() string {
	if b.Versions == nil {
		return ""
	}
	return b.Versions.Resolve()
}

func (Base) GetMenuTabItems() iter.Seq[MenuTabItem] { return nil }

func (Base) GetConfiguration(*viper.Viper, bool) []ConfigureFunc { return nil }

func (Base) OnInitialize(context.Context) error { return nil }

func (Base) ConfigureRequiredServices(*services.Collection, *Startup) {}

func (Base) ConfigureDemandServices(*services.Collection, *Startup) {}

func (Base) OnAddAutoMapper(*MapperConfig) {}

func (Base) OnUnhandledException(error, string, Termination) {}

func (Base) ExplicitHasValue() bool { return true }

func (Base) OnExit(context.Context) error { return nil }

func (Base) GetSubProcessBootConfiguration(string) BootConfiguration {
	return BootConfiguration{}
}

// PluginSet maps plugin names to plugins. It is how the sub-process entry
// point finds the plugin named on its command line.
type PluginSet map[string]Plugin

// NewPluginSet builds a set keyed by each plugin's Name.
func NewPluginSet(plugins ...Plugin) (PluginSet, error) {
	ps := make(PluginSet, len(plugins))
	for _, p := range plugins {
		name := p.Name()
		if _, dup := ps[name]; dup {
			return nil, fmt.Errorf("%w: duplicate plugin name %q", ErrInvalidConfig, name)
		}
		ps[name] = p
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

// Get returns the plugin with the given name, or false if not found.
func (ps PluginSet) Get(name string) (Plugin, bool) {
	p, ok := ps[name]
	return p, ok
}

// Lookup returns the plugin with the given name. The error wraps
// ErrPluginNotFound.
func (ps PluginSet) Lookup(name string) (Plugin, error) {
	p, ok := ps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPluginNotFound, name)
	}
	return p, nil
}

// Keys returns all plugin names in sorted order.
func (ps PluginSet) Keys() []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Plugins returns the plugins ordered by name.
func (ps PluginSet) Plugins() []Plugin {
	plugins := make([]Plugin, 0, len(ps))
	for _, k := range ps.Keys() {
		plugins = append(plugins, ps[k])
	}
	return plugins
}

// Validate checks that every plugin has a name matching its key.
func (ps PluginSet) Validate() error {
	for key, plugin := range ps {
		if plugin == nil {
			return fmt.Errorf("%w: plugin %q is nil", ErrInvalidConfig, key)
		}
		name := plugin.Name()
		if name == "" {
			return fmt.Errorf("%w: plugin under key %q has an empty name", ErrInvalidConfig, key)
		}
		if name != key {
			return fmt.Errorf("%w: map key is %q but plugin.Name() is %q", ErrInvalidConfig, key, name)
		}
	}
	return nil
}
