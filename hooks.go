package pluginhost

import (
	"sort"

	"github.com/masegraye/plugin-host-go/services"
	"github.com/spf13/viper"
)

// ConfigureFunc applies read configuration to the service collection.
// Plugins return these from GetConfiguration.
type ConfigureFunc func(cfg *viper.Viper, services *services.Collection)

// MenuTabItem describes one entry a plugin adds to the host's menu.
type MenuTabItem struct {
	Key   string
	Title string
	Icon  string
	Order int
}

// ProcessKind tells hooks which kind of process they run in.
type ProcessKind int

const (
	// ProcessHost is the main application process.
	ProcessHost ProcessKind = iota

	// ProcessSubProcess is an isolated plugin process.
	ProcessSubProcess
)

// String returns a string representation of the kind.
func (k ProcessKind) String() string {
	switch k {
	case ProcessHost:
		return "host"
	case ProcessSubProcess:
		return "subprocess"
	default:
		return "unknown"
	}
}

// Startup is the host state handed to service registration hooks.
type Startup struct {
	Kind ProcessKind

	// ConfigDir is the root under which each plugin may keep a directory
	// named after itself.
	ConfigDir string

	features map[string]bool
}

// NewStartup creates a startup state with the given features enabled.
func NewStartup(kind ProcessKind, configDir string, features ...string) *Startup {
	s := &Startup{
		Kind:      kind,
		ConfigDir: configDir,
		features:  make(map[string]bool, len(features)),
	}
	for _, f := range features {
		s.features[f] = true
	}
	return s
}

// Enabled reports whether a feature is switched on.
func (s *Startup) Enabled(feature string) bool {
	if s == nil {
		return false
	}
	return s.features[feature]
}

// Features returns the enabled features in sorted order.
func (s *Startup) Features() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.features))
	for f, on := range s.features {
		if on {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Termination says whether a fault is ending the process.
// Some fault sources cannot tell, hence the third state.
type Termination int8

const (
	TerminationUnknown Termination = iota
	TerminationContinuing
	TerminationTerminating
)

// String returns a string representation of the termination state.
func (t Termination) String() string {
	switch t {
	case TerminationContinuing:
		return "continuing"
	case TerminationTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}
