package pluginhost

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

type namedPlugin struct {
	Base
	name string
}

func (p *namedPlugin) Name() string { return p.name }

func TestNewPluginSet(t *testing.T) {
	ps, err := NewPluginSet(&namedPlugin{name: "b"}, &namedPlugin{name: "a"})
	if err != nil {
		t.Fatalf("NewPluginSet failed: %v", err)
	}

	if got := ps.Keys(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Keys() = %v, want [a b]", got)
	}
	if p, ok := ps.Get("a"); !ok || p.Name() != "a" {
		t.Errorf("Get(a) = %v, %v", p, ok)
	}
	if _, ok := ps.Get("missing"); ok {
		t.Error("Get(missing) should not be found")
	}

	plugins := ps.Plugins()
	if len(plugins) != 2 || plugins[0].Name() != "a" || plugins[1].Name() != "b" {
		t.Errorf("Plugins() not ordered by name: %v", plugins)
	}
}

func TestPluginSet_Lookup(t *testing.T) {
	ps, err := NewPluginSet(&namedPlugin{name: "a"})
	if err != nil {
		t.Fatalf("NewPluginSet failed: %v", err)
	}

	p, err := ps.Lookup("a")
	if err != nil || p.Name() != "a" {
		t.Errorf("Lookup(a) = %v, %v", p, err)
	}

	p, err = ps.Lookup("missing")
	if !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrPluginNotFound", err)
	}
	if p != nil {
		t.Errorf("Lookup(missing) = %v, want nil", p)
	}
	if err != nil && !strings.Contains(err.Error(), `"missing"`) {
		t.Errorf("error %q does not name the module", err)
	}
}

func TestNewPluginSet_Duplicate(t *testing.T) {
	_, err := NewPluginSet(&namedPlugin{name: "a"}, &namedPlugin{name: "a"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestPluginSet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		set     PluginSet
		wantErr bool
	}{
		{name: "valid", set: PluginSet{"a": &namedPlugin{name: "a"}}},
		{name: "empty set", set: PluginSet{}},
		{name: "nil plugin", set: PluginSet{"a": nil}, wantErr: true},
		{name: "empty name", set: PluginSet{"a": &namedPlugin{}}, wantErr: true},
		{name: "key mismatch", set: PluginSet{"a": &namedPlugin{name: "b"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestBase_Defaults(t *testing.T) {
	var p Plugin = &namedPlugin{name: "defaults"}

	if !p.ExplicitHasValue() {
		t.Error("ExplicitHasValue() should default to true")
	}
	if p.GetMenuTabItems() != nil {
		t.Error("GetMenuTabItems() should default to nil")
	}
	if p.GetConfiguration(nil, true) != nil {
		t.Error("GetConfiguration() should default to nil")
	}
	if !p.GetSubProcessBootConfiguration("anything").IsZero() {
		t.Error("GetSubProcessBootConfiguration() should default to the zero sentinel")
	}
	if err := p.OnInitialize(t.Context()); err != nil {
		t.Errorf("OnInitialize() = %v", err)
	}
	if err := p.OnExit(t.Context()); err != nil {
		t.Errorf("OnExit() = %v", err)
	}
}

func TestStartup(t *testing.T) {
	s := NewStartup(ProcessSubProcess, "/etc/app", "metrics", "audit")

	if !s.Enabled("metrics") || s.Enabled("tracing") {
		t.Errorf("Enabled() wrong for %v", s.Features())
	}
	if got := s.Features(); !slices.Equal(got, []string{"audit", "metrics"}) {
		t.Errorf("Features() = %v", got)
	}
	if s.Kind.String() != "subprocess" {
		t.Errorf("Kind = %v", s.Kind)
	}

	var nilStartup *Startup
	if nilStartup.Enabled("metrics") || nilStartup.Features() != nil {
		t.Error("nil Startup should have no features")
	}
}
