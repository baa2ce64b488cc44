package pluginhost

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// MapperConfig collects object-mapping contributions from plugins.
// Hooks added with AddHook apply to every mapping; hooks added with
// CreateMap apply only when the named profile is requested.
type MapperConfig struct {
	// TagName is the struct tag read during mapping.
	// Default: "mapstructure"
	TagName string

	// WeaklyTypedInput enables conversions such as "1" → 1.
	WeaklyTypedInput bool

	hooks    []mapstructure.DecodeHookFunc
	profiles map[string][]mapstructure.DecodeHookFunc
}

// NewMapperConfig returns a config preloaded with the hooks viper applies by default.
func NewMapperConfig() *MapperConfig {
	return &MapperConfig{
		hooks: []mapstructure.DecodeHookFunc{
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		},
		profiles: make(map[string][]mapstructure.DecodeHookFunc),
	}
}

// AddHook registers hooks for every mapping.
func (c *MapperConfig) AddHook(hooks ...mapstructure.DecodeHookFunc) {
	c.hooks = append(c.hooks, hooks...)
}

// CreateMap registers hooks under a named profile. Calling it again for the
// same profile appends.
func (c *MapperConfig) CreateMap(profile string, hooks ...mapstructure.DecodeHookFunc) {
	c.profiles[profile] = append(c.profiles[profile], hooks...)
}

// Build freezes the config into a Mapper.
func (c *MapperConfig) Build() *Mapper {
	m := &Mapper{
		tagName:  c.TagName,
		weak:     c.WeaklyTypedInput,
		hooks:    append([]mapstructure.DecodeHookFunc(nil), c.hooks...),
		profiles: make(map[string][]mapstructure.DecodeHookFunc, len(c.profiles)),
	}
	for name, hooks := range c.profiles {
		m.profiles[name] = append(append([]mapstructure.DecodeHookFunc(nil), m.hooks...), hooks...)
	}
	return m
}

// Mapper decodes loosely typed values (maps, configuration sections) into
// structs using the hooks plugins contributed.
type Mapper struct {
	tagName  string
	weak     bool
	hooks    []mapstructure.DecodeHookFunc
	profiles map[string][]mapstructure.DecodeHookFunc
}

// Map decodes input into output, which must be a pointer.
func (m *Mapper) Map(input, output any) error {
	return m.decode(m.hooks, input, output)
}

// MapProfile decodes with the global hooks plus the profile's hooks.
func (m *Mapper) MapProfile(profile string, input, output any) error {
	hooks, ok := m.profiles[profile]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	return m.decode(hooks, input, output)
}

// Profiles returns the profile names in sorted order.
func (m *Mapper) Profiles() []string {
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unmarshal decodes a configuration section through the mapper's hooks.
// An empty key decodes the whole configuration.
func (m *Mapper) Unmarshal(v *viper.Viper, key string, output any) error {
	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(m.hooks...)),
		func(dc *mapstructure.DecoderConfig) {
			dc.WeaklyTypedInput = dc.WeaklyTypedInput || m.weak
			if m.tagName != "" {
				dc.TagName = m.tagName
			}
		},
	}
	if key == "" {
		return v.Unmarshal(output, opts...)
	}
	return v.UnmarshalKey(key, output, opts...)
}

func (m *Mapper) decode(hooks []mapstructure.DecodeHookFunc, input, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(hooks...),
		WeaklyTypedInput: m.weak,
		TagName:          m.tagName,
		Result:           output,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	return dec.Decode(input)
}
