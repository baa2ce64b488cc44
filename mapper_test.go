package pluginhost

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endpoint struct {
	Host    string        `mapstructure:"host"`
	Timeout time.Duration `mapstructure:"timeout"`
	Tags    []string      `mapstructure:"tags"`
}

func upperHostHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if m, ok := data.(map[string]any); ok && to == reflect.TypeOf(endpoint{}) {
			if h, ok := m["host"].(string); ok {
				out := make(map[string]any, len(m))
				for k, v := range m {
					out[k] = v
				}
				out["host"] = strings.ToUpper(h)
				return out, nil
			}
		}
		return data, nil
	}
}

func TestMapper_DefaultHooks(t *testing.T) {
	m := NewMapperConfig().Build()

	var got endpoint
	err := m.Map(map[string]any{"host": "db", "timeout": "1500ms", "tags": "a,b"}, &got)
	require.NoError(t, err)
	assert.Equal(t, endpoint{Host: "db", Timeout: 1500 * time.Millisecond, Tags: []string{"a", "b"}}, got)
}

func TestMapper_Profiles(t *testing.T) {
	cfg := NewMapperConfig()
	cfg.CreateMap("upper", upperHostHook())
	cfg.CreateMap("plain")
	m := cfg.Build()

	assert.Equal(t, []string{"plain", "upper"}, m.Profiles())

	var plain, upper endpoint
	input := map[string]any{"host": "db", "timeout": "1s"}
	require.NoError(t, m.Map(input, &plain))
	require.NoError(t, m.MapProfile("upper", input, &upper))

	assert.Equal(t, "db", plain.Host)
	assert.Equal(t, "DB", upper.Host)
	assert.Equal(t, time.Second, upper.Timeout, "profiles keep the global hooks")

	err := m.MapProfile("missing", input, &upper)
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestMapper_BuildIsSnapshot(t *testing.T) {
	cfg := NewMapperConfig()
	m := cfg.Build()
	cfg.CreateMap("late")

	assert.Empty(t, m.Profiles())
}

func TestMapper_WeakAndTagName(t *testing.T) {
	cfg := NewMapperConfig()
	cfg.WeaklyTypedInput = true
	cfg.TagName = "cfg"
	m := cfg.Build()

	var out struct {
		Port int `cfg:"listen_port"`
	}
	require.NoError(t, m.Map(map[string]any{"listen_port": "8080"}, &out))
	assert.Equal(t, 8080, out.Port)
}

func TestMapper_Unmarshal(t *testing.T) {
	v := viper.New()
	v.Set("backend.host", "cache")
	v.Set("backend.timeout", "250ms")
	v.Set("backend.tags", "x,y")

	m := NewMapperConfig().Build()

	var got endpoint
	require.NoError(t, m.Unmarshal(v, "backend", &got))
	assert.Equal(t, endpoint{Host: "cache", Timeout: 250 * time.Millisecond, Tags: []string{"x", "y"}}, got)

	var whole struct {
		Backend endpoint `mapstructure:"backend"`
	}
	require.NoError(t, m.Unmarshal(v, "", &whole))
	assert.Equal(t, "cache", whole.Backend.Host)
}
