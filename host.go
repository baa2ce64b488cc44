package pluginhost

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/masegraye/plugin-host-go/services"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// HostConfig configures a Host.
type HostConfig struct {
	// Plugins are driven in slice order. Required.
	Plugins []Plugin

	// Startup is handed to service registration hooks.
	// Default: NewStartup(ProcessHost, "")
	Startup *Startup

	// Config is the configuration builder passed to GetConfiguration and
	// read before the configure callbacks run.
	// Default: viper.New()
	Config *viper.Viper

	// Logger is used by the host and supplied to the service container.
	// Default: zap.NewNop()
	Logger *zap.Logger

	// StartTimeout bounds starting the service container.
	// Default: 15 seconds
	StartTimeout time.Duration

	// ShutdownTimeout bounds the OnExit hooks as a group, and separately
	// bounds stopping the service container.
	// Default: 10 seconds
	ShutdownTimeout time.Duration

	// Options are extra fx options for the host container.
	Options []fx.Option
}

// Validate checks HostConfig for errors.
func (cfg *HostConfig) Validate() error {
	if len(cfg.Plugins) == 0 {
		return fmt.Errorf("%w: Plugins must contain at least one plugin", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		if p == nil {
			return fmt.Errorf("%w: plugin %d is nil", ErrInvalidConfig, i)
		}
		name := p.Name()
		if name == "" {
			return fmt.Errorf("%w: plugin %d has an empty name", ErrInvalidConfig, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate plugin name %q", ErrInvalidConfig, name)
		}
		seen[name] = true
	}

	if cfg.StartTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Host drives plugin lifecycle hooks and owns the host service container.
type Host struct {
	cfg     HostConfig
	plugins []Plugin
	startup *Startup
	config  *viper.Viper
	logger  *zap.Logger

	mu        sync.Mutex
	app       *fx.App
	mapper    *Mapper
	started   bool
	populated []any
}

// NewHost creates a host. Nothing runs until Start.
func NewHost(cfg HostConfig) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Startup == nil {
		cfg.Startup = NewStartup(ProcessHost, "")
	}
	if cfg.Config == nil {
		cfg.Config = viper.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return &Host{
		cfg:     cfg,
		plugins: append([]Plugin(nil), cfg.Plugins...),
		startup: cfg.Startup,
		config:  cfg.Config,
		logger:  cfg.Logger,
	}, nil
}

// Plugins returns the plugins in drive order.
func (h *Host) Plugins() []Plugin {
	return append([]Plugin(nil), h.plugins...)
}

// Config returns the host configuration.
func (h *Host) Config() *viper.Viper {
	return h.config
}

// Mapper returns the mapper built during Start, nil before.
func (h *Host) Mapper() *Mapper {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mapper
}

// Start runs the startup hooks and starts the service container.
//
// Hook order: every plugin's GetConfiguration, then the configure callbacks,
// then ConfigureRequiredServices, ConfigureDemandServices and OnAddAutoMapper
// phase by phase, then OnInitialize once the container is running. Hook
// errors are returned as-is, wrapped with the plugin name; there is no retry.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrHostStarted
	}

	collection := services.New()

	var configure []ConfigureFunc
	for _, p := range h.plugins {
		dirExists := h.pluginDirExists(p.Name())
		h.logger.Debug("get configuration", zap.String("plugin", p.Name()), zap.Bool("directory_exists", dirExists))
		configure = append(configure, p.GetConfiguration(h.config, dirExists)...)
	}

	if err := h.config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read configuration: %w", err)
		}
	}
	for _, fn := range configure {
		if fn != nil {
			fn(h.config, collection)
		}
	}

	for _, p := range h.plugins {
		p.ConfigureRequiredServices(collection, h.startup)
	}
	for _, p := range h.plugins {
		p.ConfigureDemandServices(collection, h.startup)
	}

	mapperConfig := NewMapperConfig()
	for _, p := range h.plugins {
		p.OnAddAutoMapper(mapperConfig)
	}
	mapper := mapperConfig.Build()

	var populate fx.Option = fx.Options()
	if len(h.populated) > 0 {
		populate = fx.Populate(h.populated...)
	}

	app := fx.New(
		collection.Options(),
		fx.Options(h.cfg.Options...),
		populate,
		fx.Supply(h.config, mapper, h.startup, h.logger),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: h.logger.Named("fx")}
		}),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, h.cfg.StartTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	for _, p := range h.plugins {
		if err := p.OnInitialize(ctx); err != nil {
			h.stopApp(app)
			return fmt.Errorf("plugin %q: initialize: %w", p.Name(), err)
		}
		h.logger.Info("plugin initialized", zap.String("plugin", p.Name()), zap.String("version", p.Version()))
	}

	h.app = app
	h.mapper = mapper
	h.started = true
	return nil
}

// Stop runs OnExit for every plugin in reverse order, then stops the service
// container. The OnExit hooks share one ShutdownTimeout budget; a hook still
// running at the deadline is abandoned. The container gets its own
// ShutdownTimeout, so its OnStop hooks run even after a hung OnExit.
// Errors are joined.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}
	h.started = false

	exitCtx, cancelExit := context.WithTimeout(ctx, h.cfg.ShutdownTimeout)
	defer cancelExit()

	var errs []error
	for i := len(h.plugins) - 1; i >= 0; i-- {
		p := h.plugins[i]
		if err := h.exitPlugin(exitCtx, p); err != nil {
			h.logger.Warn("plugin exit", zap.String("plugin", p.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("plugin %q: exit: %w", p.Name(), err))
		}
	}

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.ShutdownTimeout)
	defer cancelStop()
	if err := h.app.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	h.app = nil

	return errors.Join(errs...)
}

// Populate registers pointers to be filled from the service container.
// The container only exists while the host runs, so targets are filled by
// the next Start; Populate on a started host returns ErrHostStarted.
// Each target must be a non-nil pointer.
//
//	var db *sql.DB
//	host.Populate(&db)
//	host.Start(ctx) // db is set
func (h *Host) Populate(targets ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrHostStarted
	}
	for i, t := range targets {
		if v := reflect.ValueOf(t); !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
			return fmt.Errorf("%w: populate target %d is %T, want a non-nil pointer", ErrInvalidConfig, i, t)
		}
	}
	h.populated = append(h.populated, targets...)
	return nil
}

// exitPlugin waits for OnExit or the context, whichever comes first.
func (h *Host) exitPlugin(ctx context.Context, p Plugin) error {
	done := make(chan error, 1)
	go func() {
		done <- p.OnExit(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) stopApp(app *fx.App) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		h.logger.Warn("stop services after failed start", zap.Error(err))
	}
}

func (h *Host) pluginDirExists(name string) bool {
	if h.startup.ConfigDir == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(h.startup.ConfigDir, name))
	return err == nil && fi.IsDir()
}

// ExplicitPlugins returns the plugins whose ExplicitHasValue is true.
func (h *Host) ExplicitPlugins() []Plugin {
	var out []Plugin
	for _, p := range h.plugins {
		if p.ExplicitHasValue() {
			out = append(out, p)
		}
	}
	return out
}

// MenuTabItems collects every plugin's menu entries, ordered by Order then Key.
func (h *Host) MenuTabItems() []MenuTabItem {
	var items []MenuTabItem
	for _, p := range h.plugins {
		seq := p.GetMenuTabItems()
		if seq == nil {
			continue
		}
		for item := range seq {
			items = append(items, item)
		}
	}
	slices.SortStableFunc(items, func(a, b MenuTabItem) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return items
}

// ReportFault routes a fault to every plugin's OnUnhandledException.
// An observer that panics is logged and skipped.
func (h *Host) ReportFault(err error, source string, termination Termination) {
	h.logger.Error("unhandled fault",
		zap.Error(err),
		zap.String("source", source),
		zap.Stringer("termination", termination),
	)
	for _, p := range h.plugins {
		h.notify(p, err, source, termination)
	}
}

func (h *Host) notify(p Plugin, err error, source string, termination Termination) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("fault observer panicked", zap.String("plugin", p.Name()), zap.Any("panic", r))
		}
	}()
	p.OnUnhandledException(err, source, termination)
}

// Recover reports a panic as a terminating fault and re-panics.
// It must be deferred directly:
//
//	defer host.Recover("worker")
func (h *Host) Recover(source string) {
	if r := recover(); r != nil {
		h.ReportFault(panicError(r), source, TerminationTerminating)
		panic(r)
	}
}

// Go runs fn in a goroutine. A panic in fn is reported as a non-terminating
// fault and swallowed.
func (h *Host) Go(source string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.ReportFault(panicError(r), source, TerminationContinuing)
			}
		}()
		fn()
	}()
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
