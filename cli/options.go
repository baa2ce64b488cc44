package cli

import (
	"os"

	pluginhost "github.com/masegraye/plugin-host-go"
	"github.com/masegraye/plugin-host-go/ipc"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Option configures the root command.
type Option func(*options)

type options struct {
	name     string
	version  string
	logger   *zap.Logger
	exit     func(int)
	runner   func(*zap.Logger) pluginhost.SubProcessRunner
	launcher pluginhost.LauncherConfig
	fxOpts   []fx.Option
}

func defaultOptions() *options {
	return &options{
		name: "pluginhost",
		exit: os.Exit,
		runner: func(logger *zap.Logger) pluginhost.SubProcessRunner {
			return ipc.NewRunner(logger)
		},
	}
}

// WithName sets the command name and the config file base name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithVersion sets the version reported by --version.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithLogger replaces the production logger built at startup.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithExit replaces os.Exit for the subprocess command.
func WithExit(exit func(int)) Option {
	return func(o *options) { o.exit = exit }
}

// WithRunner replaces the sub-process runner.
func WithRunner(runner pluginhost.SubProcessRunner) Option {
	return func(o *options) {
		o.runner = func(*zap.Logger) pluginhost.SubProcessRunner { return runner }
	}
}

// WithLauncherConfig sets the launcher used by the run command.
func WithLauncherConfig(cfg pluginhost.LauncherConfig) Option {
	return func(o *options) { o.launcher = cfg }
}

// WithFxOptions adds options to the run command's application.
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) { o.fxOpts = append(o.fxOpts, opts...) }
}

func (o *options) buildLogger() (*zap.Logger, error) {
	if o.logger != nil {
		return o.logger, nil
	}
	return zap.NewProduction()
}
