package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pluginhost "github.com/masegraye/plugin-host-go"
	"github.com/masegraye/plugin-host-go/pluginhostfx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// SubProcessConfig is one entry of the "subprocesses" configuration list.
type SubProcessConfig struct {
	Module string   `mapstructure:"module"`
	Args   []string `mapstructure:"args"`
	Env    []string `mapstructure:"env"`
}

type runFlags struct {
	configFile string
	configDir  string
	features   []string
}

func newRunCommand(set pluginhost.PluginSet, o *options) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host and its sub-processes",
		Long: `Start the host: run every plugin's startup hooks, launch the
sub-processes listed under "subprocesses" in the configuration, and wait for
SIGINT or SIGTERM.

Configuration is read from --config, or from <name>.yaml in the working
directory when present. Every key can be overridden from the environment with
the PLUGINHOST_ prefix, e.g. PLUGINHOST_LOG_LEVEL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), set, o, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "configuration file")
	cmd.Flags().StringVar(&flags.configDir, "config-dir", "", "directory holding per-plugin configuration directories")
	cmd.Flags().StringSliceVar(&flags.features, "feature", nil, "enable a startup feature (repeatable)")

	return cmd
}

func newViper(name string, flags runFlags) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PLUGINHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags.configFile != "" {
		v.SetConfigFile(flags.configFile)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(".")
	}
	return v
}

func runHost(ctx context.Context, set pluginhost.PluginSet, o *options, flags runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := o.buildLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	hostCfg := pluginhost.HostConfig{
		Plugins: set.Plugins(),
		Startup: pluginhost.NewStartup(pluginhost.ProcessHost, flags.configDir, flags.features...),
		Config:  newViper(o.name, flags),
		Logger:  logger,
	}

	launcherCfg := o.launcher
	if launcherCfg.Logger == nil {
		launcherCfg.Logger = logger
	}

	app := fx.New(
		fx.Supply(logger),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		pluginhostfx.HostModule(hostCfg),
		pluginhostfx.LauncherModule(launcherCfg),
		fx.Invoke(launchConfigured),
		fx.Options(o.fxOpts...),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	// Cancellation during startup takes effect once startup completes.
	startCtx, cancelStart := context.WithTimeout(context.WithoutCancel(ctx), app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("host running", zap.Strings("plugins", set.Keys()))

	select {
	case sig := <-app.Wait():
		logger.Info("shutting down", zap.Any("signal", sig.Signal), zap.Int("exit_code", sig.ExitCode))
	case <-ctx.Done():
		logger.Info("shutting down", zap.Error(context.Cause(ctx)))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// launchConfigured starts the sub-processes listed in the configuration once
// the host has started.
func launchConfigured(lc fx.Lifecycle, host *pluginhost.Host, launcher *pluginhost.SubProcessLauncher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var entries []SubProcessConfig
			if err := host.Mapper().Unmarshal(host.Config(), "subprocesses", &entries); err != nil {
				return fmt.Errorf("decode subprocesses: %w", err)
			}

			for _, e := range entries {
				if e.Module == "" {
					return fmt.Errorf("%w: subprocess entry without module", pluginhost.ErrInvalidConfig)
				}
				sp, err := launcher.Launch(ctx, pluginhost.SubProcessSpec{
					Module: e.Module,
					Args:   e.Args,
					Env:    e.Env,
				})
				if err != nil {
					return err
				}
				logger.Info("sub-process started", zap.String("module", sp.Module), zap.Int("pid", sp.Pid()))

				host.Go("subprocess/"+sp.Module, func() {
					<-sp.Done()
					code, _ := sp.Wait()
					if code != 0 {
						host.ReportFault(fmt.Errorf("%w: %s (exit code %d)", pluginhost.ErrSubProcessExited, sp.Module, code),
							"subprocess/"+sp.Module, pluginhost.TerminationContinuing)
					}
				})
			}
			return nil
		},
	})
}
