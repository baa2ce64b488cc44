// Package pluginhostfx wires a plugin host and sub-process launcher into an
// fx application.
package pluginhostfx

import (
	"context"

	pluginhost "github.com/masegraye/plugin-host-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type loggerParams struct {
	fx.In

	Logger     *zap.Logger           `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// HostModule creates an fx module that provides a *pluginhost.Host.
// The host runs its startup hooks on fx.OnStart and its exit hooks on fx.OnStop.
// A *zap.Logger in the enclosing app is used when cfg.Logger is nil.
func HostModule(cfg pluginhost.HostConfig) fx.Option {
	return fx.Module("plugin-host",
		fx.Provide(func(lc fx.Lifecycle, p loggerParams) (*pluginhost.Host, error) {
			if cfg.Logger == nil {
				cfg.Logger = p.Logger
			}
			host, err := pluginhost.NewHost(cfg)
			if err != nil {
				return nil, err
			}

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return host.Start(ctx)
				},
				OnStop: func(ctx context.Context) error {
					return host.Stop(ctx)
				},
			})

			return host, nil
		}),
	)
}

// LauncherModule creates an fx module that provides a
// *pluginhost.SubProcessLauncher. Every running sub-process is stopped on
// fx.OnStop.
func LauncherModule(cfg pluginhost.LauncherConfig) fx.Option {
	return fx.Module("plugin-launcher",
		fx.Provide(func(lc fx.Lifecycle, p loggerParams) (*pluginhost.SubProcessLauncher, error) {
			if cfg.Logger == nil {
				cfg.Logger = p.Logger
			}
			if cfg.Registerer == nil {
				cfg.Registerer = p.Registerer
			}
			launcher, err := pluginhost.NewSubProcessLauncher(cfg)
			if err != nil {
				return nil, err
			}

			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return launcher.StopAll(ctx)
				},
			})

			return launcher, nil
		}),
	)
}

// StartSubProcesses launches each spec on fx.OnStart. It requires
// LauncherModule. Example:
//
//	fx.New(
//	    pluginhostfx.LauncherModule(pluginhost.LauncherConfig{}),
//	    pluginhostfx.StartSubProcesses(pluginhost.SubProcessSpec{Module: "echo"}),
//	)
func StartSubProcesses(specs ...pluginhost.SubProcessSpec) fx.Option {
	return fx.Invoke(func(lc fx.Lifecycle, launcher *pluginhost.SubProcessLauncher) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				for _, spec := range specs {
					if _, err := launcher.Launch(ctx, spec); err != nil {
						return err
					}
				}
				return nil
			},
		})
	})
}
