package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	pluginhost "github.com/masegraye/plugin-host-go"
	"github.com/masegraye/plugin-host-go/exitcode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSubProcessCommand(set pluginhost.PluginSet, o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "subprocess <module> <channel> <pid> <encodedArgs>",
		Short: "Run a plugin as a sub-process of a host",
		Long: `Run a plugin as a sub-process. This command is started by the host;
it is not meant to be run by hand.

The process exits with the code returned by the sub-process runner.`,
		Hidden: true,
		// Encoded arguments may start with '-'.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.exit(runSubProcess(cmd.Context(), set, o, args).Int())
			return nil
		},
	}
}

func runSubProcess(ctx context.Context, set pluginhost.PluginSet, o *options, args []string) exitcode.Code {
	logger, err := o.buildLogger()
	if err != nil {
		return exitcode.Failure
	}
	defer logger.Sync()

	inv, err := pluginhost.ParseInvocation(args)
	if err != nil {
		logger.Error("invalid invocation", zap.Strings("args", args), zap.Error(err))
		return exitcode.Usage
	}

	plugin, err := set.Lookup(inv.ModuleName)
	if err != nil {
		logger.Error("unknown module", zap.Strings("known", set.Keys()), zap.Error(err))
		return exitcode.Usage
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := pluginhost.RunSubProcessMain(ctx, plugin, o.runner(logger), inv)
	if code == exitcode.GetSubProcessBootConfigurationFail {
		logger.Error("plugin could not decode its sub-process arguments",
			zap.String("module", inv.ModuleName),
			zap.String("args", inv.EncodedArgs),
		)
	}
	return code
}
