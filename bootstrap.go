package pluginhost

import (
	"context"
	"fmt"

	"github.com/masegraye/plugin-host-go/exitcode"
	"github.com/masegraye/plugin-host-go/ipc"
	"github.com/masegraye/plugin-host-go/services"
)

// BootConfiguration is what a plugin needs to start as a sub-process.
//
// The zero value is the "could not decode" sentinel. A plugin that decodes
// successfully but has nothing to configure must still return a non-zero
// value; EmptyBootConfiguration exists for that.
type BootConfiguration struct {
	// ConfigureServices contributes services to the sub-process container.
	ConfigureServices func(*services.Collection)

	// ConfigureChannelProvider adjusts the channel before the sub-process attaches.
	ConfigureChannelProvider func(*ipc.ChannelProvider)
}

// IsZero reports whether c is the undecodable sentinel.
func (c BootConfiguration) IsZero() bool {
	return c.ConfigureServices == nil && c.ConfigureChannelProvider == nil
}

// EmptyBootConfiguration is a successful decode with nothing to configure.
func EmptyBootConfiguration() BootConfiguration {
	return BootConfiguration{
		ConfigureServices: func(*services.Collection) {},
	}
}

// Invocation is the four-token sub-process command line.
type Invocation struct {
	ModuleName  string
	ChannelName string
	ProcessID   string
	EncodedArgs string
}

// ParseInvocation reads the four positional tokens
// <moduleName> <channelName> <processId> <encodedArgs>.
// The encoded arguments may be empty; the other tokens may not.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) != 4 {
		return Invocation{}, fmt.Errorf("%w: want 4 arguments, got %d", ErrInvalidInvocation, len(args))
	}
	inv := Invocation{
		ModuleName:  args[0],
		ChannelName: args[1],
		ProcessID:   args[2],
		EncodedArgs: args[3],
	}
	switch {
	case inv.ModuleName == "":
		return Invocation{}, fmt.Errorf("%w: empty module name", ErrInvalidInvocation)
	case inv.ChannelName == "":
		return Invocation{}, fmt.Errorf("%w: empty channel name", ErrInvalidInvocation)
	case inv.ProcessID == "":
		return Invocation{}, fmt.Errorf("%w: empty process id", ErrInvalidInvocation)
	}
	return inv, nil
}

// Args returns the invocation as command-line tokens, in contract order.
func (inv Invocation) Args() []string {
	return []string{inv.ModuleName, inv.ChannelName, inv.ProcessID, inv.EncodedArgs}
}

// SubProcessRunner runs a sub-process once its boot configuration is known.
// args is always [channelName, processId]. *ipc.Runner is the standard
// implementation.
type SubProcessRunner interface {
	Run(
		ctx context.Context,
		moduleName string,
		configureServices func(*services.Collection),
		configureChannelProvider func(*ipc.ChannelProvider),
		args []string,
	) exitcode.Code
}

var _ SubProcessRunner = (*ipc.Runner)(nil)

// RunSubProcessMain is the sub-process entry point for a plugin.
//
// It decodes the plugin's boot configuration from inv.EncodedArgs. If the
// plugin returns the zero BootConfiguration the runner is never started and
// exitcode.GetSubProcessBootConfigurationFail is returned. Otherwise the
// runner's exit code is returned unchanged.
//
// The sub-process container always holds a *Startup of kind
// ProcessSubProcess ahead of the plugin's own services.
func RunSubProcessMain(ctx context.Context, plugin Plugin, runner SubProcessRunner, inv Invocation) exitcode.Code {
	boot := plugin.GetSubProcessBootConfiguration(inv.EncodedArgs)
	if boot.IsZero() {
		return exitcode.GetSubProcessBootConfigurationFail
	}

	configure := func(c *services.Collection) {
		c.Supply(NewStartup(ProcessSubProcess, ""))
		if boot.ConfigureServices != nil {
			boot.ConfigureServices(c)
		}
	}

	return runner.Run(ctx,
		inv.ModuleName,
		configure,
		boot.ConfigureChannelProvider,
		[]string{inv.ChannelName, inv.ProcessID},
	)
}
