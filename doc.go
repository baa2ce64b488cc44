// Package pluginhost is the kernel of an extensible application: it resolves
// plugin identity, drives plugin lifecycle hooks and bootstraps plugins that
// run isolated in their own process.
//
// # Plugins
//
// A plugin implements Plugin. Embedding Base supplies a no-op default for
// every hook, so a plugin only writes the hooks it needs:
//
//	var version = pluginhost.NewVersionResolver(
//	    pluginhost.DefaultVersionSources(Version, "example.com/echo")...,
//	)
//
//	type EchoPlugin struct {
//	    pluginhost.Base
//	}
//
//	func NewEchoPlugin() *EchoPlugin {
//	    return &EchoPlugin{Base: pluginhost.Base{Versions: version}}
//	}
//
//	func (p *EchoPlugin) Name() string { return "echo" }
//
//	func (p *EchoPlugin) ConfigureRequiredServices(s *services.Collection, _ *pluginhost.Startup) {
//	    s.Provide(NewEchoService)
//	}
//
// # Host
//
// Host calls the hooks in a fixed order during Start: GetConfiguration, the
// configure callbacks it returned, ConfigureRequiredServices, ConfigureDemandServices, OnAddAutoMapper,
// then OnInitialize once the fx container is running. Stop calls OnExit.
//
// # Sub-processes
//
// A plugin that needs isolation is started by SubProcessLauncher as
//
//	<executable> subprocess <moduleName> <channelName> <processId> <encodedArgs>
//
// The child turns that command line into an Invocation and calls
// RunSubProcessMain, which asks the plugin for its BootConfiguration and
// hands it to the generic ipc.Runner. The runner's exit code becomes the
// process exit status.
package pluginhost
