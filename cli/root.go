// Package cli provides the cobra command tree for a plugin host binary.
//
// The same binary serves as host and as sub-process:
//
//	app run --config host.yaml
//	app subprocess <module> <channel> <pid> <encodedArgs>
package cli

import (
	"fmt"

	pluginhost "github.com/masegraye/plugin-host-go"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree for the plugins in set.
func NewRootCommand(set pluginhost.PluginSet, opts ...Option) *cobra.Command {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	rootCmd := &cobra.Command{
		Use:   o.name,
		Short: "Plugin host",
		Long: fmt.Sprintf(`%s runs a set of plugins in one host process and can isolate
plugins in sub-processes that talk to the host over a local channel.`, o.name),
		Version:       o.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(newRunCommand(set, o))
	rootCmd.AddCommand(newSubProcessCommand(set, o))
	rootCmd.AddCommand(newVersionCommand(set))

	return rootCmd
}

func newVersionCommand(set pluginhost.PluginSet) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of every plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, p := range set.Plugins() {
				v := p.Version()
				if v == "" {
					v = "(unknown)"
				}
				fmt.Fprintf(out, "%s %s\n", p.Name(), v)
			}
			return nil
		},
	}
}
