// Package cli holds the ixfnotify commands.
package cli

import "github.com/spf13/cobra"

const defaultConfigPath = "./config.yaml"

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ixfnotify",
		Short:         "IX-F importer notifications",
		Long:          `ixfnotify renders IX-F change proposals and delivers them to networks, exchanges and the admin committee as emails and tickets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCommand(),
		newNotifyCommand(),
		newRenderCommand(),
	)
	return root
}
