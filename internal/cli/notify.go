package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ixfnotify/internal/app"
)

func newNotifyCommand() *cobra.Command {
	var cfgPath, input string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Process one batch file and exit",
		Long:  `Notify queues the proposals of a batch file, sends the consolidated emails and tickets, reports source errors and waits for delivery.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.RunBatch(cmd.Context(), input); err != nil {
				return err
			}
			sent := a.Dispatch().Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "%d message(s) delivered\n", len(sent))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config (json or yaml)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "batch file (yaml or json)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
