package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildLogsCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show a task's captured stdout/stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			output, err := k.TaskManager.GetLogs(cmd.Context(), args[0], tail)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, line := range output.Stdout {
				fmt.Fprintln(out, line)
			}
			errOut := cmd.ErrOrStderr()
			for _, line := range output.Stderr {
				fmt.Fprintln(errOut, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 0, "Only show the last N lines per stream (0 = all)")
	return cmd
}
