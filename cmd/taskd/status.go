package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show a task's status, or list all tasks if task-id is omitted",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			taskID := ""
			if len(args) == 1 {
				taskID = args[0]
			}

			task, list, err := k.TaskManager.GetStatus(cmd.Context(), taskID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if taskID != "" {
				printTask(out, task)
				return nil
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No tasks.")
				return nil
			}
			for _, t := range list {
				fmt.Fprintf(out, "%s  %-10s  %s\n", t.ID, t.Status, t.Prompt)
			}
			return nil
		},
	}
	return cmd
}
