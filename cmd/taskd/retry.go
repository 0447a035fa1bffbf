package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/taskd/pkg/domain"
)

func buildRetryCmd() *cobra.Command {
	var (
		noWait  bool
		waitFor time.Duration
	)
	cmd := &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Retry a terminal task as a new task with the same prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			task, err := k.TaskManager.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task retried: %s -> %s\n", args[0], task.ID)
			if noWait {
				return nil
			}
			final, err := awaitTerminal(cmd.Context(), k, task.ID, waitFor)
			if err != nil {
				return err
			}
			printTask(out, final)
			if final.Status == domain.TaskStatusFailed {
				return fmt.Errorf("task %s failed: %s", final.ID, final.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return immediately after queuing instead of waiting for completion")
	cmd.Flags().DurationVar(&waitFor, "wait", 10*time.Minute, "Maximum time to wait for task completion")
	return cmd
}
