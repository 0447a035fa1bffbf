package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/taskd/pkg/domain"
)

func buildResumeCmd() *cobra.Command {
	var (
		userContext string
		noWait      bool
		waitFor     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a terminal task from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			task, err := k.TaskManager.Resume(cmd.Context(), args[0], userContext)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task resumed: %s -> %s\n", args[0], task.ID)
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
	cmd.Flags().StringVar(&userContext, "context", "", "Additional context appended to the seeded prompt")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return immediately after queuing instead of waiting for completion")
	cmd.Flags().DurationVar(&waitFor, "wait", 10*time.Minute, "Maximum time to wait for task completion")
	return cmd
}
