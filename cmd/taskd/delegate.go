package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/taskd/pkg/domain"
)

func buildDelegateCmd() *cobra.Command {
	var (
		dir          string
		priority     string
		timeoutMs    int64
		dependsOn    []string
		continueFrom string
		noWait       bool
		waitFor      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "delegate <prompt>",
		Short: "Delegate a prompt as a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				dir = wd
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolve --dir: %w", err)
			}

			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			task, err := k.TaskManager.Delegate(cmd.Context(), domain.DelegateTaskRequest{
				Prompt:           args[0],
				Priority:         domain.TaskPriority(priority),
				WorkingDirectory: absDir,
				TimeoutMs:        timeoutMs,
				DependsOn:        dependsOn,
				ContinueFrom:     continueFrom,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task delegated: %s\n", task.ID)

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

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory (default: current directory)")
	cmd.Flags().StringVar(&priority, "priority", string(domain.DefaultPriority), "Task priority (P0, P1, P2)")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", domain.DefaultTimeoutMs, "Task timeout in milliseconds")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", nil, "Task ID this task depends on (repeatable)")
	cmd.Flags().StringVar(&continueFrom, "continue-from", "", "Seed this task's prompt from a prior task's checkpoint")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return immediately after queuing instead of waiting for completion")
	cmd.Flags().DurationVar(&waitFor, "wait", 10*time.Minute, "Maximum time to wait for task completion")
	return cmd
}

func printTask(out io.Writer, t *domain.Task) {
	fmt.Fprintf(out, "id:       %s\n", t.ID)
	fmt.Fprintf(out, "status:   %s\n", t.Status)
	if t.ExitCode != nil {
		fmt.Fprintf(out, "exit:     %d\n", *t.ExitCode)
	}
	if t.ErrorMessage != "" {
		fmt.Fprintf(out, "error:    %s\n", t.ErrorMessage)
	}
}
