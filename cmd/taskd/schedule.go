package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/taskd/internal/scheduleexec"
	"github.com/haasonsaas/taskd/pkg/domain"
)

func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring and one-time task schedules",
	}
	cmd.AddCommand(
		buildScheduleCreateCmd(),
		buildScheduleListCmd(),
		buildScheduleGetCmd(),
		buildSchedulePauseCmd(),
		buildScheduleResumeCmd(),
		buildScheduleCancelCmd(),
	)
	return cmd
}

func buildScheduleCreateCmd() *cobra.Command {
	var (
		dir       string
		cronExpr  string
		at        string
		timezone  string
		priority  string
		timeoutMs int64
		maxRuns   int
	)

	cmd := &cobra.Command{
		Use:   "create <prompt>",
		Short: "Create a cron-recurring or one-time schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (cronExpr == "") == (at == "") {
				return fmt.Errorf("exactly one of --cron or --at must be set")
			}
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

			sch := &domain.Schedule{
				ID: uuid.NewString(),
				TaskTemplate: domain.DelegateTaskRequest{
					Prompt:           args[0],
					Priority:         domain.TaskPriority(priority),
					WorkingDirectory: absDir,
					TimeoutMs:        timeoutMs,
				},
				Timezone:        timezone,
				MissedRunPolicy: domain.MissedRunPolicySkip,
				Status:          domain.ScheduleStatusActive,
			}
			if maxRuns > 0 {
				sch.MaxRuns = &maxRuns
			}

			now := time.Now()
			if cronExpr != "" {
				sch.ScheduleType = domain.ScheduleTypeCron
				sch.CronExpression = cronExpr
				next, err := scheduleexec.NextCronRun(sch, now)
				if err != nil {
					return err
				}
				sch.NextRunAt = &next
			} else {
				when, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be an RFC3339 timestamp: %w", err)
				}
				sch.ScheduleType = domain.ScheduleTypeOneTime
				sch.ScheduledAt = &when
				sch.NextRunAt = &when
			}

			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := k.Store.CreateSchedule(cmd.Context(), sch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule created: %s (next run %s)\n", sch.ID, sch.NextRunAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for the materialized task (default: current directory)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression for a recurring schedule")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 timestamp for a one-time schedule")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "Timezone the cron expression is evaluated in")
	cmd.Flags().StringVar(&priority, "priority", string(domain.DefaultPriority), "Task priority (P0, P1, P2)")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", domain.DefaultTimeoutMs, "Per-run task timeout in milliseconds")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Stop after this many runs (0 = unbounded)")
	return cmd
}

func buildScheduleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			scheds, err := k.Store.ListSchedules(cmd.Context(), 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(scheds) == 0 {
				fmt.Fprintln(out, "No schedules.")
				return nil
			}
			for _, s := range scheds {
				next := "-"
				if s.NextRunAt != nil {
					next = s.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s  %-9s  %-8s  next=%s  runs=%d  %s\n", s.ID, s.Status, s.ScheduleType, next, s.RunCount, s.TaskTemplate.Prompt)
			}
			return nil
		},
	}
	return cmd
}

func buildScheduleGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <schedule-id>",
		Short: "Show a single schedule's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, closeFn, err := openKernel()
			if err != nil {
				return err
			}
			defer closeFn()

			sch, err := k.Store.GetSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if sch == nil {
				return domain.NewError(domain.ErrCodeScheduleNotFound, fmt.Sprintf("schedule %s not found", args[0]))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:        %s\n", sch.ID)
			fmt.Fprintf(out, "status:    %s\n", sch.Status)
			fmt.Fprintf(out, "type:      %s\n", sch.ScheduleType)
			if sch.CronExpression != "" {
				fmt.Fprintf(out, "cron:      %s (%s)\n", sch.CronExpression, sch.Timezone)
			}
			if sch.NextRunAt != nil {
				fmt.Fprintf(out, "next_run:  %s\n", sch.NextRunAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "run_count: %d\n", sch.RunCount)
			fmt.Fprintf(out, "prompt:    %s\n", sch.TaskTemplate.Prompt)
			return nil
		},
	}
	return cmd
}

func setScheduleStatus(cmd *cobra.Command, scheduleID string, status domain.ScheduleStatus) error {
	k, closeFn, err := openKernel()
	if err != nil {
		return err
	}
	defer closeFn()

	sch, err := k.Store.GetSchedule(cmd.Context(), scheduleID)
	if err != nil {
		return err
	}
	if sch == nil {
		return domain.NewError(domain.ErrCodeScheduleNotFound, fmt.Sprintf("schedule %s not found", scheduleID))
	}
	sch.Status = status
	if err := k.Store.UpdateSchedule(cmd.Context(), sch); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s: %s\n", scheduleID, status)
	return nil
}

func buildSchedulePauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <schedule-id>",
		Short: "Pause a schedule so it stops triggering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleStatus(cmd, args[0], domain.ScheduleStatusPaused)
		},
	}
}

func buildScheduleResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <schedule-id>",
		Short: "Resume a paused schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleStatus(cmd, args[0], domain.ScheduleStatusActive)
		},
	}
}

func buildScheduleCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <schedule-id>",
		Short: "Cancel a schedule permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleStatus(cmd, args[0], domain.ScheduleStatusCancelled)
		},
	}
}
