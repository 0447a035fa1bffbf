package handlers

import (
	"context"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/obs"
	"github.com/haasonsaas/taskd/internal/scheduleexec"
	"github.com/haasonsaas/taskd/internal/taskmanager"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// RegisterSchedule wires ScheduleTriggered to task materialization: it
// builds a delegate request from the schedule's template (resolving an
// afterScheduleId chain into a dependency edge), delegates it through
// the same path as any other task, records the execution audit row,
// advances the schedule to its next occurrence, and reports the
// materialized task id back to the executor so its live-tracking can
// clear once the task finishes.
func RegisterSchedule(bus *eventbus.Bus, store *kernelstore.Store, executor *scheduleexec.Executor, logger *obs.Logger) error {
	if logger == nil {
		logger = obs.NewLogger(obs.LogConfig{})
	}
	mgr := taskmanager.New(bus)

	_, err := bus.Subscribe(eventbus.ScheduleTriggered, func(ctx context.Context, evt eventbus.Event) error {
		payload := evt.Payload.(eventbus.ScheduleTriggeredPayload)
		sch := payload.Schedule

		request := sch.TaskTemplate
		if sch.AfterScheduleID != "" {
			dep, err := scheduleexec.ResolveChainedDependency(ctx, store, sch.AfterScheduleID)
			if err != nil {
				logger.Error(ctx, "resolve chained schedule dependency failed", "schedule_id", sch.ID, "error", err)
			} else if dep != "" {
				request.DependsOn = append(append([]string{}, request.DependsOn...), dep)
			}
		}

		now := time.Now()
		task, err := mgr.Delegate(ctx, request)
		if err != nil {
			_ = scheduleexec.RecordExecution(ctx, store, sch.ID, "", payload.ScheduledFor, now, domain.ScheduleExecutionFailed, err.Error())
			return err
		}

		executor.MarkTriggered(sch.ID, task.ID)

		if err := scheduleexec.RecordExecution(ctx, store, sch.ID, task.ID, payload.ScheduledFor, now, domain.ScheduleExecutionTriggered, ""); err != nil {
			logger.Error(ctx, "record schedule execution failed", "schedule_id", sch.ID, "error", err)
		}

		return scheduleexec.Advance(ctx, store, sch, now)
	})
	return err
}
