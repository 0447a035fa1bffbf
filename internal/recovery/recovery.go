// Package recovery runs the startup reconciliation pass: it fails any
// task left running when the process last exited (its child is gone
// and cannot be resumed), rebuilds the in-memory ready queue from
// persisted queued tasks, and announces the result.
package recovery

import (
	"context"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/obs"
	"github.com/haasonsaas/taskd/internal/taskqueue"
	"github.com/haasonsaas/taskd/pkg/domain"
)

const restartExitCode = -1

// Run executes the four reconciliation steps in order, per spec.md
// §4.11. It must be called after the store is open and the bus is
// live, before the worker handler is allowed to spawn anything.
// Failures are logged and swallowed — a degraded store still accepts
// new tasks rather than blocking startup.
func Run(ctx context.Context, bus *eventbus.Bus, store *kernelstore.Store, queue *taskqueue.Queue, logger *obs.Logger) {
	if logger == nil {
		logger = obs.NewLogger(obs.LogConfig{})
	}
	logger = logger.WithFields("component", "recovery")

	failedIDs := failOrphanedRunningTasks(ctx, store, bus, logger)
	requeuedIDs := requeueReadyTasks(ctx, store, queue, logger)

	// Step 3: the dependency handler (internal/handlers/dependency.go)
	// keeps no in-memory dependent-index of its own — every resolution
	// re-reads pending edges straight from the store — so there is
	// nothing to rebuild here; the store IS the index.

	if err := bus.Emit(ctx, eventbus.RecoveryCompleted, eventbus.RecoveryCompletedPayload{
		RequeuedTaskIDs: requeuedIDs,
		FailedTaskIDs:   failedIDs,
	}); err != nil {
		logger.Error(ctx, "RecoveryCompleted handler failed", "error", err)
	}
	logger.Info(ctx, "recovery complete", "requeued", len(requeuedIDs), "failed", len(failedIDs))
}

func failOrphanedRunningTasks(ctx context.Context, store *kernelstore.Store, bus *eventbus.Bus, logger *obs.Logger) []string {
	running, err := store.ListRunningTasks(ctx)
	if err != nil {
		logger.Error(ctx, "list running tasks failed", "error", err)
		return nil
	}

	var failedIDs []string
	for _, task := range running {
		now := time.Now()
		exitCode := restartExitCode
		task.Status = domain.TaskStatusFailed
		task.ExitCode = &exitCode
		task.ErrorMessage = "server restart"
		task.CompletedAt = &now

		if err := store.UpdateTask(ctx, task); err != nil {
			logger.Error(ctx, "fail orphaned running task failed", "task_id", task.ID, "error", err)
			continue
		}
		if err := bus.Emit(ctx, eventbus.TaskFailed, eventbus.TaskFailedPayload{
			Task: task,
			Err:  domain.NewError(domain.ErrCodeSystemError, "server restart"),
		}); err != nil {
			logger.Error(ctx, "TaskFailed handler failed during recovery", "task_id", task.ID, "error", err)
		}
		failedIDs = append(failedIDs, task.ID)
	}
	return failedIDs
}

func requeueReadyTasks(ctx context.Context, store *kernelstore.Store, queue *taskqueue.Queue, logger *obs.Logger) []string {
	queued, err := store.ListQueuedTasks(ctx)
	if err != nil {
		logger.Error(ctx, "list queued tasks failed", "error", err)
		return nil
	}

	var requeuedIDs []string
	for _, task := range queued {
		if task.DependencyState == domain.DependencyStateBlocked {
			continue
		}
		queue.Enqueue(task)
		requeuedIDs = append(requeuedIDs, task.ID)
	}
	return requeuedIDs
}
