package handlers

import (
	"context"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/taskqueue"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// RegisterQueue wires the in-memory ready queue to persistence and
// dependency events: a freshly persisted task with no unresolved
// dependencies, or a dependent that just became unblocked, is enqueued
// and announced via TaskQueued; a cancellation request against a still-
// queued task is satisfied immediately, without ever touching a worker.
func RegisterQueue(bus *eventbus.Bus, store *kernelstore.Store, queue *taskqueue.Queue) error {
	enqueueIfReady := func(ctx context.Context, task *domain.Task) error {
		if task.DependencyState == domain.DependencyStateBlocked {
			return nil
		}
		queue.Enqueue(task)
		return bus.Emit(ctx, eventbus.TaskQueued, eventbus.TaskQueuedPayload{Task: task})
	}

	if _, err := bus.Subscribe(eventbus.TaskPersisted, func(ctx context.Context, evt eventbus.Event) error {
		task := evt.Payload.(eventbus.TaskPersistedPayload).Task
		if len(task.DependsOn) > 0 {
			task.DependencyState = domain.DependencyStateBlocked
			return nil
		}
		return enqueueIfReady(ctx, task)
	}); err != nil {
		return err
	}

	if _, err := bus.Subscribe(eventbus.TaskUnblocked, func(ctx context.Context, evt eventbus.Event) error {
		return enqueueIfReady(ctx, evt.Payload.(eventbus.TaskUnblockedPayload).Task)
	}); err != nil {
		return err
	}

	_, err := bus.Subscribe(eventbus.TaskCancellationRequested, func(ctx context.Context, evt eventbus.Event) error {
		taskID := evt.Payload.(eventbus.TaskCancellationRequestedPayload).TaskID

		task, err := store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return domain.NewError(domain.ErrCodeTaskNotFound, "task "+taskID+" not found")
		}
		if task.Status.IsTerminal() {
			return domain.NewError(domain.ErrCodeTaskCannotCancel, "task "+taskID+" is already "+string(task.Status))
		}
		if !queue.Remove(taskID) {
			return nil // not queued; running tasks are cancelled by the worker pool
		}

		now := time.Now()
		task.Status = domain.TaskStatusCancelled
		task.CompletedAt = &now
		if err := store.UpdateTask(ctx, task); err != nil {
			return err
		}
		return bus.Emit(ctx, eventbus.TaskCancelled, eventbus.TaskCancelledPayload{Task: task})
	})
	return err
}
