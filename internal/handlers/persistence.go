// Package handlers is the stateless glue between bus events and the
// store/queue/output/dependency components. It is the only layer that
// mutates the store and the in-memory queue together; every other
// component only emits events or reacts to them in isolation.
package handlers

import (
	"context"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/output"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// RegisterPersistence wires the store to the lifecycle events that must
// be durably reflected: a delegated task is inserted, a starting task
// gets startedAt, and every terminal event writes its exit fields and
// flushes captured output out of the in-memory buffer.
func RegisterPersistence(bus *eventbus.Bus, store *kernelstore.Store, mgr *output.Manager) error {
	if _, err := bus.Subscribe(eventbus.TaskDelegated, func(ctx context.Context, evt eventbus.Event) error {
		payload := evt.Payload.(eventbus.TaskDelegatedPayload)
		if err := store.CreateTask(ctx, payload.Task); err != nil {
			return err
		}
		return bus.Emit(ctx, eventbus.TaskPersisted, eventbus.TaskPersistedPayload{Task: payload.Task})
	}); err != nil {
		return err
	}

	if _, err := bus.Subscribe(eventbus.TaskStarting, func(ctx context.Context, evt eventbus.Event) error {
		task := evt.Payload.(eventbus.TaskStartingPayload).Task
		now := time.Now()
		task.Status = domain.TaskStatusRunning
		task.StartedAt = &now
		return store.UpdateTask(ctx, task)
	}); err != nil {
		return err
	}

	for _, typ := range []eventbus.Type{eventbus.TaskCompleted, eventbus.TaskFailed, eventbus.TaskCancelled, eventbus.TaskTimeout} {
		typ := typ
		if _, err := bus.Subscribe(typ, func(ctx context.Context, evt eventbus.Event) error {
			task := taskFromTerminalPayload(typ, evt.Payload)
			return persistTerminal(ctx, store, mgr, typ, task)
		}); err != nil {
			return err
		}
	}
	return nil
}

func taskFromTerminalPayload(typ eventbus.Type, payload any) *domain.Task {
	switch typ {
	case eventbus.TaskCompleted:
		return payload.(eventbus.TaskCompletedPayload).Task
	case eventbus.TaskFailed:
		return payload.(eventbus.TaskFailedPayload).Task
	case eventbus.TaskCancelled:
		return payload.(eventbus.TaskCancelledPayload).Task
	case eventbus.TaskTimeout:
		return payload.(eventbus.TaskTimeoutPayload).Task
	default:
		return nil
	}
}

func persistTerminal(ctx context.Context, store *kernelstore.Store, mgr *output.Manager, typ eventbus.Type, task *domain.Task) error {
	if task == nil {
		return nil
	}

	now := time.Now()
	task.CompletedAt = &now
	switch typ {
	case eventbus.TaskCompleted:
		task.Status = domain.TaskStatusCompleted
	case eventbus.TaskFailed:
		task.Status = domain.TaskStatusFailed
	case eventbus.TaskCancelled, eventbus.TaskTimeout:
		task.Status = domain.TaskStatusCancelled
	}

	if err := store.UpdateTask(ctx, task); err != nil {
		return err
	}

	if out := mgr.Get(task.ID); out != nil {
		for i, chunk := range out.Stdout {
			_ = store.AppendOutputChunk(ctx, task.ID, domain.StreamStdout, i, chunk)
		}
		for i, chunk := range out.Stderr {
			_ = store.AppendOutputChunk(ctx, task.ID, domain.StreamStderr, i, chunk)
		}
	}
	mgr.Close(task.ID)
	return nil
}
