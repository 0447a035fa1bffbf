package handlers

import (
	"context"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// terminalResolution maps a task's terminal event type to the
// DependencyResolution its dependents' edges should receive.
func terminalResolution(typ eventbus.Type) domain.DependencyResolution {
	switch typ {
	case eventbus.TaskCompleted:
		return domain.DependencyResolutionCompleted
	case eventbus.TaskFailed:
		return domain.DependencyResolutionFailed
	default: // TaskCancelled, TaskTimeout
		return domain.DependencyResolutionCancelled
	}
}

// RegisterDependency wires dependency-edge bookkeeping: TaskDelegated
// inserts every dependsOn edge atomically with the cycle check (the whole
// set fails together, and a failure fails the task without running it);
// every terminal event resolves all of its dependents' pending edges in
// one batch and, for each dependent with no unresolved edges left, either
// emits TaskUnblocked (all resolutions were "completed") or fails it
// outright as unresolved-failed.
func RegisterDependency(bus *eventbus.Bus, store *kernelstore.Store) error {
	if _, err := bus.Subscribe(eventbus.TaskDelegated, func(ctx context.Context, evt eventbus.Event) error {
		task := evt.Payload.(eventbus.TaskDelegatedPayload).Task
		if len(task.DependsOn) == 0 {
			return nil
		}
		for _, dep := range task.DependsOn {
			if err := store.AddDependency(ctx, task.ID, dep); err != nil {
				now := time.Now()
				task.Status = domain.TaskStatusFailed
				task.CompletedAt = &now
				task.ErrorMessage = "failed to record dependencies: " + err.Error()
				_ = store.UpdateTask(ctx, task)
				return bus.Emit(ctx, eventbus.TaskFailed, eventbus.TaskFailedPayload{
					Task: task, Err: domain.Wrap(domain.ErrCodeDependencyCycle, "dependency edge rejected", err),
				})
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for _, typ := range []eventbus.Type{eventbus.TaskCompleted, eventbus.TaskFailed, eventbus.TaskCancelled, eventbus.TaskTimeout} {
		typ := typ
		if _, err := bus.Subscribe(typ, func(ctx context.Context, evt eventbus.Event) error {
			task := taskFromTerminalPayload(typ, evt.Payload)
			if task == nil {
				return nil
			}
			return resolveDependents(ctx, bus, store, task.ID, terminalResolution(typ))
		}); err != nil {
			return err
		}
	}
	return nil
}

func resolveDependents(ctx context.Context, bus *eventbus.Bus, store *kernelstore.Store, parentTaskID string, resolution domain.DependencyResolution) error {
	dependentIDs, err := store.ResolveDependenciesByParent(ctx, parentTaskID, resolution)
	if err != nil {
		return err
	}

	for _, dependentID := range dependentIDs {
		edges, err := store.ListDependencies(ctx, dependentID)
		if err != nil {
			return err
		}

		pending, unfavorable := 0, false
		for _, e := range edges {
			if e.Resolution == domain.DependencyResolutionPending {
				pending++
				continue
			}
			if e.Resolution != domain.DependencyResolutionCompleted {
				unfavorable = true
			}
		}
		if pending > 0 {
			continue
		}

		dependent, err := store.GetTask(ctx, dependentID)
		if err != nil || dependent == nil {
			continue
		}

		if unfavorable {
			now := time.Now()
			dependent.Status = domain.TaskStatusFailed
			dependent.DependencyState = domain.DependencyStateUnresolvedFailed
			dependent.CompletedAt = &now
			dependent.ErrorMessage = "upstream dependency did not complete"
			if err := store.UpdateTask(ctx, dependent); err != nil {
				return err
			}
			if err := bus.Emit(ctx, eventbus.TaskFailed, eventbus.TaskFailedPayload{
				Task: dependent,
				Err:  domain.NewError(domain.ErrCodeInvalidOperation, "unresolved-failed dependency"),
			}); err != nil {
				return err
			}
			continue
		}

		dependent.DependencyState = domain.DependencyStateReady
		if err := store.UpdateTask(ctx, dependent); err != nil {
			return err
		}
		if err := bus.Emit(ctx, eventbus.TaskUnblocked, eventbus.TaskUnblockedPayload{Task: dependent}); err != nil {
			return err
		}
	}
	return nil
}
