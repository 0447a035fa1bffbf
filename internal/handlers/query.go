package handlers

import (
	"context"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/output"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// RegisterQuery wires the only read path clients have into the store and
// the live capture component: the task manager never reads either
// directly, it requests through the bus and waits for the correlated
// response.
func RegisterQuery(bus *eventbus.Bus, store *kernelstore.Store, mgr *output.Manager) error {
	if _, err := bus.Subscribe(eventbus.TaskStatusQuery, func(ctx context.Context, evt eventbus.Event) error {
		query := evt.Payload.(eventbus.TaskStatusQueryPayload)
		task, err := store.GetTask(ctx, query.TaskID)
		if err != nil {
			bus.Respond(evt.CorrelationID, eventbus.TaskStatusResponse, eventbus.TaskStatusResponsePayload{
				Err: domain.Wrap(domain.ErrCodeStorageFailure, "get task", err),
			})
			return nil
		}
		if task == nil {
			bus.Respond(evt.CorrelationID, eventbus.TaskStatusResponse, eventbus.TaskStatusResponsePayload{
				Err: domain.NewError(domain.ErrCodeTaskNotFound, "task "+query.TaskID+" not found"),
			})
			return nil
		}
		bus.Respond(evt.CorrelationID, eventbus.TaskStatusResponse, eventbus.TaskStatusResponsePayload{Task: task})
		return nil
	}); err != nil {
		return err
	}

	if _, err := bus.Subscribe(eventbus.TaskListQuery, func(ctx context.Context, evt eventbus.Event) error {
		tasks, err := store.ListTasks(ctx, kernelstore.TaskListOptions{})
		if err != nil {
			bus.Respond(evt.CorrelationID, eventbus.TaskListResponse, eventbus.TaskListResponsePayload{
				Err: domain.Wrap(domain.ErrCodeStorageFailure, "list tasks", err),
			})
			return nil
		}
		bus.Respond(evt.CorrelationID, eventbus.TaskListResponse, eventbus.TaskListResponsePayload{Tasks: tasks})
		return nil
	}); err != nil {
		return err
	}

	if _, err := bus.Subscribe(eventbus.TaskCheckpointQuery, func(ctx context.Context, evt eventbus.Event) error {
		query := evt.Payload.(eventbus.TaskCheckpointQueryPayload)
		cp, err := store.LatestCheckpoint(ctx, query.TaskID)
		if err != nil {
			bus.Respond(evt.CorrelationID, eventbus.TaskCheckpointResponse, eventbus.TaskCheckpointResponsePayload{
				Err: domain.Wrap(domain.ErrCodeStorageFailure, "get latest checkpoint", err),
			})
			return nil
		}
		bus.Respond(evt.CorrelationID, eventbus.TaskCheckpointResponse, eventbus.TaskCheckpointResponsePayload{Checkpoint: cp})
		return nil
	}); err != nil {
		return err
	}

	_, err := bus.Subscribe(eventbus.TaskLogsQuery, func(ctx context.Context, evt eventbus.Event) error {
		query := evt.Payload.(eventbus.TaskLogsQueryPayload)

		if live := mgr.Tail(query.TaskID, query.Tail); live != nil {
			bus.Respond(evt.CorrelationID, eventbus.TaskLogsResponse, eventbus.TaskLogsResponsePayload{Output: live})
			return nil
		}

		stored, err := store.GetOutput(ctx, query.TaskID)
		if err != nil {
			bus.Respond(evt.CorrelationID, eventbus.TaskLogsResponse, eventbus.TaskLogsResponsePayload{
				Err: domain.Wrap(domain.ErrCodeStorageFailure, "get output", err),
			})
			return nil
		}
		bus.Respond(evt.CorrelationID, eventbus.TaskLogsResponse, eventbus.TaskLogsResponsePayload{Output: stored})
		return nil
	})
	return err
}
