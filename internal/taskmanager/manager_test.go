package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/pkg/domain"
)

func newBusWithStub(t *testing.T) (*eventbus.Bus, func(task *domain.Task)) {
	t.Helper()
	bus := eventbus.New(eventbus.DefaultOptions())

	store := map[string]*domain.Task{}
	put := func(task *domain.Task) { store[task.ID] = task }

	if _, err := bus.Subscribe(eventbus.TaskDelegated, func(ctx context.Context, evt eventbus.Event) error {
		put(evt.Payload.(eventbus.TaskDelegatedPayload).Task)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe(TaskDelegated) error = %v", err)
	}

	if _, err := bus.Subscribe(eventbus.TaskStatusQuery, func(ctx context.Context, evt eventbus.Event) error {
		query := evt.Payload.(eventbus.TaskStatusQueryPayload)
		task, ok := store[query.TaskID]
		if !ok {
			bus.Respond(evt.CorrelationID, eventbus.TaskStatusResponse, eventbus.TaskStatusResponsePayload{
				Err: domain.NewError(domain.ErrCodeTaskNotFound, "not found"),
			})
			return nil
		}
		bus.Respond(evt.CorrelationID, eventbus.TaskStatusResponse, eventbus.TaskStatusResponsePayload{Task: task})
		return nil
	}); err != nil {
		t.Fatalf("Subscribe(TaskStatusQuery) error = %v", err)
	}

	if _, err := bus.Subscribe(eventbus.TaskCheckpointQuery, func(ctx context.Context, evt eventbus.Event) error {
		query := evt.Payload.(eventbus.TaskCheckpointQueryPayload)
		task, ok := store[query.TaskID]
		if !ok || task.Prompt == "" {
			bus.Respond(evt.CorrelationID, eventbus.TaskCheckpointResponse, eventbus.TaskCheckpointResponsePayload{})
			return nil
		}
		bus.Respond(evt.CorrelationID, eventbus.TaskCheckpointResponse, eventbus.TaskCheckpointResponsePayload{
			Checkpoint: &domain.TaskCheckpoint{TaskID: task.ID, PriorPrompt: task.Prompt, PriorStatus: task.Status},
		})
		return nil
	}); err != nil {
		t.Fatalf("Subscribe(TaskCheckpointQuery) error = %v", err)
	}

	return bus, put
}

func TestDelegateValidatesPrompt(t *testing.T) {
	bus, _ := newBusWithStub(t)
	mgr := New(bus)
	_, err := mgr.Delegate(context.Background(), domain.DelegateTaskRequest{
		Prompt:           "",
		WorkingDirectory: "/tmp",
	})
	if domain.CodeOf(err) != domain.ErrCodeValidation {
		t.Fatalf("error code = %v, want VALIDATION", domain.CodeOf(err))
	}
}

func TestDelegateDefaultsPriorityAndClampsTimeout(t *testing.T) {
	bus, _ := newBusWithStub(t)
	mgr := New(bus)
	task, err := mgr.Delegate(context.Background(), domain.DelegateTaskRequest{
		Prompt:           "do work",
		WorkingDirectory: "/tmp/project",
		TimeoutMs:        1,
	})
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if task.Priority != domain.PriorityP2 {
		t.Errorf("Priority = %v, want P2", task.Priority)
	}
	if task.TimeoutMs != domain.MinTimeoutMs {
		t.Errorf("TimeoutMs = %d, want clamped to %d", task.TimeoutMs, domain.MinTimeoutMs)
	}
}

func TestRetryRejectsNonTerminalTask(t *testing.T) {
	bus, put := newBusWithStub(t)
	mgr := New(bus)
	put(&domain.Task{ID: "t1", Status: domain.TaskStatusRunning})

	_, err := mgr.Retry(context.Background(), "t1")
	if domain.CodeOf(err) != domain.ErrCodeInvalidOperation {
		t.Fatalf("error code = %v, want INVALID_OPERATION", domain.CodeOf(err))
	}
}

func TestRetryBuildsChainedTask(t *testing.T) {
	bus, put := newBusWithStub(t)
	mgr := New(bus)
	now := time.Now()
	put(&domain.Task{
		ID: "t1", Prompt: "original", Status: domain.TaskStatusFailed,
		WorkingDirectory: "/tmp", RetryCount: 1, CompletedAt: &now,
	})

	task, err := mgr.Retry(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if task.RetryOf != "t1" {
		t.Errorf("RetryOf = %q, want t1", task.RetryOf)
	}
	if task.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", task.RetryCount)
	}
	if task.ParentTaskID != "t1" {
		t.Errorf("ParentTaskID = %q, want t1 (original's root)", task.ParentTaskID)
	}
	if task.Status != domain.TaskStatusQueued {
		t.Errorf("Status = %v, want queued", task.Status)
	}
}

func TestResumeSeedsPromptFromCheckpoint(t *testing.T) {
	bus, put := newBusWithStub(t)
	mgr := New(bus)
	put(&domain.Task{
		ID: "t1", Prompt: "original prompt", Status: domain.TaskStatusCompleted,
		WorkingDirectory: "/tmp",
	})

	task, err := mgr.Resume(context.Background(), "t1", "extra context")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	want := "original prompt\n\nextra context"
	if task.Prompt != want {
		t.Errorf("Prompt = %q, want %q", task.Prompt, want)
	}
	if task.ContinueFrom != "t1" {
		t.Errorf("ContinueFrom = %q, want t1", task.ContinueFrom)
	}
}

func TestGetStatusReturnsNotFound(t *testing.T) {
	bus, _ := newBusWithStub(t)
	mgr := New(bus)
	_, _, err := mgr.GetStatus(context.Background(), uuid.NewString())
	if domain.CodeOf(err) != domain.ErrCodeTaskNotFound {
		t.Fatalf("error code = %v, want TASK_NOT_FOUND", domain.CodeOf(err))
	}
}
