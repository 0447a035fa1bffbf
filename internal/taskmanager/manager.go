// Package taskmanager is the front door every external surface (the
// CLI, a future RPC layer) calls through: it never touches the store
// or the queue directly, only validates/normalizes a request and then
// emits onto, or requests through, the event bus.
package taskmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// Manager implements the five delegated operations of the task
// manager's front door.
type Manager struct {
	bus *eventbus.Bus
}

// New constructs a Manager bound to bus.
func New(bus *eventbus.Bus) *Manager {
	return &Manager{bus: bus}
}

// Delegate validates and normalizes request, applies checkpoint
// seeding when ContinueFrom is set, constructs a new task, and emits
// TaskDelegated. The returned task reflects what was accepted, not yet
// what the store holds.
func (m *Manager) Delegate(ctx context.Context, request domain.DelegateTaskRequest) (*domain.Task, error) {
	if err := domain.ValidatePrompt(request.Prompt); err != nil {
		return nil, err
	}
	if err := domain.ValidateWorkingDirectory(request.WorkingDirectory); err != nil {
		return nil, err
	}
	priority, err := domain.NormalizePriority(request.Priority)
	if err != nil {
		return nil, err
	}

	prompt := request.Prompt
	if request.ContinueFrom != "" {
		prompt, err = m.seedFromCheckpoint(ctx, request.ContinueFrom, request.Prompt)
		if err != nil {
			return nil, err
		}
	}

	task := &domain.Task{
		ID:                   uuid.NewString(),
		Prompt:               prompt,
		Priority:             priority,
		WorkingDirectory:     request.WorkingDirectory,
		Status:               domain.TaskStatusQueued,
		CreatedAt:            time.Now(),
		ParentTaskID:         request.ContinueFrom,
		DependsOn:            request.DependsOn,
		DependencyState:      dependencyStateFor(request.DependsOn),
		Worktree:             request.Worktree,
		TimeoutMs:            domain.ClampTimeoutMs(request.TimeoutMs),
		MaxOutputBufferBytes: domain.ClampOutputBufferBytes(request.MaxOutputBufferBytes),
		ContinueFrom:         request.ContinueFrom,
	}

	if err := m.bus.Emit(ctx, eventbus.TaskDelegated, eventbus.TaskDelegatedPayload{Task: task}); err != nil {
		return nil, err
	}
	return task, nil
}

// GetStatus returns a single task's state, or every task known to the
// store when taskID is empty.
func (m *Manager) GetStatus(ctx context.Context, taskID string) (*domain.Task, []*domain.Task, error) {
	if taskID == "" {
		resp, err := m.bus.Request(ctx, eventbus.TaskListQuery, eventbus.TaskListQueryPayload{})
		if err != nil {
			return nil, nil, err
		}
		payload := resp.Payload.(eventbus.TaskListResponsePayload)
		if payload.Err != nil {
			return nil, nil, payload.Err
		}
		return nil, payload.Tasks, nil
	}

	resp, err := m.bus.Request(ctx, eventbus.TaskStatusQuery, eventbus.TaskStatusQueryPayload{TaskID: taskID})
	if err != nil {
		return nil, nil, err
	}
	payload := resp.Payload.(eventbus.TaskStatusResponsePayload)
	if payload.Err != nil {
		return nil, nil, payload.Err
	}
	return payload.Task, nil, nil
}

// GetLogs returns a task's captured output, optionally only the last
// tail lines per stream.
func (m *Manager) GetLogs(ctx context.Context, taskID string, tail int) (*domain.TaskOutput, error) {
	resp, err := m.bus.Request(ctx, eventbus.TaskLogsQuery, eventbus.TaskLogsQueryPayload{TaskID: taskID, Tail: tail})
	if err != nil {
		return nil, err
	}
	payload := resp.Payload.(eventbus.TaskLogsResponsePayload)
	if payload.Err != nil {
		return nil, payload.Err
	}
	return payload.Output, nil
}

// Cancel requests cancellation of taskID. The actual TASK_CANNOT_CANCEL
// rejection for an already-terminal task happens in the handler that
// owns the task's current state; Cancel only emits the request.
func (m *Manager) Cancel(ctx context.Context, taskID, reason string) error {
	return m.bus.Emit(ctx, eventbus.TaskCancellationRequested, eventbus.TaskCancellationRequestedPayload{TaskID: taskID, Reason: reason})
}

// Retry resolves the original task, requires it be terminal, and
// delegates a brand-new task sharing its configuration with
// parentTaskId set to the original's root, retryOf set to the
// original, and retryCount incremented.
func (m *Manager) Retry(ctx context.Context, taskID string) (*domain.Task, error) {
	original, err := m.mustTerminalTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	root := original.ParentTaskID
	if root == "" {
		root = original.ID
	}

	task := original.Clone()
	task.ID = uuid.NewString()
	task.Status = domain.TaskStatusQueued
	task.CreatedAt = time.Now()
	task.StartedAt = nil
	task.CompletedAt = nil
	task.ExitCode = nil
	task.ErrorMessage = ""
	task.ParentTaskID = root
	task.RetryOf = original.ID
	task.RetryCount = original.RetryCount + 1
	task.DependencyState = dependencyStateFor(task.DependsOn)

	if err := m.bus.Emit(ctx, eventbus.TaskDelegated, eventbus.TaskDelegatedPayload{Task: task}); err != nil {
		return nil, err
	}
	return task, nil
}

// Resume behaves like Retry but seeds the new task's prompt from the
// original's latest checkpoint plus optional caller-supplied context.
func (m *Manager) Resume(ctx context.Context, taskID, userContext string) (*domain.Task, error) {
	original, err := m.mustTerminalTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	prompt, err := m.seedFromCheckpoint(ctx, taskID, original.Prompt)
	if err != nil {
		return nil, err
	}
	if userContext != "" {
		prompt = fmt.Sprintf("%s\n\n%s", prompt, userContext)
	}

	root := original.ParentTaskID
	if root == "" {
		root = original.ID
	}

	task := original.Clone()
	task.ID = uuid.NewString()
	task.Prompt = prompt
	task.Status = domain.TaskStatusQueued
	task.CreatedAt = time.Now()
	task.StartedAt = nil
	task.CompletedAt = nil
	task.ExitCode = nil
	task.ErrorMessage = ""
	task.ParentTaskID = root
	task.RetryOf = original.ID
	task.RetryCount = original.RetryCount + 1
	task.ContinueFrom = original.ID
	task.DependencyState = dependencyStateFor(task.DependsOn)

	if err := m.bus.Emit(ctx, eventbus.TaskDelegated, eventbus.TaskDelegatedPayload{Task: task}); err != nil {
		return nil, err
	}
	return task, nil
}

func (m *Manager) mustTerminalTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, _, err := m.GetStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.NewError(domain.ErrCodeTaskNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	if !task.Status.IsTerminal() {
		return nil, domain.NewError(domain.ErrCodeInvalidOperation,
			fmt.Sprintf("task %s is not terminal (status=%s)", taskID, task.Status))
	}
	return task, nil
}

// seedFromCheckpoint resolves fromTaskID's latest checkpoint and returns
// its prior prompt, falling back to fallbackPrompt when no checkpoint
// has been recorded yet (the source task never reached a terminal
// state, e.g. a caller passing continueFrom before the run finishes).
func (m *Manager) seedFromCheckpoint(ctx context.Context, fromTaskID, fallbackPrompt string) (string, error) {
	resp, err := m.bus.Request(ctx, eventbus.TaskCheckpointQuery, eventbus.TaskCheckpointQueryPayload{TaskID: fromTaskID})
	if err != nil {
		return "", err
	}
	payload := resp.Payload.(eventbus.TaskCheckpointResponsePayload)
	if payload.Err != nil {
		return "", payload.Err
	}
	if payload.Checkpoint == nil {
		if fallbackPrompt != "" {
			return fallbackPrompt, nil
		}
		return "", domain.NewError(domain.ErrCodeTaskNotFound, fmt.Sprintf("no checkpoint recorded for task %s", fromTaskID))
	}
	return payload.Checkpoint.PriorPrompt, nil
}

func dependencyStateFor(dependsOn []string) domain.DependencyState {
	if len(dependsOn) == 0 {
		return domain.DependencyStateReady
	}
	return domain.DependencyStateBlocked
}
