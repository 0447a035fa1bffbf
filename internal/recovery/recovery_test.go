package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/taskqueue"
	"github.com/haasonsaas/taskd/pkg/domain"
)

func newTestStore(t *testing.T) *kernelstore.Store {
	t.Helper()
	store, err := kernelstore.Open(":memory:", kernelstore.DefaultConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTask(id string, status domain.TaskStatus, depState domain.DependencyState) *domain.Task {
	return &domain.Task{
		ID:                   id,
		Prompt:               "hello",
		WorkingDirectory:     "/tmp",
		Status:               status,
		CreatedAt:            time.Now(),
		DependencyState:      depState,
		TimeoutMs:            domain.DefaultTimeoutMs,
		MaxOutputBufferBytes: domain.DefaultOutputBufferBytes,
	}
}

func TestRunFailsOrphanedRunningTasksWithServerRestart(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(eventbus.DefaultOptions())
	queue := taskqueue.New()
	ctx := context.Background()

	task := newTask("t1", domain.TaskStatusRunning, domain.DependencyStateReady)
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	var failed *domain.Task
	if _, err := bus.Subscribe(eventbus.TaskFailed, func(ctx context.Context, evt eventbus.Event) error {
		failed = evt.Payload.(eventbus.TaskFailedPayload).Task
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	Run(ctx, bus, store, queue, nil)

	if failed == nil {
		t.Fatal("TaskFailed not emitted for orphaned running task")
	}
	if failed.ErrorMessage != "server restart" {
		t.Errorf("ErrorMessage = %q, want %q", failed.ErrorMessage, "server restart")
	}
	if failed.ExitCode == nil || *failed.ExitCode != -1 {
		t.Errorf("ExitCode = %v, want -1", failed.ExitCode)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != domain.TaskStatusFailed {
		t.Errorf("Status = %v, want failed", got.Status)
	}
}

func TestRunRequeuesOnlyReadyQueuedTasks(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(eventbus.DefaultOptions())
	queue := taskqueue.New()
	ctx := context.Background()

	ready := newTask("ready", domain.TaskStatusQueued, domain.DependencyStateReady)
	blocked := newTask("blocked", domain.TaskStatusQueued, domain.DependencyStateBlocked)
	if err := store.CreateTask(ctx, ready); err != nil {
		t.Fatalf("CreateTask(ready) error = %v", err)
	}
	if err := store.CreateTask(ctx, blocked); err != nil {
		t.Fatalf("CreateTask(blocked) error = %v", err)
	}

	Run(ctx, bus, store, queue, nil)

	if !queue.Contains("ready") {
		t.Error("ready-dependency queued task was not requeued")
	}
	if queue.Contains("blocked") {
		t.Error("blocked-dependency queued task must not be requeued")
	}
}

func TestRunEmitsRecoveryCompletedWithCounts(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(eventbus.DefaultOptions())
	queue := taskqueue.New()
	ctx := context.Background()

	if err := store.CreateTask(ctx, newTask("r1", domain.TaskStatusRunning, domain.DependencyStateReady)); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CreateTask(ctx, newTask("q1", domain.TaskStatusQueued, domain.DependencyStateReady)); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	var completed eventbus.RecoveryCompletedPayload
	if _, err := bus.Subscribe(eventbus.RecoveryCompleted, func(ctx context.Context, evt eventbus.Event) error {
		completed = evt.Payload.(eventbus.RecoveryCompletedPayload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	Run(ctx, bus, store, queue, nil)

	if len(completed.FailedTaskIDs) != 1 || completed.FailedTaskIDs[0] != "r1" {
		t.Errorf("FailedTaskIDs = %v, want [r1]", completed.FailedTaskIDs)
	}
	if len(completed.RequeuedTaskIDs) != 1 || completed.RequeuedTaskIDs[0] != "q1" {
		t.Errorf("RequeuedTaskIDs = %v, want [q1]", completed.RequeuedTaskIDs)
	}
}
