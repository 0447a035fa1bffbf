package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/taskd/internal/config"
	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/pkg/domain"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database:  config.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, BusyTimeout: 5 * time.Second},
		Resources: config.ResourcesConfig{MaxConcurrentWorkers: 4, CPUThresholdPercent: 100, MemoryThresholdPercent: 100, SampleInterval: time.Hour},
		Scheduler: config.SchedulerConfig{Enabled: false},
		Output:    config.OutputConfig{MaxBytesPerStream: 1 << 20, RetainCompletedTasks: 10},
		Logging:   config.LoggingConfig{Level: "error", Format: "json"},
		Worker:    config.WorkerConfig{Binary: "true", KillGrace: 200 * time.Millisecond},
	}
}

func TestNewWiresEveryComponentWithoutError(t *testing.T) {
	k, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer k.Store.Close()

	if k.TaskManager == nil || k.WorkerPool == nil || k.Scheduler == nil || k.Metrics == nil {
		t.Fatal("New() left a component nil")
	}
}

func TestKernelRunsDelegatedTaskToCompletion(t *testing.T) {
	k, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer k.Stop(ctx)

	completed := make(chan *domain.Task, 1)
	k.Bus.Subscribe(eventbus.TaskCompleted, func(ctx context.Context, evt eventbus.Event) error {
		completed <- evt.Payload.(eventbus.TaskCompletedPayload).Task
		return nil
	})

	task, err := k.TaskManager.Delegate(ctx, domain.DelegateTaskRequest{Prompt: "hello", WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}

	select {
	case got := <-completed:
		if got.ID != task.ID {
			t.Errorf("completed task id = %s, want %s", got.ID, task.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("TaskCompleted not observed within 3s")
	}
}
