package main

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/taskd/internal/config"
	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernel"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// openKernel loads cfg and wires a Kernel against the same SQLite file
// the running daemon (if any) uses. Every non-serve subcommand calls
// this, runs one operation, and tears the kernel back down: there is no
// shared in-memory queue across invocations, only the shared store.
func openKernel() (*kernel.Kernel, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	k, err := kernel.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wire kernel: %w", err)
	}
	return k, func() {
		_ = k.Store.Close()
	}, nil
}

// awaitTerminal blocks until taskID reaches a terminal status (observed
// via the kernel's own bus) or timeout elapses. A one-shot CLI
// invocation is the only thing driving this kernel's worker pool, so it
// must wait here rather than exit and abandon the spawned worker.
func awaitTerminal(ctx context.Context, k *kernel.Kernel, taskID string, timeout time.Duration) (*domain.Task, error) {
	done := make(chan *domain.Task, 1)

	if id, err := k.Bus.Subscribe(eventbus.TaskCompleted, func(ctx context.Context, evt eventbus.Event) error {
		p := evt.Payload.(eventbus.TaskCompletedPayload)
		if p.Task.ID == taskID {
			done <- p.Task
		}
		return nil
	}); err == nil {
		defer k.Bus.Unsubscribe(id)
	}

	if id, err := k.Bus.Subscribe(eventbus.TaskFailed, func(ctx context.Context, evt eventbus.Event) error {
		p := evt.Payload.(eventbus.TaskFailedPayload)
		if p.Task.ID == taskID {
			done <- p.Task
		}
		return nil
	}); err == nil {
		defer k.Bus.Unsubscribe(id)
	}

	if id, err := k.Bus.Subscribe(eventbus.TaskCancelled, func(ctx context.Context, evt eventbus.Event) error {
		p := evt.Payload.(eventbus.TaskCancelledPayload)
		if p.Task.ID == taskID {
			done <- p.Task
		}
		return nil
	}); err == nil {
		defer k.Bus.Unsubscribe(id)
	}

	select {
	case task := <-done:
		return task, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("task %s did not reach a terminal state within %s", taskID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
