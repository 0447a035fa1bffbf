package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/output"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// outputPrefixBytes bounds how much of a terminal task's captured output
// is retained verbatim in its checkpoint, enough for a resumed task's
// prompt to reference recent context without re-reading the full log.
const outputPrefixBytes = 4096

// RegisterCheckpoint records a checkpoint for every task that reaches a
// terminal state, so a later resume(taskId) can seed its replacement's
// prompt with the prior prompt, status, exit code, and a prefix of
// whatever it had already produced.
func RegisterCheckpoint(bus *eventbus.Bus, store *kernelstore.Store, mgr *output.Manager) error {
	for _, typ := range []eventbus.Type{eventbus.TaskCompleted, eventbus.TaskFailed, eventbus.TaskCancelled, eventbus.TaskTimeout} {
		typ := typ
		if _, err := bus.Subscribe(typ, func(ctx context.Context, evt eventbus.Event) error {
			task := taskFromTerminalPayload(typ, evt.Payload)
			if task == nil {
				return nil
			}
			return store.CreateCheckpoint(ctx, &domain.TaskCheckpoint{
				ID:            uuid.NewString(),
				TaskID:        task.ID,
				CreatedAt:     time.Now(),
				PriorPrompt:   task.Prompt,
				PriorStatus:   task.Status,
				PriorExitCode: task.ExitCode,
				OutputPrefix:  outputPrefix(mgr, task.ID),
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

func outputPrefix(mgr *output.Manager, taskID string) string {
	out := mgr.Get(taskID)
	if out == nil {
		return ""
	}
	var prefix string
	for _, chunk := range out.Stdout {
		prefix += chunk
		if len(prefix) >= outputPrefixBytes {
			break
		}
	}
	if len(prefix) > outputPrefixBytes {
		prefix = prefix[:outputPrefixBytes]
	}
	return prefix
}
