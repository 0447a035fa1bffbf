// Package worktree defines the capability boundary for isolated-branch
// task execution. Actual git plumbing (worktree add/remove, branch
// push, PR creation) is an external collaborator's concern; the kernel
// only needs something that can honor a task's WorktreeOptions and
// hand back the directory a worker should run in.
package worktree

import (
	"context"
	"fmt"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// Allocation describes the directory and branch a task should run
// against once its worktree (if requested) has been prepared.
type Allocation struct {
	WorkingDirectory string
	Branch           string
}

// Manager prepares and tears down a task's isolated execution
// environment. Spawn reads Allocation.WorkingDirectory in place of
// Task.WorkingDirectory whenever Task.Worktree.UseWorktree is set.
type Manager interface {
	// Allocate prepares a working directory for task, creating an
	// isolated branch/worktree when task.Worktree.UseWorktree is set,
	// or returning task.WorkingDirectory unchanged otherwise.
	Allocate(ctx context.Context, task *domain.Task) (Allocation, error)

	// Release disposes of a previously allocated worktree per its
	// Cleanup policy, after the task has reached a terminal state.
	Release(ctx context.Context, task *domain.Task, alloc Allocation) error
}

// NoopManager implements Manager without ever creating a worktree: it
// hands back the task's own working directory and does nothing on
// release. It satisfies every SPEC_FULL.md operation that accepts a
// worktree.Manager until a real git-backed implementation is wired in.
type NoopManager struct{}

var _ Manager = NoopManager{}

func (NoopManager) Allocate(_ context.Context, task *domain.Task) (Allocation, error) {
	if task.Worktree.UseWorktree {
		return Allocation{}, fmt.Errorf("worktree: isolated execution requested for task %s but no worktree.Manager is configured", task.ID)
	}
	return Allocation{WorkingDirectory: task.WorkingDirectory}, nil
}

func (NoopManager) Release(context.Context, *domain.Task, Allocation) error {
	return nil
}
