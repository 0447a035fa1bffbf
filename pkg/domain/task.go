package domain

import "time"

// TaskPriority orders tasks within the ready queue; P0 runs before P1
// before P2, and FIFO by CreatedAt within a priority.
type TaskPriority string

const (
	PriorityP0 TaskPriority = "P0"
	PriorityP1 TaskPriority = "P1"
	PriorityP2 TaskPriority = "P2"
)

// TaskStatus is the task's lifecycle state.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer transition.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// DependencyState summarizes a task's readiness with respect to its
// dependsOn set. It is derived, never persisted independently of the
// underlying edges.
type DependencyState string

const (
	DependencyStateReady            DependencyState = "ready"
	DependencyStateBlocked          DependencyState = "blocked"
	DependencyStateUnresolvedFailed DependencyState = "unresolved-failed"
)

// MergeStrategy controls how a worktree-isolated task's changes land.
type MergeStrategy string

const (
	MergeStrategyPR     MergeStrategy = "pr"
	MergeStrategyAuto   MergeStrategy = "auto"
	MergeStrategyManual MergeStrategy = "manual"
	MergeStrategyPatch  MergeStrategy = "patch"
)

// WorktreeCleanup controls post-merge worktree disposal.
type WorktreeCleanup string

const (
	WorktreeCleanupAuto   WorktreeCleanup = "auto"
	WorktreeCleanupKeep   WorktreeCleanup = "keep"
	WorktreeCleanupDelete WorktreeCleanup = "delete"
)

const (
	// MinPromptBytes and MaxPromptBytes bound a task's prompt length.
	MinPromptBytes = 1
	MaxPromptBytes = 4000

	// MinTimeoutMs and MaxTimeoutMs bound a task's wall-clock timeout.
	MinTimeoutMs = 1000
	MaxTimeoutMs = 24 * 60 * 60 * 1000

	// MinOutputBufferBytes and MaxOutputBufferBytes bound a task's output
	// buffer override.
	MinOutputBufferBytes = 1024
	MaxOutputBufferBytes = 1 << 30

	// DefaultTimeoutMs and DefaultOutputBufferBytes are applied when a
	// request omits them.
	DefaultTimeoutMs          = 30 * 60 * 1000
	DefaultOutputBufferBytes  = 10 << 20
	DefaultPriority           = PriorityP2
)

// WorktreeOptions carries a task's optional isolated-branch execution
// configuration. The worktree manager is an external collaborator; the
// kernel only persists and forwards these fields.
type WorktreeOptions struct {
	UseWorktree   bool            `json:"use_worktree"`
	Cleanup       WorktreeCleanup `json:"worktree_cleanup,omitempty"`
	BranchName    string          `json:"branch_name,omitempty"`
	BaseBranch    string          `json:"base_branch,omitempty"`
	MergeStrategy MergeStrategy   `json:"merge_strategy,omitempty"`
	AutoCommit    bool            `json:"auto_commit,omitempty"`
	PushToRemote  bool            `json:"push_to_remote,omitempty"`
	PRTitle       string          `json:"pr_title,omitempty"`
	PRBody        string          `json:"pr_body,omitempty"`
}

// Task is a single requested execution of the delegated binary.
type Task struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`

	Priority         TaskPriority    `json:"priority"`
	WorkingDirectory string          `json:"working_directory"`
	Status           TaskStatus      `json:"status"`
	ExitCode         *int            `json:"exit_code,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount    int    `json:"retry_count"`
	ParentTaskID  string `json:"parent_task_id"`
	RetryOf       string `json:"retry_of,omitempty"`

	DependsOn       []string        `json:"depends_on,omitempty"`
	Dependents      []string        `json:"dependents,omitempty"`
	DependencyState DependencyState `json:"dependency_state"`

	Worktree WorktreeOptions `json:"worktree"`

	TimeoutMs            int64  `json:"timeout_ms"`
	MaxOutputBufferBytes int64  `json:"max_output_buffer_bytes"`
	ContinueFrom         string `json:"continue_from,omitempty"`
}

// HasWorker reports the invariant that a task has a worker assigned iff
// its status is running.
func (t *Task) HasWorker() bool {
	return t != nil && t.Status == TaskStatusRunning
}

// Clone returns a deep-enough copy of t safe for a caller to mutate
// without affecting storage-owned state. Slices and the worktree struct
// are copied; nothing within them is a pointer needing deeper copying.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ExitCode != nil {
		code := *t.ExitCode
		clone.ExitCode = &code
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	if t.DependsOn != nil {
		clone.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Dependents != nil {
		clone.Dependents = append([]string(nil), t.Dependents...)
	}
	return &clone
}
