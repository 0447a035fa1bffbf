package kernelstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, prompt, priority, working_directory, status, exit_code, error_message,
			created_at, started_at, completed_at, retry_count, parent_task_id, retry_of,
			dependency_state, use_worktree, worktree_cleanup, worktree_branch_name,
			worktree_base_branch, worktree_merge_strategy, worktree_auto_commit,
			worktree_push_to_remote, worktree_pr_title, worktree_pr_body,
			timeout_ms, max_output_buffer_bytes, continue_from
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Prompt, string(t.Priority), t.WorkingDirectory, string(t.Status),
		nullableInt(t.ExitCode), nullableString(t.ErrorMessage),
		t.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
		t.RetryCount, nullableString(t.ParentTaskID), nullableString(t.RetryOf),
		string(t.DependencyState), t.Worktree.UseWorktree, string(t.Worktree.Cleanup),
		nullableString(t.Worktree.BranchName), nullableString(t.Worktree.BaseBranch),
		string(t.Worktree.MergeStrategy), t.Worktree.AutoCommit, t.Worktree.PushToRemote,
		nullableString(t.Worktree.PRTitle), nullableString(t.Worktree.PRBody),
		t.TimeoutMs, t.MaxOutputBufferBytes, nullableString(t.ContinueFrom),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id, returning (nil, nil) if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+`FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// UpdateTask overwrites the mutable fields of an existing task row.
func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?, exit_code = ?, error_message = ?, started_at = ?, completed_at = ?,
			retry_count = ?, dependency_state = ?, continue_from = ?
		WHERE id = ?
	`,
		string(t.Status), nullableInt(t.ExitCode), nullableString(t.ErrorMessage),
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
		t.RetryCount, string(t.DependencyState), nullableString(t.ContinueFrom),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return domain.NewError(domain.ErrCodeTaskNotFound, fmt.Sprintf("task %s not found", t.ID))
	}
	return nil
}

// TaskListOptions configures ListTasks pagination and filtering.
type TaskListOptions struct {
	Status        domain.TaskStatus
	ParentTaskID  string
	Limit         int
	Offset        int
}

// ListTasks returns tasks ordered oldest-first, bounded to DefaultPageSize
// unless a smaller Limit is requested.
func (s *Store) ListTasks(ctx context.Context, opts TaskListOptions) ([]*domain.Task, error) {
	query := taskSelectColumns + `FROM tasks WHERE 1=1`
	var args []any

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if opts.ParentTaskID != "" {
		query += ` AND parent_task_id = ?`
		args = append(args, opts.ParentTaskID)
	}
	query += ` ORDER BY created_at ASC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(opts.Limit), opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListRunningTasks returns every task currently in the running state,
// unbounded, for startup recovery reconciliation.
func (s *Store) ListRunningTasks(ctx context.Context) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectColumns+`FROM tasks WHERE status = ?`, string(domain.TaskStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListQueuedTasks returns every queued task, unbounded, for startup recovery
// and dependency-index rebuilding.
func (s *Store) ListQueuedTasks(ctx context.Context) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectColumns+`FROM tasks WHERE status = ?`, string(domain.TaskStatusQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const taskSelectColumns = `SELECT
	id, prompt, priority, working_directory, status, exit_code, error_message,
	created_at, started_at, completed_at, retry_count, parent_task_id, retry_of,
	dependency_state, use_worktree, worktree_cleanup, worktree_branch_name,
	worktree_base_branch, worktree_merge_strategy, worktree_auto_commit,
	worktree_push_to_remote, worktree_pr_title, worktree_pr_body,
	timeout_ms, max_output_buffer_bytes, continue_from
`

func scanTask(sc scanner) (*domain.Task, error) {
	var (
		t                 domain.Task
		priority          string
		status            string
		exitCode          sql.NullInt64
		errorMessage      sql.NullString
		createdAt         string
		startedAt         sql.NullTime
		completedAt       sql.NullTime
		parentTaskID      sql.NullString
		retryOf           sql.NullString
		depState          string
		worktreeCleanup   sql.NullString
		branchName        sql.NullString
		baseBranch        sql.NullString
		mergeStrategy     sql.NullString
		prTitle           sql.NullString
		prBody            sql.NullString
		continueFrom      sql.NullString
	)

	err := sc.Scan(
		&t.ID, &t.Prompt, &priority, &t.WorkingDirectory, &status, &exitCode, &errorMessage,
		&createdAt, &startedAt, &completedAt, &t.RetryCount, &parentTaskID, &retryOf,
		&depState, &t.Worktree.UseWorktree, &worktreeCleanup, &branchName,
		&baseBranch, &mergeStrategy, &t.Worktree.AutoCommit,
		&t.Worktree.PushToRemote, &prTitle, &prBody,
		&t.TimeoutMs, &t.MaxOutputBufferBytes, &continueFrom,
	)
	if err != nil {
		return nil, err
	}

	t.Priority = domain.TaskPriority(priority)
	t.Status = domain.TaskStatus(status)
	t.DependencyState = domain.DependencyState(depState)
	t.ExitCode = intOrNil(exitCode)
	t.ErrorMessage = errorMessage.String
	t.ParentTaskID = parentTaskID.String
	t.RetryOf = retryOf.String
	t.Worktree.Cleanup = domain.WorktreeCleanup(worktreeCleanup.String)
	t.Worktree.BranchName = branchName.String
	t.Worktree.BaseBranch = baseBranch.String
	t.Worktree.MergeStrategy = domain.MergeStrategy(mergeStrategy.String)
	t.Worktree.PRTitle = prTitle.String
	t.Worktree.PRBody = prBody.String
	t.ContinueFrom = continueFrom.String
	t.StartedAt = timeOrZero(startedAt)
	t.CompletedAt = timeOrZero(completedAt)

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.CreatedAt = parsed

	return &t, nil
}
