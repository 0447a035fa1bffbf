package kernelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// CreateSchedule inserts a new schedule row.
func (s *Store) CreateSchedule(ctx context.Context, sch *domain.Schedule) error {
	dependsOnJSON, err := json.Marshal(sch.TaskTemplate.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, task_prompt, task_priority, task_working_directory,
			task_use_worktree, task_worktree_cleanup, task_worktree_branch,
			task_worktree_base, task_worktree_merge, task_timeout_ms,
			task_max_output_bytes, task_depends_on, task_continue_from,
			schedule_type, cron_expression, scheduled_at, timezone,
			missed_run_policy, status, max_runs, run_count, last_run_at,
			next_run_at, expires_at, after_schedule_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sch.ID, sch.TaskTemplate.Prompt, string(sch.TaskTemplate.Priority), sch.TaskTemplate.WorkingDirectory,
		sch.TaskTemplate.Worktree.UseWorktree, string(sch.TaskTemplate.Worktree.Cleanup), nullableString(sch.TaskTemplate.Worktree.BranchName),
		nullableString(sch.TaskTemplate.Worktree.BaseBranch), string(sch.TaskTemplate.Worktree.MergeStrategy), sch.TaskTemplate.TimeoutMs,
		sch.TaskTemplate.MaxOutputBufferBytes, string(dependsOnJSON), nullableString(sch.TaskTemplate.ContinueFrom),
		string(sch.ScheduleType), nullableString(sch.CronExpression), nullableTime(sch.ScheduledAt), sch.Timezone,
		string(sch.MissedRunPolicy), string(sch.Status), nullableInt(sch.MaxRuns), sch.RunCount, nullableTime(sch.LastRunAt),
		nullableTime(sch.NextRunAt), nullableTime(sch.ExpiresAt), nullableString(sch.AfterScheduleID),
	)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by id, returning (nil, nil) if absent.
func (s *Store) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelectColumns+`FROM schedules WHERE id = ?`, id)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sch, nil
}

// UpdateSchedule overwrites a schedule's mutable run-state fields.
func (s *Store) UpdateSchedule(ctx context.Context, sch *domain.Schedule) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			status = ?, run_count = ?, last_run_at = ?, next_run_at = ?
		WHERE id = ?
	`, string(sch.Status), sch.RunCount, nullableTime(sch.LastRunAt), nullableTime(sch.NextRunAt), sch.ID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n == 0 {
		return domain.NewError(domain.ErrCodeScheduleNotFound, fmt.Sprintf("schedule %s not found", sch.ID))
	}
	return nil
}

// ListDueSchedules returns active schedules whose nextRunAt has passed,
// bounded to DefaultPageSize unless a smaller limit is requested.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectColumns+`
		FROM schedules
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT ?
	`, string(domain.ScheduleStatusActive), now.UTC().Format(time.RFC3339Nano), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		scheds = append(scheds, sch)
	}
	return scheds, rows.Err()
}

// ListSchedulesAfter returns active schedules chained to run after
// afterScheduleID completes.
func (s *Store) ListSchedulesAfter(ctx context.Context, afterScheduleID string) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectColumns+`FROM schedules WHERE after_schedule_id = ? AND status = ?`,
		afterScheduleID, string(domain.ScheduleStatusActive))
	if err != nil {
		return nil, fmt.Errorf("list chained schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		scheds = append(scheds, sch)
	}
	return scheds, rows.Err()
}

// ListSchedules returns every schedule ordered by creation, newest last,
// bounded to DefaultPageSize unless a smaller limit is requested. It
// backs the CLI's "schedule list" and is not used by the tick loop,
// which only ever needs the due subset.
func (s *Store) ListSchedules(ctx context.Context, limit int) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectColumns+`FROM schedules ORDER BY rowid ASC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		scheds = append(scheds, sch)
	}
	return scheds, rows.Err()
}

const scheduleSelectColumns = `SELECT
	id, task_prompt, task_priority, task_working_directory,
	task_use_worktree, task_worktree_cleanup, task_worktree_branch,
	task_worktree_base, task_worktree_merge, task_timeout_ms,
	task_max_output_bytes, task_depends_on, task_continue_from,
	schedule_type, cron_expression, scheduled_at, timezone,
	missed_run_policy, status, max_runs, run_count, last_run_at,
	next_run_at, expires_at, after_schedule_id
`

func scanSchedule(sc scanner) (*domain.Schedule, error) {
	var (
		sch             domain.Schedule
		priority        string
		worktreeCleanup sql.NullString
		branchName      sql.NullString
		baseBranch      sql.NullString
		mergeStrategy   string
		dependsOnJSON   string
		continueFrom    sql.NullString
		scheduleType    string
		cronExpr        sql.NullString
		scheduledAt     sql.NullTime
		missedPolicy    string
		status          string
		maxRuns         sql.NullInt64
		lastRunAt       sql.NullTime
		nextRunAt       sql.NullTime
		expiresAt       sql.NullTime
		afterScheduleID sql.NullString
	)

	err := sc.Scan(
		&sch.ID, &sch.TaskTemplate.Prompt, &priority, &sch.TaskTemplate.WorkingDirectory,
		&sch.TaskTemplate.Worktree.UseWorktree, &worktreeCleanup, &branchName,
		&baseBranch, &mergeStrategy, &sch.TaskTemplate.TimeoutMs,
		&sch.TaskTemplate.MaxOutputBufferBytes, &dependsOnJSON, &continueFrom,
		&scheduleType, &cronExpr, &scheduledAt, &sch.Timezone,
		&missedPolicy, &status, &maxRuns, &sch.RunCount, &lastRunAt,
		&nextRunAt, &expiresAt, &afterScheduleID,
	)
	if err != nil {
		return nil, err
	}

	sch.TaskTemplate.Priority = domain.TaskPriority(priority)
	sch.TaskTemplate.Worktree.Cleanup = domain.WorktreeCleanup(worktreeCleanup.String)
	sch.TaskTemplate.Worktree.BranchName = branchName.String
	sch.TaskTemplate.Worktree.BaseBranch = baseBranch.String
	sch.TaskTemplate.Worktree.MergeStrategy = domain.MergeStrategy(mergeStrategy)
	sch.TaskTemplate.ContinueFrom = continueFrom.String
	if dependsOnJSON != "" {
		if err := json.Unmarshal([]byte(dependsOnJSON), &sch.TaskTemplate.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}

	sch.ScheduleType = domain.ScheduleType(scheduleType)
	sch.CronExpression = cronExpr.String
	sch.ScheduledAt = timeOrZero(scheduledAt)
	sch.MissedRunPolicy = domain.MissedRunPolicy(missedPolicy)
	sch.Status = domain.ScheduleStatus(status)
	if maxRuns.Valid {
		n := int(maxRuns.Int64)
		sch.MaxRuns = &n
	}
	sch.LastRunAt = timeOrZero(lastRunAt)
	sch.NextRunAt = timeOrZero(nextRunAt)
	sch.ExpiresAt = timeOrZero(expiresAt)
	sch.AfterScheduleID = afterScheduleID.String

	return &sch, nil
}
