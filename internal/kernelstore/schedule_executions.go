package kernelstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// CreateScheduleExecution inserts an audit record for a single trigger
// attempt.
func (s *Store) CreateScheduleExecution(ctx context.Context, exec *domain.ScheduleExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_executions (id, schedule_id, task_id, scheduled_for, executed_at, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.ScheduleID, nullableString(exec.TaskID),
		exec.ScheduledFor.UTC().Format(time.RFC3339Nano), nullableTime(&exec.ExecutedAt),
		string(exec.Status), nullableString(exec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("create schedule execution: %w", err)
	}
	return nil
}

// ListScheduleExecutions returns the execution history for a schedule,
// newest first, bounded to DefaultPageSize unless a smaller limit is
// requested.
func (s *Store) ListScheduleExecutions(ctx context.Context, scheduleID string, limit int) ([]*domain.ScheduleExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, task_id, scheduled_for, executed_at, status, error_message
		FROM schedule_executions
		WHERE schedule_id = ?
		ORDER BY scheduled_for DESC
		LIMIT ?
	`, scheduleID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list schedule executions: %w", err)
	}
	defer rows.Close()

	var execs []*domain.ScheduleExecution
	for rows.Next() {
		e, err := scanScheduleExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func scanScheduleExecution(sc scanner) (*domain.ScheduleExecution, error) {
	var (
		e            domain.ScheduleExecution
		taskID       sql.NullString
		scheduledFor string
		executedAt   sql.NullTime
		status       string
		errorMessage sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.ScheduleID, &taskID, &scheduledFor, &executedAt, &status, &errorMessage); err != nil {
		return nil, err
	}
	e.TaskID = taskID.String
	e.Status = domain.ScheduleExecutionStatus(status)
	e.ErrorMessage = errorMessage.String
	if executedAt.Valid {
		e.ExecutedAt = executedAt.Time
	}
	parsed, err := time.Parse(time.RFC3339Nano, scheduledFor)
	if err != nil {
		return nil, fmt.Errorf("parse scheduled_for: %w", err)
	}
	e.ScheduledFor = parsed
	return &e, nil
}
