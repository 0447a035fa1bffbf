package kernelstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// CreateCheckpoint inserts an append-only checkpoint snapshot.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *domain.TaskCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, task_id, created_at, prior_prompt, prior_status, prior_exit_code, output_prefix)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		cp.ID, cp.TaskID, cp.CreatedAt.UTC().Format(time.RFC3339Nano), cp.PriorPrompt,
		string(cp.PriorStatus), nullableInt(cp.PriorExitCode), cp.OutputPrefix,
	)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a task, or
// (nil, nil) if none exists.
func (s *Store) LatestCheckpoint(ctx context.Context, taskID string) (*domain.TaskCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, created_at, prior_prompt, prior_status, prior_exit_code, output_prefix
		FROM checkpoints WHERE task_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, taskID)

	var (
		cp            domain.TaskCheckpoint
		createdAt     string
		priorStatus   string
		priorExitCode sql.NullInt64
	)
	err := row.Scan(&cp.ID, &cp.TaskID, &createdAt, &cp.PriorPrompt, &priorStatus, &priorExitCode, &cp.OutputPrefix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	cp.CreatedAt = parsed
	cp.PriorStatus = domain.TaskStatus(priorStatus)
	cp.PriorExitCode = intOrNil(priorExitCode)

	return &cp, nil
}
