package kernelstore

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// AppendOutputChunk persists one output chunk at the given stream sequence
// number, flushed from the in-memory capture buffer once a task reaches a
// terminal state. sequence must be monotonically increasing per
// (taskID, stream); the primary key rejects a duplicate.
func (s *Store) AppendOutputChunk(ctx context.Context, taskID string, stream domain.OutputStream, sequence int, chunk string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outputs (task_id, stream, sequence, chunk, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, string(stream), sequence, chunk, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append output chunk: %w", err)
	}
	return nil
}

// GetOutput reassembles a task's persisted stdout and stderr in sequence
// order.
func (s *Store) GetOutput(ctx context.Context, taskID string) (*domain.TaskOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream, chunk FROM task_outputs WHERE task_id = ? ORDER BY stream, sequence ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get output: %w", err)
	}
	defer rows.Close()

	out := &domain.TaskOutput{}
	for rows.Next() {
		var stream, chunk string
		if err := rows.Scan(&stream, &chunk); err != nil {
			return nil, fmt.Errorf("scan output chunk: %w", err)
		}
		switch domain.OutputStream(stream) {
		case domain.StreamStdout:
			out.Stdout = append(out.Stdout, chunk)
		case domain.StreamStderr:
			out.Stderr = append(out.Stderr, chunk)
		}
		out.TotalSize += int64(len(chunk))
	}
	return out, rows.Err()
}

// DeleteOutput removes a task's persisted output, used when the retained
// completed-task window evicts it.
func (s *Store) DeleteOutput(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_outputs WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete output: %w", err)
	}
	return nil
}
