package kernelstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// AddDependency records that taskID depends on dependsOnTaskID, rejecting
// the insert with ErrCodeDependencyCycle if it would close a cycle in the
// dependency graph. Cycle detection and the insert happen in the same
// transaction so a concurrent insert can never slip a cycle past the check.
func (s *Store) AddDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cyclic, err := reachable(ctx, tx, dependsOnTaskID, taskID)
		if err != nil {
			return fmt.Errorf("check dependency cycle: %w", err)
		}
		if cyclic {
			return domain.NewError(domain.ErrCodeDependencyCycle,
				fmt.Sprintf("adding dependency %s -> %s would create a cycle", taskID, dependsOnTaskID))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (id, task_id, depends_on_task_id, created_at, resolution)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.NewString(), taskID, dependsOnTaskID, time.Now().UTC().Format(time.RFC3339Nano),
			string(domain.DependencyResolutionPending))
		if err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
		return nil
	})
}

// reachable reports whether target is reachable from start by walking
// depends_on_task_id edges, i.e. whether start already (transitively)
// depends on target.
func reachable(ctx context.Context, tx *sql.Tx, start, target string) (bool, error) {
	if start == target {
		return true, nil
	}
	visited := map[string]bool{start: true}
	frontier := []string{start}

	for len(frontier) > 0 {
		rows, err := tx.QueryContext(ctx, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id IN (`+placeholders(len(frontier))+`)`, toArgs(frontier)...)
		if err != nil {
			return false, err
		}
		var next []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, err
			}
			if id == target {
				rows.Close()
				return true, nil
			}
			if !visited[id] {
				visited[id] = true
				next = append(next, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()
		frontier = next
	}
	return false, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func toArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

// ListDependencies returns the tasks a given task depends on.
func (s *Store) ListDependencies(ctx context.Context, taskID string) ([]*domain.TaskDependency, error) {
	return s.queryDependencies(ctx, `task_id = ?`, taskID)
}

// ListDependents returns the tasks that depend on a given task.
func (s *Store) ListDependents(ctx context.Context, taskID string) ([]*domain.TaskDependency, error) {
	return s.queryDependencies(ctx, `depends_on_task_id = ?`, taskID)
}

func (s *Store) queryDependencies(ctx context.Context, where string, arg string) ([]*domain.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, depends_on_task_id, created_at, resolved_at, resolution
		FROM task_dependencies WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*domain.TaskDependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// ResolveDependency marks a dependency edge resolved (completed, failed, or
// cancelled) as of now.
func (s *Store) ResolveDependency(ctx context.Context, id string, resolution domain.DependencyResolution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_dependencies SET resolution = ?, resolved_at = ? WHERE id = ?
	`, string(resolution), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("resolve dependency: %w", err)
	}
	return nil
}

// ResolveDependenciesByParent marks every still-pending edge pointing at
// parentTaskID with resolution in a single UPDATE — the N->1 batch the
// dependency handler needs instead of one statement per dependent — and
// returns the distinct set of dependent task ids affected.
func (s *Store) ResolveDependenciesByParent(ctx context.Context, parentTaskID string, resolution domain.DependencyResolution) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT task_id FROM task_dependencies
		WHERE depends_on_task_id = ? AND resolution = ?
	`, parentTaskID, string(domain.DependencyResolutionPending))
	if err != nil {
		return nil, fmt.Errorf("select pending dependents: %w", err)
	}
	var dependents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dependents = append(dependents, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	_, err = s.db.ExecContext(ctx, `
		UPDATE task_dependencies SET resolution = ?, resolved_at = ?
		WHERE depends_on_task_id = ? AND resolution = ?
	`, string(resolution), time.Now().UTC().Format(time.RFC3339Nano), parentTaskID, string(domain.DependencyResolutionPending))
	if err != nil {
		return nil, fmt.Errorf("resolve dependents of %s: %w", parentTaskID, err)
	}
	return dependents, nil
}

func scanDependency(sc scanner) (*domain.TaskDependency, error) {
	var (
		d          domain.TaskDependency
		createdAt  string
		resolvedAt sql.NullTime
		resolution string
	)
	if err := sc.Scan(&d.ID, &d.TaskID, &d.DependsOnTaskID, &createdAt, &resolvedAt, &resolution); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	d.CreatedAt = parsed
	d.ResolvedAt = timeOrZero(resolvedAt)
	d.Resolution = domain.DependencyResolution(resolution)
	return &d, nil
}
