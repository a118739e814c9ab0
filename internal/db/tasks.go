package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, senior_id, care_manager_id, title, COALESCE(description, ''), status, due_at, completed_at, created_at`

func scanTask(row pgx.Row) (*CarerTask, error) {
	var t CarerTask
	err := row.Scan(
		&t.ID,
		&t.SeniorID,
		&t.CareManagerID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.DueAt,
		&t.CompletedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts an open carer task
func (r *Repository) CreateTask(ctx context.Context, t *CarerTask) error {
	query := `
		INSERT INTO carer_tasks (id, senior_id, care_manager_id, title, description, status, due_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING created_at
	`

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Status = TaskOpen

	err := r.db.Pool().QueryRow(ctx, query,
		t.ID, t.SeniorID, t.CareManagerID, t.Title, t.Description, t.Status, t.DueAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert carer task: %w", err)
	}

	return nil
}

// ListTasksBySenior returns a senior's tasks, open ones first.
func (r *Repository) ListTasksBySenior(ctx context.Context, seniorID uuid.UUID, limit, offset int) ([]*CarerTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM carer_tasks
		WHERE senior_id = $1
		ORDER BY status = 'completed', created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, seniorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query carer tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*CarerTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan carer task: %w", err)
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// CompleteTask closes an open task.
func (r *Repository) CompleteTask(ctx context.Context, id uuid.UUID) (*CarerTask, error) {
	query := `
		UPDATE carer_tasks
		SET status = 'completed', completed_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + taskColumns

	t, err := scanTask(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM carer_tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("query carer task: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("carer task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: carer task %s already completed", ErrInvalidTransition, id)
	}
	if err != nil {
		return nil, fmt.Errorf("complete carer task: %w", err)
	}

	return t, nil
}
