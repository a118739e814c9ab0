package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreateRoutine inserts a routine
func (r *Repository) CreateRoutine(ctx context.Context, rt *Routine) error {
	query := `
		INSERT INTO routines (id, user_id, title, scheduled_time, scheduled_days, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	if rt.ScheduledDays == nil {
		rt.ScheduledDays = []string{} // every day
	}

	err := r.db.Pool().QueryRow(ctx, query,
		rt.ID, rt.UserID, rt.Title, rt.ScheduledTime, rt.ScheduledDays, rt.IsActive,
	).Scan(&rt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert routine: %w", err)
	}

	return nil
}

// ListRoutines returns routines for a user, or every active routine when
// userID is uuid.Nil.
func (r *Repository) ListRoutines(ctx context.Context, userID uuid.UUID) ([]*Routine, error) {
	query := `
		SELECT id, user_id, title, scheduled_time, COALESCE(scheduled_days, '{}'), is_active, created_at
		FROM routines
		WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid AND is_active) OR user_id = $1
		ORDER BY scheduled_time
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query routines: %w", err)
	}
	defer rows.Close()

	var routines []*Routine
	for rows.Next() {
		var rt Routine
		if err := rows.Scan(&rt.ID, &rt.UserID, &rt.Title, &rt.ScheduledTime, &rt.ScheduledDays, &rt.IsActive, &rt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		routines = append(routines, &rt)
	}

	return routines, rows.Err()
}

const reminderColumns = `id, user_id, title, COALESCE(description, ''), scheduled_time, status, completed_at, created_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var rm Reminder
	err := row.Scan(
		&rm.ID,
		&rm.UserID,
		&rm.Title,
		&rm.Description,
		&rm.ScheduledTime,
		&rm.Status,
		&rm.CompletedAt,
		&rm.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

// CreateReminder inserts a pending reminder
func (r *Repository) CreateReminder(ctx context.Context, rm *Reminder) error {
	query := `
		INSERT INTO reminders (id, user_id, title, description, scheduled_time, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING created_at
	`

	if rm.ID == uuid.Nil {
		rm.ID = uuid.New()
	}
	rm.Status = ReminderPending

	err := r.db.Pool().QueryRow(ctx, query,
		rm.ID, rm.UserID, rm.Title, rm.Description, rm.ScheduledTime, rm.Status,
	).Scan(&rm.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}

	return nil
}

// GetReminder retrieves a reminder by ID
func (r *Repository) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`

	rm, err := scanReminder(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query reminder: %w", err)
	}
	return rm, nil
}

// ListRemindersByUser returns a user's reminders, newest first.
func (r *Repository) ListRemindersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Reminder, error) {
	query := `SELECT ` + reminderColumns + `
		FROM reminders
		WHERE user_id = $1
		ORDER BY scheduled_time DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryReminders(ctx, query, userID, limit, offset)
}

// ListPendingRemindersBetween returns pending reminders scheduled in [from, to].
func (r *Repository) ListPendingRemindersBetween(ctx context.Context, from, to time.Time) ([]*Reminder, error) {
	query := `SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status = $1 AND scheduled_time BETWEEN $2 AND $3
		ORDER BY scheduled_time
	`
	return r.queryReminders(ctx, query, ReminderPending, from, to)
}

// ListOverdueRemindersBetween returns pending and missed reminders scheduled
// in [from, to]. Missed ones stay listed so a failed notice is retried.
func (r *Repository) ListOverdueRemindersBetween(ctx context.Context, from, to time.Time) ([]*Reminder, error) {
	query := `SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status IN ($1, $2) AND scheduled_time BETWEEN $3 AND $4
		ORDER BY scheduled_time
	`
	return r.queryReminders(ctx, query, ReminderPending, ReminderMissed, from, to)
}

func (r *Repository) queryReminders(ctx context.Context, query string, args ...any) ([]*Reminder, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		rm, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, rm)
	}

	return reminders, rows.Err()
}

// TransitionReminder moves a pending reminder to a terminal status. Reminders
// that already left pending return ErrInvalidTransition.
func (r *Repository) TransitionReminder(ctx context.Context, id uuid.UUID, status string) (*Reminder, error) {
	if status != ReminderCompleted && status != ReminderMissed {
		return nil, fmt.Errorf("%w: to %s", ErrInvalidTransition, status)
	}

	query := `
		UPDATE reminders
		SET status = $1,
			completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $2 AND status = 'pending'
		RETURNING ` + reminderColumns

	rm, err := scanReminder(r.db.Pool().QueryRow(ctx, query, status, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetReminder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: reminder %s is no longer pending", ErrInvalidTransition, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update reminder status: %w", err)
	}

	r.logger.Info("reminder status changed",
		zap.String("reminder_id", id.String()),
		zap.String("status", status),
	)

	return rm, nil
}

// CreateAlert inserts an alert
func (r *Repository) CreateAlert(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO alerts (id, user_id, type, message)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING created_at
	`

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	if err := r.db.Pool().QueryRow(ctx, query, a.ID, a.UserID, a.Type, a.Message).Scan(&a.CreatedAt); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	return nil
}

// MarkAlertForwarded stamps forwarded_at once.
func (r *Repository) MarkAlertForwarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE alerts SET forwarded_at = $1 WHERE id = $2 AND forwarded_at IS NULL`

	if _, err := r.db.Pool().Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark alert forwarded: %w", err)
	}
	return nil
}

// ListAlertsByUser returns a user's alerts, newest first.
func (r *Repository) ListAlertsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Alert, error) {
	query := `
		SELECT id, user_id, type, COALESCE(message, ''), forwarded_at, created_at
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Message, &a.ForwardedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}
