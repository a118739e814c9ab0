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

// GetCheckInSchedule retrieves the schedule for a senior
func (r *Repository) GetCheckInSchedule(ctx context.Context, seniorID uuid.UUID) (*CheckInSchedule, error) {
	query := `
		SELECT id, senior_id, check_in_times, COALESCE(mood_options, '{}'), is_active, updated_at
		FROM scheduled_check_ins
		WHERE senior_id = $1
	`

	var s CheckInSchedule
	err := r.db.Pool().QueryRow(ctx, query, seniorID).Scan(
		&s.ID,
		&s.SeniorID,
		&s.CheckInTimes,
		&s.MoodOptions,
		&s.IsActive,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check-in schedule for %s: %w", seniorID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query check-in schedule: %w", err)
	}

	return &s, nil
}

// UpsertCheckInSchedule creates or replaces a senior's schedule. Completions
// already recorded are left untouched.
func (r *Repository) UpsertCheckInSchedule(ctx context.Context, s *CheckInSchedule) error {
	query := `
		INSERT INTO scheduled_check_ins (id, senior_id, check_in_times, mood_options, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (senior_id) DO UPDATE
		SET check_in_times = EXCLUDED.check_in_times,
			mood_options = EXCLUDED.mood_options,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, updated_at
	`

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CheckInTimes == nil {
		s.CheckInTimes = []string{}
	}
	if s.MoodOptions == nil {
		s.MoodOptions = []string{}
	}

	err := r.db.Pool().QueryRow(ctx, query,
		s.ID,
		s.SeniorID,
		s.CheckInTimes,
		s.MoodOptions,
		s.IsActive,
	).Scan(&s.ID, &s.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to upsert check-in schedule",
			zap.Error(err),
			zap.String("senior_id", s.SeniorID.String()),
		)
		return fmt.Errorf("upsert check-in schedule: %w", err)
	}

	return nil
}

// ListActiveCheckInSchedules returns every active schedule.
func (r *Repository) ListActiveCheckInSchedules(ctx context.Context) ([]*CheckInSchedule, error) {
	query := `
		SELECT id, senior_id, check_in_times, COALESCE(mood_options, '{}'), is_active, updated_at
		FROM scheduled_check_ins
		WHERE is_active
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query check-in schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*CheckInSchedule
	for rows.Next() {
		var s CheckInSchedule
		if err := rows.Scan(&s.ID, &s.SeniorID, &s.CheckInTimes, &s.MoodOptions, &s.IsActive, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan check-in schedule: %w", err)
		}
		schedules = append(schedules, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return schedules, nil
}

// CreateCheckInCompletion records a completed slot. A second completion of
// the same slot on the same day returns ErrAlreadyCompleted.
func (r *Repository) CreateCheckInCompletion(ctx context.Context, l *Log) error {
	query := `
		INSERT INTO logs (id, user_id, log_type, scheduled_time, log_date, mood, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.LogType = LogTypeCheckIn
	if l.Status == "" {
		l.Status = "completed"
	}

	err := r.db.Pool().QueryRow(ctx, query,
		l.ID,
		l.UserID,
		l.LogType,
		l.ScheduledTime,
		l.LogDate,
		l.Mood,
		l.Status,
	).Scan(&l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadyCompleted
	}
	if err != nil {
		return fmt.Errorf("insert check-in completion: %w", err)
	}

	r.logger.Info("check-in completed",
		zap.String("user_id", l.UserID.String()),
		zap.String("slot", l.ScheduledTime),
		zap.String("mood", l.Mood),
	)

	return nil
}

// CompletedSlots returns the set of slots completed by a senior on day.
// Only the calendar date of day is used.
func (r *Repository) CompletedSlots(ctx context.Context, seniorID uuid.UUID, day time.Time) (map[string]bool, error) {
	query := `
		SELECT scheduled_time
		FROM logs
		WHERE user_id = $1 AND log_type = $2 AND log_date = $3
	`

	rows, err := r.db.Pool().Query(ctx, query, seniorID, LogTypeCheckIn, dateOnly(day))
	if err != nil {
		return nil, fmt.Errorf("query completed slots: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		completed[slot] = true
	}

	return completed, rows.Err()
}

// dateOnly strips the clock but keeps the wall date of t's own location.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
