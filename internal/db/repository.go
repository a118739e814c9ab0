package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles all document reads and writes.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `
	id, name, COALESCE(email, ''), role, care_manager_id,
	COALESCE(linked_family, '{}'), COALESCE(device_tokens, '{}'),
	COALESCE(timezone, ''), created_at
`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.CareManagerID,
		&u.LinkedFamily,
		&u.DeviceTokens,
		&u.Timezone,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get user",
			zap.Error(err),
			zap.String("user_id", id.String()),
		)
		return nil, fmt.Errorf("query user: %w", err)
	}

	return u, nil
}

// CreateUser inserts a user. Device tokens are managed outside this service
// but are accepted here for seeding.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (
			id, name, email, role, care_manager_id,
			linked_family, device_tokens, timezone
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING created_at
	`

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	// nil slices encode as NULL; the array columns are NOT NULL
	if u.LinkedFamily == nil {
		u.LinkedFamily = []uuid.UUID{}
	}
	if u.DeviceTokens == nil {
		u.DeviceTokens = []string{}
	}

	err := r.db.Pool().QueryRow(ctx, query,
		u.ID,
		u.Name,
		u.Email,
		u.Role,
		u.CareManagerID,
		u.LinkedFamily,
		u.DeviceTokens,
		u.Timezone,
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// ListSeniors returns every user with the senior role.
func (r *Repository) ListSeniors(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query, RoleSenior)
	if err != nil {
		return nil, fmt.Errorf("query seniors: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}
