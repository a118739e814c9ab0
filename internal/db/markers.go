package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MarkerStore keeps "notification already sent" markers in the
// notifications_sent table. A marker's existence is the only record that a
// slot was handled.
type MarkerStore struct {
	db     *DB
	logger *zap.Logger
}

// NewMarkerStore creates a Postgres-backed marker store.
func NewMarkerStore(db *DB, logger *zap.Logger) *MarkerStore {
	return &MarkerStore{db: db, logger: logger}
}

// Claim creates the marker if it does not exist. It returns false when
// another run already holds it.
func (s *MarkerStore) Claim(ctx context.Context, key, kind string, entityID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO notifications_sent (id, kind, entity_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := s.db.Pool().Exec(ctx, query, key, kind, entityID)
	if err != nil {
		return false, fmt.Errorf("claim marker %s: %w", key, err)
	}

	return tag.RowsAffected() == 1, nil
}

// Release deletes a claimed marker so the slot is retried.
func (s *MarkerStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.Pool().Exec(ctx, `DELETE FROM notifications_sent WHERE id = $1`, key); err != nil {
		return fmt.Errorf("release marker %s: %w", key, err)
	}
	s.logger.Debug("marker released", zap.String("key", key))
	return nil
}

// Prune removes markers older than a week and returns how many went.
func (s *MarkerStore) Prune(ctx context.Context) (int, error) {
	var removed int
	if err := s.db.Pool().QueryRow(ctx, `SELECT prune_notification_markers()`).Scan(&removed); err != nil {
		return 0, fmt.Errorf("prune markers: %w", err)
	}
	return removed, nil
}
