package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MarkerTTL outlives the latest day a marker can be consulted for. Jobs look
// at yesterday, today and tomorrow, so two days is enough.
const MarkerTTL = 48 * time.Hour

// MarkerStore keeps notification markers as plain keys.
type MarkerStore struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewMarkerStore creates a Redis-backed marker store.
func NewMarkerStore(client *Client, logger *zap.Logger) *MarkerStore {
	return &MarkerStore{client: client, logger: logger, ttl: MarkerTTL}
}

func markerKey(key string) string {
	return "marker:" + key
}

// Claim sets the marker with SET NX. It returns false when the marker exists.
func (s *MarkerStore) Claim(ctx context.Context, key, kind string, entityID uuid.UUID) (bool, error) {
	ok, err := s.client.rdb.SetNX(ctx, markerKey(key), kind+":"+entityID.String(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		s.logger.Debug("marker already held", zap.String("key", key))
	}
	return ok, nil
}

// Release drops a marker so the next run can retry.
func (s *MarkerStore) Release(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, markerKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Prune is a no-op; keys expire on their own.
func (s *MarkerStore) Prune(ctx context.Context) (int, error) {
	return 0, nil
}
