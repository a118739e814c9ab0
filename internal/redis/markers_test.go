package redis

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestMarkerStore_ClaimOnce(t *testing.T) {
	store := NewMarkerStore(setupTestClient(t), zap.NewNop())
	ctx := context.Background()
	id := uuid.New()

	ok, err := store.Claim(ctx, "checkin_upcoming_x_09-00_2024-03-01", "checkin_upcoming", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("first claim should succeed")
	}

	ok, err = store.Claim(ctx, "checkin_upcoming_x_09-00_2024-03-01", "checkin_upcoming", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("second claim should fail")
	}
}

func TestMarkerStore_ReleaseAllowsReclaim(t *testing.T) {
	store := NewMarkerStore(setupTestClient(t), zap.NewNop())
	ctx := context.Background()
	key := "reminder_missed_x_10-30_2024-03-01"

	if ok, _ := store.Claim(ctx, key, "reminder_missed", uuid.New()); !ok {
		t.Fatal("claim should succeed")
	}
	if err := store.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}

	if n := store.client.rdb.Exists(ctx, markerKey(key)).Val(); n != 0 {
		t.Fatal("marker should be gone after release")
	}

	if ok, _ := store.Claim(ctx, key, "reminder_missed", uuid.New()); !ok {
		t.Fatal("claim after release should succeed")
	}
}

func TestMarkerStore_KeysExpire(t *testing.T) {
	client := setupTestClient(t)
	store := NewMarkerStore(client, zap.NewNop())
	ctx := context.Background()

	if _, err := store.Claim(ctx, "k", "alert", uuid.New()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ttl, err := client.rdb.TTL(ctx, markerKey("k")).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > MarkerTTL {
		t.Errorf("expected ttl in (0, %v], got %v", MarkerTTL, ttl)
	}
}
