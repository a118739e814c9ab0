// Package notify sends de-duplicated push notices to a senior and the people
// caring for them.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MarkerStore records which notices were already handled. Claim must be an
// atomic create-if-absent.
type MarkerStore interface {
	Claim(ctx context.Context, key, kind string, entityID uuid.UUID) (bool, error)
	Release(ctx context.Context, key string) error
}

// MarkerKey builds kind_entityID_slot_YYYY-MM-DD. Colons in slot become
// dashes. date must already be in the entity owner's timezone.
func MarkerKey(kind string, entityID uuid.UUID, slot string, date time.Time) string {
	return kind + "_" + entityID.String() + "_" + strings.ReplaceAll(slot, ":", "-") + "_" + date.Format("2006-01-02")
}
