package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/db"
)

// Audience selects who receives a notice.
type Audience uint8

const (
	AudienceSenior Audience = 1 << iota
	AudienceCareManager
	AudienceFamily

	AudienceCarers = AudienceCareManager | AudienceFamily
	AudienceAll    = AudienceSenior | AudienceCarers
)

// UserStore loads users by id.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// AudienceResolver turns a senior and an audience into device tokens. Users
// are cached briefly since a job run looks up the same carers repeatedly.
type AudienceResolver struct {
	users  UserStore
	cache  *cache.Cache
	logger *zap.Logger
}

// NewAudienceResolver caches users for ttl.
func NewAudienceResolver(users UserStore, ttl time.Duration, logger *zap.Logger) *AudienceResolver {
	return &AudienceResolver{
		users:  users,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// User returns a user, from cache when fresh.
func (r *AudienceResolver) User(ctx context.Context, id uuid.UUID) (*db.User, error) {
	if u, ok := r.cache.Get(id.String()); ok {
		return u.(*db.User), nil
	}
	u, err := r.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(id.String(), u)
	return u, nil
}

// Recipients returns the users in audience for senior, senior first, then
// the care manager, then family in linked order. Referenced users that no
// longer exist are logged and skipped.
func (r *AudienceResolver) Recipients(ctx context.Context, senior *db.User, audience Audience) ([]*db.User, error) {
	var out []*db.User
	if audience&AudienceSenior != 0 {
		out = append(out, senior)
	}

	var ids []uuid.UUID
	if audience&AudienceCareManager != 0 && senior.CareManagerID != nil {
		ids = append(ids, *senior.CareManagerID)
	}
	if audience&AudienceFamily != 0 {
		ids = append(ids, senior.LinkedFamily...)
	}

	for _, id := range ids {
		u, err := r.User(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			r.logger.Warn("linked user not found, skipping",
				zap.String("senior_id", senior.ID.String()),
				zap.String("user_id", id.String()),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load recipient %s: %w", id, err)
		}
		out = append(out, u)
	}

	return out, nil
}

// Tokens returns the de-duplicated device tokens of the audience, in
// recipient order.
func (r *AudienceResolver) Tokens(ctx context.Context, senior *db.User, audience Audience) ([]string, error) {
	users, err := r.Recipients(ctx, senior, audience)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var tokens []string
	for _, u := range users {
		for _, t := range u.DeviceTokens {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tokens = append(tokens, t)
		}
	}
	return tokens, nil
}
