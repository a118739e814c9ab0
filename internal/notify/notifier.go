package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/metrics"
	"github.com/lalithlochan/carecircle/internal/worker"
)

// Notice kinds. Each is also the marker kind.
const (
	KindCheckInUpcoming  = "checkin_upcoming"
	KindCheckInMissed    = "checkin_missed"
	KindRoutineUpcoming  = "routine_upcoming"
	KindReminderUpcoming = "reminder_upcoming"
	KindReminderMissed   = "reminder_missed"
	KindAlert            = "alert"
)

// Outcome of one Notify call.
type Outcome string

const (
	Sent             Outcome = "sent"
	SkippedNoTokens  Outcome = "no_tokens"
	SkippedDuplicate Outcome = "duplicate"
	SkippedNotFound  Outcome = "not_found"
	Failed           Outcome = "failed"
)

// Notice is one push about one slot occurrence of one entity.
type Notice struct {
	Kind     string
	EntityID uuid.UUID
	SeniorID uuid.UUID
	// Slot is the occurrence label, usually "HH:MM".
	Slot string
	// Date is the occurrence date in the senior's timezone.
	Date     time.Time
	Audience Audience
	Title    string
	Body     string
	// Data is merged into the push data block with type and screen.
	Data map[string]string
}

// Key is the marker key of the notice.
func (n Notice) Key() string {
	return MarkerKey(n.Kind, n.EntityID, n.Slot, n.Date)
}

// Notifier sends each notice at most once.
type Notifier struct {
	audience *AudienceResolver
	markers  MarkerStore
	sender   worker.Sender
	logger   *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(audience *AudienceResolver, markers MarkerStore, sender worker.Sender, logger *zap.Logger) *Notifier {
	return &Notifier{
		audience: audience,
		markers:  markers,
		sender:   sender,
		logger:   logger,
	}
}

// Notify resolves the audience, claims the marker and sends one multicast
// push. A failed send releases the marker so the next run can retry. A crash
// between claim and send loses that notice.
func (n *Notifier) Notify(ctx context.Context, notice Notice) (Outcome, error) {
	outcome, err := n.notify(ctx, notice)
	metrics.RecordNotice(notice.Kind, string(outcome))
	return outcome, err
}

func (n *Notifier) notify(ctx context.Context, notice Notice) (Outcome, error) {
	log := n.logger.With(
		zap.String("kind", notice.Kind),
		zap.String("entity_id", notice.EntityID.String()),
		zap.String("slot", notice.Slot),
	)

	senior, err := n.audience.User(ctx, notice.SeniorID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("senior not found, skipping notice", zap.String("senior_id", notice.SeniorID.String()))
		return SkippedNotFound, nil
	}
	if err != nil {
		return Failed, fmt.Errorf("load senior: %w", err)
	}

	tokens, err := n.audience.Tokens(ctx, senior, notice.Audience)
	if err != nil {
		return Failed, err
	}
	if len(tokens) == 0 {
		log.Debug("no device tokens, skipping notice")
		return SkippedNoTokens, nil
	}

	key := notice.Key()
	claimed, err := n.markers.Claim(ctx, key, notice.Kind, notice.EntityID)
	if err != nil {
		return Failed, err
	}
	if !claimed {
		log.Debug("notice already sent", zap.String("marker", key))
		return SkippedDuplicate, nil
	}

	d, err := worker.NewDelivery(notice.Kind, notice.SeniorID, worker.ChannelPush, BuildPush(notice, tokens))
	if err == nil {
		err = n.sender.Send(ctx, d)
	}
	if err != nil {
		if relErr := n.markers.Release(ctx, key); relErr != nil {
			log.Error("failed to release marker", zap.String("marker", key), zap.Error(relErr))
		}
		return Failed, fmt.Errorf("send %s: %w", notice.Kind, err)
	}

	log.Info("notice sent", zap.String("marker", key), zap.Int("tokens", len(tokens)))
	return Sent, nil
}
