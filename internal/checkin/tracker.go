package checkin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot is what a Source knows about a senior's day.
type Snapshot struct {
	Times     []string
	Completed map[string]bool
	Location  *time.Location
}

// Source loads the schedule and today's completions for a senior.
// now is passed so implementations can pick the senior's local calendar day.
type Source interface {
	CheckInSnapshot(ctx context.Context, seniorID uuid.UUID, now time.Time) (*Snapshot, error)
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	RefreshInterval time.Duration
	Now             func() time.Time
}

// Tracker streams Window updates to subscribers. Each subscription re-evaluates
// on a fixed interval and immediately after Refresh is called for its senior.
type Tracker struct {
	source Source
	config TrackerConfig
	logger *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscription]struct{}
}

type subscription struct {
	refresh chan struct{}
}

// NewTracker creates a Tracker.
func NewTracker(source Source, cfg TrackerConfig, logger *zap.Logger) *Tracker {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		source: source,
		config: cfg,
		logger: logger,
		subs:   make(map[uuid.UUID]map[*subscription]struct{}),
	}
}

// Current evaluates the Window for a senior once.
func (t *Tracker) Current(ctx context.Context, seniorID uuid.UUID) (Window, error) {
	now := t.config.Now()
	snap, err := t.source.CheckInSnapshot(ctx, seniorID, now)
	if err != nil {
		return Window{}, err
	}
	if snap.Location != nil {
		now = now.In(snap.Location)
	}
	return Evaluate(snap.Times, snap.Completed, now), nil
}

// Subscribe returns a channel that receives the current Window right away and
// then every refresh. The channel is closed once ctx is done. A subscriber
// that falls behind only ever sees the most recent Window.
func (t *Tracker) Subscribe(ctx context.Context, seniorID uuid.UUID) (<-chan Window, error) {
	first, err := t.Current(ctx, seniorID)
	if err != nil {
		return nil, err
	}

	out := make(chan Window, 1)
	out <- first

	sub := &subscription{refresh: make(chan struct{}, 1)}
	t.mu.Lock()
	if t.subs[seniorID] == nil {
		t.subs[seniorID] = make(map[*subscription]struct{})
	}
	t.subs[seniorID][sub] = struct{}{}
	t.mu.Unlock()

	go t.run(ctx, seniorID, sub, out)

	return out, nil
}

// Refresh re-evaluates every subscription for seniorID without waiting for
// the next tick.
func (t *Tracker) Refresh(seniorID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subs[seniorID] {
		select {
		case sub.refresh <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for a senior.
func (t *Tracker) Subscribers(seniorID uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[seniorID])
}

func (t *Tracker) run(ctx context.Context, seniorID uuid.UUID, sub *subscription, out chan Window) {
	ticker := time.NewTicker(t.config.RefreshInterval)
	defer func() {
		ticker.Stop()
		t.unsubscribe(seniorID, sub)
		close(out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sub.refresh:
		}

		w, err := t.Current(ctx, seniorID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("check-in status refresh failed",
				zap.String("senior_id", seniorID.String()),
				zap.Error(err),
			)
			continue
		}

		// Replace any unread value so the subscriber never blocks us.
		select {
		case <-out:
		default:
		}
		out <- w
	}
}

func (t *Tracker) unsubscribe(seniorID uuid.UUID, sub *subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.subs[seniorID], sub)
	if len(t.subs[seniorID]) == 0 {
		delete(t.subs, seniorID)
	}
}
