package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/notify"
)

var kolkata, _ = time.LoadLocation("Asia/Kolkata")

type fakeStore struct {
	mu          sync.Mutex
	schedules   []*db.CheckInSchedule
	completed   map[string]map[string]bool // day -> slot
	routines    []*db.Routine
	reminders   []*db.Reminder
	transitions []uuid.UUID
	listErr     error
}

func (f *fakeStore) ListActiveCheckInSchedules(ctx context.Context) ([]*db.CheckInSchedule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.schedules, nil
}

func (f *fakeStore) CompletedSlots(ctx context.Context, seniorID uuid.UUID, day time.Time) (map[string]bool, error) {
	return f.completed[day.Format("2006-01-02")], nil
}

func (f *fakeStore) ListRoutines(ctx context.Context, userID uuid.UUID) ([]*db.Routine, error) {
	return f.routines, nil
}

func (f *fakeStore) ListPendingRemindersBetween(ctx context.Context, from, to time.Time) ([]*db.Reminder, error) {
	var out []*db.Reminder
	for _, rm := range f.reminders {
		if rm.Status == db.ReminderPending && !rm.ScheduledTime.Before(from) && !rm.ScheduledTime.After(to) {
			out = append(out, rm)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOverdueRemindersBetween(ctx context.Context, from, to time.Time) ([]*db.Reminder, error) {
	var out []*db.Reminder
	for _, rm := range f.reminders {
		overdue := rm.Status == db.ReminderPending || rm.Status == db.ReminderMissed
		if overdue && !rm.ScheduledTime.Before(from) && !rm.ScheduledTime.After(to) {
			out = append(out, rm)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionReminder(ctx context.Context, id uuid.UUID, status string) (*db.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rm := range f.reminders {
		if rm.ID != id {
			continue
		}
		if rm.Status != db.ReminderPending {
			return nil, db.ErrInvalidTransition
		}
		rm.Status = status
		f.transitions = append(f.transitions, id)
		return rm, nil
	}
	return nil, db.ErrNotFound
}

type fakeUsers map[uuid.UUID]*db.User

func (f fakeUsers) User(ctx context.Context, id uuid.UUID) (*db.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

type fakeNotifier struct {
	notices []notify.Notice
	seen    map[string]bool
	// failures is how many calls fail before sends succeed.
	failures int
	calls    int
}

func (f *fakeNotifier) Notify(ctx context.Context, n notify.Notice) (notify.Outcome, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return notify.Failed, errors.New("sns: throttled")
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[n.Key()] {
		return notify.SkippedDuplicate, nil
	}
	f.seen[n.Key()] = true
	f.notices = append(f.notices, n)
	return notify.Sent, nil
}

func setup(t *testing.T) (*Deps, *fakeStore, *fakeNotifier, *db.User) {
	t.Helper()
	senior := &db.User{ID: uuid.New(), Name: "Asha", Role: db.RoleSenior, Timezone: "Asia/Kolkata"}
	store := &fakeStore{completed: map[string]map[string]bool{}}
	n := &fakeNotifier{}
	return &Deps{
		Store:    store,
		Users:    fakeUsers{senior.ID: senior},
		Notifier: n,
		Fallback: time.UTC,
		Logger:   zap.NewNop(),
	}, store, n, senior
}

func ist(day, hour, min int) time.Time {
	return time.Date(2024, 3, day, hour, min, 0, 0, kolkata)
}

func TestCheckInUpcoming(t *testing.T) {
	deps, store, n, senior := setup(t)
	store.schedules = []*db.CheckInSchedule{{SeniorID: senior.ID, CheckInTimes: []string{"09:00", "20:00"}, IsActive: true}}

	job := CheckInUpcoming{deps}
	require.NoError(t, job.Run(context.Background(), ist(4, 8, 43).UTC()))

	require.Len(t, n.notices, 1)
	got := n.notices[0]
	assert.Equal(t, notify.KindCheckInUpcoming, got.Kind)
	assert.Equal(t, "09:00", got.Slot)
	assert.Equal(t, senior.ID, got.EntityID)
	assert.Equal(t, notify.AudienceSenior, got.Audience)
	assert.Equal(t, "2024-03-04", got.Date.Format("2006-01-02"))

	// the next tick inside the same window is deduplicated by the marker
	require.NoError(t, job.Run(context.Background(), ist(4, 8, 44).UTC()))
	assert.Len(t, n.notices, 1)
}

func TestCheckInUpcoming_AcrossMidnight(t *testing.T) {
	deps, store, n, senior := setup(t)
	store.schedules = []*db.CheckInSchedule{{SeniorID: senior.ID, CheckInTimes: []string{"00:05"}, IsActive: true}}

	require.NoError(t, CheckInUpcoming{deps}.Run(context.Background(), ist(4, 23, 48)))

	require.Len(t, n.notices, 1)
	assert.Equal(t, "2024-03-05", n.notices[0].Date.Format("2006-01-02"))
}

func TestCheckInUpcoming_SkipsMalformedSlotAndUnknownSenior(t *testing.T) {
	deps, store, n, senior := setup(t)
	store.schedules = []*db.CheckInSchedule{
		{SeniorID: uuid.New(), CheckInTimes: []string{"09:00"}, IsActive: true},
		{SeniorID: senior.ID, CheckInTimes: []string{"9am", "09:00"}, IsActive: true},
	}

	require.NoError(t, CheckInUpcoming{deps}.Run(context.Background(), ist(4, 8, 45)))

	require.Len(t, n.notices, 1)
	assert.Equal(t, senior.ID, n.notices[0].SeniorID)
}

func TestCheckInUpcoming_ListError(t *testing.T) {
	deps, store, _, _ := setup(t)
	store.listErr = errors.New("connection refused")

	err := CheckInUpcoming{deps}.Run(context.Background(), ist(4, 8, 45))
	assert.ErrorContains(t, err, "connection refused")
}

func TestCheckInMissed(t *testing.T) {
	deps, store, n, senior := setup(t)
	store.schedules = []*db.CheckInSchedule{{SeniorID: senior.ID, CheckInTimes: []string{"08:00", "12:00"}, IsActive: true}}

	// 08:00 closed at 09:30
	require.NoError(t, CheckInMissed{deps}.Run(context.Background(), ist(4, 9, 45)))

	require.Len(t, n.notices, 1)
	got := n.notices[0]
	assert.Equal(t, notify.KindCheckInMissed, got.Kind)
	assert.Equal(t, "08:00", got.Slot)
	assert.Equal(t, notify.AudienceAll, got.Audience)
	assert.Contains(t, got.Body, "Asha")
}

func TestCheckInMissed_CompletedSlotIsQuiet(t *testing.T) {
	deps, store, n, senior := setup(t)
	store.schedules = []*db.CheckInSchedule{{SeniorID: senior.ID, CheckInTimes: []string{"08:00"}, IsActive: true}}
	store.completed["2024-03-04"] = map[string]bool{"08:00": true}

	require.NoError(t, CheckInMissed{deps}.Run(context.Background(), ist(4, 9, 45)))
	assert.Empty(t, n.notices)
}

func TestCheckInMissed_OutsideLookback(t *testing.T) {
	deps, store, n, senior := setup(t)
	store.schedules = []*db.CheckInSchedule{{SeniorID: senior.ID, CheckInTimes: []string{"08:00"}, IsActive: true}}

	// still open
	require.NoError(t, CheckInMissed{deps}.Run(context.Background(), ist(4, 9, 20)))
	// closed more than half an hour ago
	require.NoError(t, CheckInMissed{deps}.Run(context.Background(), ist(4, 10, 5)))

	assert.Empty(t, n.notices)
}

func TestCheckInMissed_LateSlotClosesAfterMidnight(t *testing.T) {
	deps, store, n, senior := setup(t)
	store.schedules = []*db.CheckInSchedule{{SeniorID: senior.ID, CheckInTimes: []string{"23:00"}, IsActive: true}}

	require.NoError(t, CheckInMissed{deps}.Run(context.Background(), ist(5, 0, 40)))

	require.Len(t, n.notices, 1)
	assert.Equal(t, "2024-03-04", n.notices[0].Date.Format("2006-01-02"))
}

func TestRoutineUpcoming(t *testing.T) {
	deps, store, n, senior := setup(t)
	walk := &db.Routine{ID: uuid.New(), UserID: senior.ID, Title: "Morning walk", ScheduledTime: "09:00", ScheduledDays: []string{"Monday"}, IsActive: true}
	yoga := &db.Routine{ID: uuid.New(), UserID: senior.ID, Title: "Yoga", ScheduledTime: "09:00", ScheduledDays: []string{"tue"}, IsActive: true}
	pills := &db.Routine{ID: uuid.New(), UserID: senior.ID, Title: "Pills", ScheduledTime: "09:00", IsActive: true}
	store.routines = []*db.Routine{walk, yoga, pills}

	// March 4th 2024 is a Monday
	require.NoError(t, RoutineUpcoming{deps}.Run(context.Background(), ist(4, 8, 42)))

	require.Len(t, n.notices, 2)
	assert.Equal(t, walk.ID, n.notices[0].EntityID)
	assert.Equal(t, pills.ID, n.notices[1].EntityID)
	assert.Equal(t, walk.ID.String(), n.notices[0].Data["routineId"])
}

func TestOnDay(t *testing.T) {
	tests := []struct {
		days []string
		day  time.Weekday
		want bool
	}{
		{nil, time.Sunday, true},
		{[]string{"Mon", "Wed"}, time.Wednesday, true},
		{[]string{"MONDAY"}, time.Monday, true},
		{[]string{"Mon"}, time.Tuesday, false},
		{[]string{"M"}, time.Monday, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, OnDay(tt.days, tt.day), "%v on %s", tt.days, tt.day)
	}
}

func TestReminderUpcoming(t *testing.T) {
	deps, store, n, senior := setup(t)
	now := ist(4, 8, 0)
	due := &db.Reminder{ID: uuid.New(), UserID: senior.ID, Title: "Call the doctor", ScheduledTime: now.Add(12 * time.Minute), Status: db.ReminderPending}
	later := &db.Reminder{ID: uuid.New(), UserID: senior.ID, Title: "Lunch", ScheduledTime: now.Add(time.Hour), Status: db.ReminderPending}
	store.reminders = []*db.Reminder{due, later}

	require.NoError(t, ReminderUpcoming{deps}.Run(context.Background(), now))

	require.Len(t, n.notices, 1)
	assert.Equal(t, due.ID, n.notices[0].EntityID)
	assert.Equal(t, "08:12", n.notices[0].Slot)
	assert.Equal(t, notify.AudienceSenior, n.notices[0].Audience)
}

func TestReminderMissed(t *testing.T) {
	deps, store, n, senior := setup(t)
	now := ist(4, 10, 0)
	overdue := &db.Reminder{ID: uuid.New(), UserID: senior.ID, Title: "Blood pressure", ScheduledTime: now.Add(-40 * time.Minute), Status: db.ReminderPending}
	recent := &db.Reminder{ID: uuid.New(), UserID: senior.ID, Title: "Water", ScheduledTime: now.Add(-10 * time.Minute), Status: db.ReminderPending}
	store.reminders = []*db.Reminder{overdue, recent}

	require.NoError(t, ReminderMissed{deps}.Run(context.Background(), now))

	assert.Equal(t, []uuid.UUID{overdue.ID}, store.transitions)
	assert.Equal(t, db.ReminderMissed, overdue.Status)
	assert.Equal(t, db.ReminderPending, recent.Status)

	require.Len(t, n.notices, 1)
	assert.Equal(t, notify.KindReminderMissed, n.notices[0].Kind)
	assert.Equal(t, notify.AudienceAll, n.notices[0].Audience)

	// a later run in the window sees it as missed and does not notify twice
	require.NoError(t, ReminderMissed{deps}.Run(context.Background(), now.Add(5*time.Minute)))
	assert.Len(t, n.notices, 1)
	assert.Len(t, store.transitions, 1)
}

func TestReminderMissed_RetriesFailedNotice(t *testing.T) {
	deps, store, n, senior := setup(t)
	n.failures = 1
	now := ist(4, 12, 0)
	overdue := &db.Reminder{ID: uuid.New(), UserID: senior.ID, Title: "Insulin", ScheduledTime: now.Add(-40 * time.Minute), Status: db.ReminderPending}
	store.reminders = []*db.Reminder{overdue}

	require.NoError(t, ReminderMissed{deps}.Run(context.Background(), now))
	assert.Equal(t, db.ReminderMissed, overdue.Status)
	assert.Empty(t, n.notices)

	require.NoError(t, ReminderMissed{deps}.Run(context.Background(), now.Add(10*time.Minute)))
	require.Len(t, n.notices, 1)
	assert.Equal(t, overdue.ID, n.notices[0].EntityID)
	assert.Equal(t, 2, n.calls)
	assert.Equal(t, []uuid.UUID{overdue.ID}, store.transitions)
}

func TestReminderMissed_SkipsCompleted(t *testing.T) {
	deps, store, n, senior := setup(t)
	now := ist(4, 12, 0)
	store.reminders = []*db.Reminder{
		{ID: uuid.New(), UserID: senior.ID, Title: "Walk", ScheduledTime: now.Add(-45 * time.Minute), Status: db.ReminderCompleted},
	}

	require.NoError(t, ReminderMissed{deps}.Run(context.Background(), now))
	assert.Empty(t, n.notices)
	assert.Empty(t, store.transitions)
}

type countingPruner struct{ calls, removed int }

func (p *countingPruner) Prune(ctx context.Context) (int, error) {
	p.calls++
	return p.removed, nil
}

func TestMarkerPrune(t *testing.T) {
	p := &countingPruner{removed: 3}
	job := MarkerPrune{Pruner: p, Logger: zap.NewNop()}

	assert.Equal(t, "marker_prune", job.Name())
	require.NoError(t, job.Run(context.Background(), time.Now()))
	assert.Equal(t, 1, p.calls)
}
