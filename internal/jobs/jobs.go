package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/checkin"
	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/notify"
)

// Store is what the scans read and write.
type Store interface {
	ListActiveCheckInSchedules(ctx context.Context) ([]*db.CheckInSchedule, error)
	CompletedSlots(ctx context.Context, seniorID uuid.UUID, day time.Time) (map[string]bool, error)
	ListRoutines(ctx context.Context, userID uuid.UUID) ([]*db.Routine, error)
	ListPendingRemindersBetween(ctx context.Context, from, to time.Time) ([]*db.Reminder, error)
	ListOverdueRemindersBetween(ctx context.Context, from, to time.Time) ([]*db.Reminder, error)
	TransitionReminder(ctx context.Context, id uuid.UUID, status string) (*db.Reminder, error)
}

// Users looks up the owner of an entity.
type Users interface {
	User(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// Notifier sends one notice.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notice) (notify.Outcome, error)
}

// Deps are shared by every scan.
type Deps struct {
	Store    Store
	Users    Users
	Notifier Notifier
	// Fallback is the timezone of users without one.
	Fallback *time.Location
	Logger   *zap.Logger
}

// Window offsets. A slot is "upcoming" when it starts 15 to 20 minutes from
// now; a check-in is "missed" once its 90 minute window closed within the
// last 30 minutes.
const (
	upcomingFrom        = 15 * time.Minute
	upcomingTo          = 20 * time.Minute
	reminderFrom        = 10 * time.Minute
	reminderTo          = 15 * time.Minute
	reminderGrace       = 30 * time.Minute
	missedLookback      = 30 * time.Minute
	checkInWindowCloses = checkin.ClosesAfter
)

// tally counts notice outcomes over one run.
type tally map[notify.Outcome]int

func (t tally) fields() []zap.Field {
	return []zap.Field{
		zap.Int("sent", t[notify.Sent]),
		zap.Int("duplicate", t[notify.SkippedDuplicate]),
		zap.Int("no_tokens", t[notify.SkippedNoTokens]),
		zap.Int("failed", t[notify.Failed]),
	}
}

func (d *Deps) send(ctx context.Context, job string, t tally, n notify.Notice) {
	outcome, err := d.Notifier.Notify(ctx, n)
	t[outcome]++
	if err != nil {
		d.Logger.Error("notice failed",
			zap.String("job", job),
			zap.String("entity_id", n.EntityID.String()),
			zap.String("slot", n.Slot),
			zap.Error(err),
		)
	}
}

// owner loads the user and their timezone. ok is false when the scan should
// move on to the next entity.
func (d *Deps) owner(ctx context.Context, job string, id uuid.UUID) (*db.User, *time.Location, bool) {
	u, err := d.Users.User(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			d.Logger.Warn("owner not found, skipping", zap.String("job", job), zap.String("user_id", id.String()))
		} else {
			d.Logger.Error("failed to load owner", zap.String("job", job), zap.String("user_id", id.String()), zap.Error(err))
		}
		return nil, nil, false
	}
	return u, u.Location(d.Fallback), true
}

// occurrences returns slot on yesterday, today and tomorrow of now's day in
// loc, so windows around midnight are found.
func occurrences(slot string, now time.Time, loc *time.Location) []time.Time {
	local := now.In(loc)
	return []time.Time{
		checkin.At(slot, local.AddDate(0, 0, -1)),
		checkin.At(slot, local),
		checkin.At(slot, local.AddDate(0, 0, 1)),
	}
}

// within reports lo <= t <= hi.
func within(t, lo, hi time.Time) bool {
	return !t.Before(lo) && !t.After(hi)
}

// CheckInUpcoming reminds seniors shortly before a check-in opens.
type CheckInUpcoming struct{ *Deps }

func (CheckInUpcoming) Name() string { return notify.KindCheckInUpcoming }

func (j CheckInUpcoming) Run(ctx context.Context, now time.Time) error {
	schedules, err := j.Store.ListActiveCheckInSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	t := tally{}
	for _, s := range schedules {
		senior, loc, ok := j.owner(ctx, j.Name(), s.SeniorID)
		if !ok {
			continue
		}
		for _, slot := range s.CheckInTimes {
			if !checkin.ValidClock(slot) {
				j.Logger.Warn("skipping malformed slot", zap.String("senior_id", s.SeniorID.String()), zap.String("slot", slot))
				continue
			}
			for _, at := range occurrences(slot, now, loc) {
				if !within(at, now.Add(upcomingFrom), now.Add(upcomingTo)) {
					continue
				}
				j.send(ctx, j.Name(), t, notify.Notice{
					Kind:     notify.KindCheckInUpcoming,
					EntityID: senior.ID,
					SeniorID: senior.ID,
					Slot:     slot,
					Date:     at,
					Audience: notify.AudienceSenior,
					Title:    "Check-in coming up",
					Body:     fmt.Sprintf("Your %s check-in opens in a few minutes. Let us know how you are feeling.", slot),
				})
			}
		}
	}

	j.Logger.Info("check-in upcoming scan done", append(t.fields(), zap.Int("schedules", len(schedules)))...)
	return nil
}

// CheckInMissed tells the senior and their carers about a slot whose window
// closed without a completion.
type CheckInMissed struct{ *Deps }

func (CheckInMissed) Name() string { return notify.KindCheckInMissed }

func (j CheckInMissed) Run(ctx context.Context, now time.Time) error {
	schedules, err := j.Store.ListActiveCheckInSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	t := tally{}
	for _, s := range schedules {
		senior, loc, ok := j.owner(ctx, j.Name(), s.SeniorID)
		if !ok {
			continue
		}

		completedByDay := map[string]map[string]bool{}
		for _, slot := range s.CheckInTimes {
			if !checkin.ValidClock(slot) {
				continue
			}
			for _, at := range occurrences(slot, now, loc) {
				if !within(at.Add(checkInWindowCloses), now.Add(-missedLookback), now) {
					continue
				}

				day := at.Format("2006-01-02")
				completed, seen := completedByDay[day]
				if !seen {
					completed, err = j.Store.CompletedSlots(ctx, senior.ID, at)
					if err != nil {
						j.Logger.Error("failed to load completions",
							zap.String("senior_id", senior.ID.String()),
							zap.String("day", day),
							zap.Error(err),
						)
						continue
					}
					completedByDay[day] = completed
				}
				if completed[slot] {
					continue
				}

				j.send(ctx, j.Name(), t, notify.Notice{
					Kind:     notify.KindCheckInMissed,
					EntityID: senior.ID,
					SeniorID: senior.ID,
					Slot:     slot,
					Date:     at,
					Audience: notify.AudienceAll,
					Title:    "Missed check-in",
					Body:     fmt.Sprintf("%s has not completed the %s check-in.", senior.Name, slot),
				})
			}
		}
	}

	j.Logger.Info("check-in missed scan done", append(t.fields(), zap.Int("schedules", len(schedules)))...)
	return nil
}

// RoutineUpcoming reminds seniors of routines due on the day.
type RoutineUpcoming struct{ *Deps }

func (RoutineUpcoming) Name() string { return notify.KindRoutineUpcoming }

func (j RoutineUpcoming) Run(ctx context.Context, now time.Time) error {
	routines, err := j.Store.ListRoutines(ctx, uuid.Nil)
	if err != nil {
		return fmt.Errorf("list routines: %w", err)
	}

	t := tally{}
	for _, r := range routines {
		if !r.IsActive || !checkin.ValidClock(r.ScheduledTime) {
			continue
		}
		senior, loc, ok := j.owner(ctx, j.Name(), r.UserID)
		if !ok {
			continue
		}
		for _, at := range occurrences(r.ScheduledTime, now, loc) {
			if !within(at, now.Add(upcomingFrom), now.Add(upcomingTo)) || !OnDay(r.ScheduledDays, at.Weekday()) {
				continue
			}
			j.send(ctx, j.Name(), t, notify.Notice{
				Kind:     notify.KindRoutineUpcoming,
				EntityID: r.ID,
				SeniorID: senior.ID,
				Slot:     r.ScheduledTime,
				Date:     at,
				Audience: notify.AudienceSenior,
				Title:    r.Title,
				Body:     fmt.Sprintf("%s is scheduled for %s.", r.Title, r.ScheduledTime),
				Data:     map[string]string{"routineId": r.ID.String()},
			})
		}
	}

	j.Logger.Info("routine upcoming scan done", append(t.fields(), zap.Int("routines", len(routines)))...)
	return nil
}

// OnDay reports whether day is one of days. An empty list means every day.
// Names match on their first three letters, case-insensitively.
func OnDay(days []string, day time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	want := strings.ToLower(day.String()[:3])
	for _, d := range days {
		if len(d) >= 3 && strings.ToLower(d[:3]) == want {
			return true
		}
	}
	return false
}

// ReminderUpcoming nudges seniors about pending reminders.
type ReminderUpcoming struct{ *Deps }

func (ReminderUpcoming) Name() string { return notify.KindReminderUpcoming }

func (j ReminderUpcoming) Run(ctx context.Context, now time.Time) error {
	reminders, err := j.Store.ListPendingRemindersBetween(ctx, now.Add(reminderFrom), now.Add(reminderTo))
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}

	t := tally{}
	for _, rm := range reminders {
		senior, loc, ok := j.owner(ctx, j.Name(), rm.UserID)
		if !ok {
			continue
		}
		at := rm.ScheduledTime.In(loc)
		j.send(ctx, j.Name(), t, notify.Notice{
			Kind:     notify.KindReminderUpcoming,
			EntityID: rm.ID,
			SeniorID: senior.ID,
			Slot:     at.Format("15:04"),
			Date:     at,
			Audience: notify.AudienceSenior,
			Title:    rm.Title,
			Body:     fmt.Sprintf("Reminder at %s: %s", at.Format("15:04"), rm.Title),
			Data:     map[string]string{"reminderId": rm.ID.String()},
		})
	}

	j.Logger.Info("reminder upcoming scan done", append(t.fields(), zap.Int("reminders", len(reminders)))...)
	return nil
}

// ReminderMissed marks overdue reminders missed and tells everyone.
type ReminderMissed struct{ *Deps }

func (ReminderMissed) Name() string { return notify.KindReminderMissed }

func (j ReminderMissed) Run(ctx context.Context, now time.Time) error {
	from := now.Add(-missedLookback - reminderGrace)
	to := now.Add(-reminderGrace)
	reminders, err := j.Store.ListOverdueRemindersBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}

	// Reminders already missed are notified again on every run in the
	// window; the marker keeps that to one delivered notice.
	t := tally{}
	for _, rm := range reminders {
		if rm.Status == db.ReminderPending {
			if _, err := j.Store.TransitionReminder(ctx, rm.ID, db.ReminderMissed); err != nil {
				if errors.Is(err, db.ErrInvalidTransition) {
					// completed between the listing and now
					continue
				}
				j.Logger.Error("failed to mark reminder missed", zap.String("reminder_id", rm.ID.String()), zap.Error(err))
				continue
			}
		}

		senior, loc, ok := j.owner(ctx, j.Name(), rm.UserID)
		if !ok {
			continue
		}
		at := rm.ScheduledTime.In(loc)
		j.send(ctx, j.Name(), t, notify.Notice{
			Kind:     notify.KindReminderMissed,
			EntityID: rm.ID,
			SeniorID: senior.ID,
			Slot:     at.Format("15:04"),
			Date:     at,
			Audience: notify.AudienceAll,
			Title:    "Missed reminder",
			Body:     fmt.Sprintf("%s missed \"%s\" at %s.", senior.Name, rm.Title, at.Format("15:04")),
			Data:     map[string]string{"reminderId": rm.ID.String()},
		})
	}

	j.Logger.Info("reminder missed scan done", append(t.fields(), zap.Int("reminders", len(reminders)))...)
	return nil
}

// Pruner deletes stale markers.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// MarkerPrune keeps the marker table small.
type MarkerPrune struct {
	Pruner Pruner
	Logger *zap.Logger
}

func (MarkerPrune) Name() string { return "marker_prune" }

func (j MarkerPrune) Run(ctx context.Context, now time.Time) error {
	n, err := j.Pruner.Prune(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.Logger.Info("pruned notification markers", zap.Int("removed", n))
	}
	return nil
}
