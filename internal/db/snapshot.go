package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/carecircle/internal/checkin"
)

// CheckInSource feeds the check-in tracker from the repository.
type CheckInSource struct {
	repo     *Repository
	fallback *time.Location
}

// NewCheckInSource creates a source that resolves each senior's local day,
// using fallback for seniors without a timezone.
func NewCheckInSource(repo *Repository, fallback *time.Location) *CheckInSource {
	return &CheckInSource{repo: repo, fallback: fallback}
}

// CheckInSnapshot loads the schedule and the completions of the senior's
// current local day. A senior without a schedule (or with an inactive one)
// has no slots.
func (s *CheckInSource) CheckInSnapshot(ctx context.Context, seniorID uuid.UUID, now time.Time) (*checkin.Snapshot, error) {
	user, err := s.repo.GetUser(ctx, seniorID)
	if err != nil {
		return nil, err
	}
	loc := user.Location(s.fallback)

	snap := &checkin.Snapshot{Location: loc, Completed: map[string]bool{}}

	schedule, err := s.repo.GetCheckInSchedule(ctx, seniorID)
	if errors.Is(err, ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}
	if !schedule.IsActive {
		return snap, nil
	}
	snap.Times = schedule.CheckInTimes

	completed, err := s.repo.CompletedSlots(ctx, seniorID, now.In(loc))
	if err != nil {
		return nil, err
	}
	snap.Completed = completed

	return snap, nil
}
