package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/checkin"
	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/metrics"
)

// ScheduleRequest is the body of PUT /checkin-schedule.
type ScheduleRequest struct {
	CheckInTimes []string `json:"checkInTimes" validate:"required,min=1,max=12,dive,clock"`
	MoodOptions  []string `json:"moodOptions" validate:"omitempty,max=10,dive,min=1,max=32"`
	IsActive     *bool    `json:"isActive"`
}

// CheckInRequest is the body of POST /checkins.
type CheckInRequest struct {
	ScheduledTime string `json:"scheduledTime" validate:"required,clock"`
	Mood          string `json:"mood" validate:"omitempty,max=32"`
}

// CheckInResponse returns the completion and the refreshed window.
type CheckInResponse struct {
	Log    *db.Log        `json:"log"`
	Window checkin.Window `json:"window"`
}

const heartbeatInterval = 25 * time.Second

// GetCheckInSchedule handles GET /v1/seniors/{id}/checkin-schedule
func (h *Handler) GetCheckInSchedule(w http.ResponseWriter, r *http.Request) {
	seniorID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	schedule, err := h.repo.GetCheckInSchedule(r.Context(), seniorID)
	if err != nil {
		h.storeError(w, err, "Check-in schedule")
		return
	}

	h.writeJSON(w, http.StatusOK, schedule)
}

// PutCheckInSchedule handles PUT /v1/seniors/{id}/checkin-schedule
func (h *Handler) PutCheckInSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seniorID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	senior, err := h.repo.GetUser(ctx, seniorID)
	if err != nil {
		h.storeError(w, err, "Senior")
		return
	}
	if senior.Role != db.RoleSenior {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Not a senior", "check-in schedules belong to seniors")
		return
	}

	// stored in chronological order, since the window scan does not sort
	times := slices.Clone(req.CheckInTimes)
	sort.Slice(times, func(i, j int) bool {
		return checkin.ParseClock(times[i]) < checkin.ParseClock(times[j])
	})
	times = slices.Compact(times)

	schedule := &db.CheckInSchedule{
		SeniorID:     seniorID,
		CheckInTimes: times,
		MoodOptions:  req.MoodOptions,
		IsActive:     req.IsActive == nil || *req.IsActive,
	}
	if err := h.repo.UpsertCheckInSchedule(ctx, schedule); err != nil {
		h.storeError(w, err, "Check-in schedule")
		return
	}

	h.tracker.Refresh(seniorID)

	h.logger.Info("check-in schedule updated",
		zap.String("senior_id", seniorID.String()),
		zap.Strings("times", times),
		zap.Bool("active", schedule.IsActive),
	)

	h.writeJSON(w, http.StatusOK, schedule)
}

// GetCheckInStatus handles GET /v1/seniors/{id}/checkin-status
func (h *Handler) GetCheckInStatus(w http.ResponseWriter, r *http.Request) {
	seniorID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	window, err := h.tracker.Current(r.Context(), seniorID)
	if err != nil {
		h.storeError(w, err, "Senior")
		return
	}

	h.writeJSON(w, http.StatusOK, window)
}

// StreamCheckInStatus handles GET /v1/seniors/{id}/checkin-status/stream as
// server-sent events. One "status" event is written per window evaluation.
func (h *Handler) StreamCheckInStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seniorID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming unsupported", "")
		return
	}

	updates, err := h.tracker.Subscribe(ctx, seniorID)
	if err != nil {
		h.storeError(w, err, "Senior")
		return
	}

	metrics.AddStatusSubscribers(1)
	defer metrics.AddStatusSubscribers(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case window, open := <-updates:
			if !open {
				return
			}
			data, err := json.Marshal(window)
			if err != nil {
				h.logger.Error("failed to encode window", zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// SubmitCheckIn handles POST /v1/seniors/{id}/checkins
func (h *Handler) SubmitCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seniorID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req CheckInRequest
	if !h.decode(w, r, &req) {
		return
	}

	senior, err := h.repo.GetUser(ctx, seniorID)
	if err != nil {
		h.storeError(w, err, "Senior")
		return
	}

	schedule, err := h.repo.GetCheckInSchedule(ctx, seniorID)
	if err != nil {
		h.storeError(w, err, "Check-in schedule")
		return
	}
	if !schedule.IsActive || !slices.Contains(schedule.CheckInTimes, req.ScheduledTime) {
		h.writeError(w, http.StatusUnprocessableEntity, "unknown_slot", "Slot is not in the schedule",
			fmt.Sprintf("%s is not an active check-in time", req.ScheduledTime))
		return
	}
	if req.Mood != "" && len(schedule.MoodOptions) > 0 && !slices.Contains(schedule.MoodOptions, req.Mood) {
		h.writeError(w, http.StatusUnprocessableEntity, "unknown_mood", "Mood is not one of the options", "")
		return
	}

	now := h.now().In(senior.Location(h.fallback))
	slot := checkin.Evaluate([]string{req.ScheduledTime}, nil, now)
	if slot.Status != checkin.StatusAvailable {
		h.writeError(w, http.StatusUnprocessableEntity, "slot_not_open", "Slot is not open",
			fmt.Sprintf("%s accepts check-ins from %s before to %s after the scheduled time",
				req.ScheduledTime, checkin.OpensBefore, checkin.ClosesAfter))
		return
	}

	completion := &db.Log{
		UserID:        seniorID,
		ScheduledTime: req.ScheduledTime,
		LogDate:       now,
		Mood:          req.Mood,
	}
	if err := h.repo.CreateCheckInCompletion(ctx, completion); err != nil {
		if errors.Is(err, db.ErrAlreadyCompleted) {
			h.writeError(w, http.StatusConflict, "already_completed", "Check-in already completed today", "")
			return
		}
		h.storeError(w, err, "Check-in")
		return
	}

	metrics.RecordCheckInCompleted()
	h.tracker.Refresh(seniorID)

	window, err := h.tracker.Current(ctx, seniorID)
	if err != nil {
		// the completion is stored; the client can poll the status
		h.logger.Warn("failed to evaluate window after check-in",
			zap.String("senior_id", seniorID.String()),
			zap.Error(err),
		)
	}

	h.writeJSON(w, http.StatusCreated, CheckInResponse{Log: completion, Window: window})
}
