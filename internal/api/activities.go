package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/metrics"
)

// RoutineRequest is the body of POST /routines.
type RoutineRequest struct {
	Title         string   `json:"title" validate:"required,max=120"`
	ScheduledTime string   `json:"scheduledTime" validate:"required,clock"`
	ScheduledDays []string `json:"scheduledDays" validate:"omitempty,max=7,dive,min=3"`
	IsActive      *bool    `json:"isActive"`
}

// ReminderRequest is the body of POST /reminders.
type ReminderRequest struct {
	Title         string    `json:"title" validate:"required,max=120"`
	Description   string    `json:"description" validate:"max=1000"`
	ScheduledTime time.Time `json:"scheduledTime" validate:"required"`
}

// AlertRequest is the body of POST /alerts.
type AlertRequest struct {
	Type    string `json:"type" validate:"required,oneof=sos fall health"`
	Message string `json:"message" validate:"max=1000"`
}

// TaskRequest is the body of POST /tasks.
type TaskRequest struct {
	Title       string     `json:"title" validate:"required,max=120"`
	Description string     `json:"description" validate:"max=2000"`
	DueAt       *time.Time `json:"dueAt"`
}

// ListRoutines handles GET /v1/users/{id}/routines
func (h *Handler) ListRoutines(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	routines, err := h.repo.ListRoutines(r.Context(), userID)
	if err != nil {
		h.storeError(w, err, "Routines")
		return
	}

	h.writeList(w, routines, len(routines), len(routines), 0)
}

// CreateRoutine handles POST /v1/users/{id}/routines
func (h *Handler) CreateRoutine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req RoutineRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.repo.GetUser(r.Context(), userID); err != nil {
		h.storeError(w, err, "User")
		return
	}

	routine := &db.Routine{
		UserID:        userID,
		Title:         req.Title,
		ScheduledTime: req.ScheduledTime,
		ScheduledDays: req.ScheduledDays,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if err := h.repo.CreateRoutine(r.Context(), routine); err != nil {
		h.storeError(w, err, "Routine")
		return
	}

	h.logger.Info("routine created",
		zap.String("id", routine.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("time", routine.ScheduledTime),
	)

	h.writeJSON(w, http.StatusCreated, routine)
}

// ListReminders handles GET /v1/users/{id}/reminders
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)

	reminders, err := h.repo.ListRemindersByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.storeError(w, err, "Reminders")
		return
	}

	h.writeList(w, reminders, len(reminders), limit, offset)
}

// CreateReminder handles POST /v1/users/{id}/reminders
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req ReminderRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.repo.GetUser(r.Context(), userID); err != nil {
		h.storeError(w, err, "User")
		return
	}

	reminder := &db.Reminder{
		UserID:        userID,
		Title:         req.Title,
		Description:   req.Description,
		ScheduledTime: req.ScheduledTime,
	}
	if err := h.repo.CreateReminder(r.Context(), reminder); err != nil {
		h.storeError(w, err, "Reminder")
		return
	}

	h.logger.Info("reminder created",
		zap.String("id", reminder.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Time("scheduled_time", reminder.ScheduledTime),
	)

	h.writeJSON(w, http.StatusCreated, reminder)
}

// CompleteReminder handles POST /v1/reminders/{id}/complete
func (h *Handler) CompleteReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	reminder, err := h.repo.TransitionReminder(r.Context(), id, db.ReminderCompleted)
	if err != nil {
		h.storeError(w, err, "Reminder")
		return
	}

	h.writeJSON(w, http.StatusOK, reminder)
}

// ListAlerts handles GET /v1/users/{id}/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)

	alerts, err := h.repo.ListAlertsByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.storeError(w, err, "Alerts")
		return
	}

	h.writeList(w, alerts, len(alerts), limit, offset)
}

// CreateAlert handles POST /v1/users/{id}/alerts. The alert is stored first;
// forwarding failures never fail the request.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req AlertRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.repo.GetUser(ctx, userID); err != nil {
		h.storeError(w, err, "User")
		return
	}

	alert := &db.Alert{
		UserID:  userID,
		Type:    req.Type,
		Message: req.Message,
	}
	if err := h.repo.CreateAlert(ctx, alert); err != nil {
		h.storeError(w, err, "Alert")
		return
	}
	metrics.RecordAlert(alert.Type)

	forwarded := false
	if h.forwarder != nil {
		forwarded = h.forwarder.Forward(ctx, alert)
	}

	h.logger.Info("alert raised",
		zap.String("id", alert.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("type", alert.Type),
		zap.Bool("forwarded", forwarded),
	)

	h.writeJSON(w, http.StatusCreated, alert)
}

// ListTasks handles GET /v1/seniors/{id}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	seniorID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)

	tasks, err := h.repo.ListTasksBySenior(r.Context(), seniorID, limit, offset)
	if err != nil {
		h.storeError(w, err, "Tasks")
		return
	}

	h.writeList(w, tasks, len(tasks), limit, offset)
}

// CreateTask handles POST /v1/seniors/{id}/tasks. The task is assigned to the
// senior's care manager, if any.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seniorID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req TaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	senior, err := h.repo.GetUser(ctx, seniorID)
	if err != nil {
		h.storeError(w, err, "Senior")
		return
	}

	var manager *uuid.UUID
	if senior.CareManagerID != nil {
		id := *senior.CareManagerID
		manager = &id
	}

	task := &db.CarerTask{
		SeniorID:      seniorID,
		CareManagerID: manager,
		Title:         req.Title,
		Description:   req.Description,
		DueAt:         req.DueAt,
	}
	if err := h.repo.CreateTask(ctx, task); err != nil {
		h.storeError(w, err, "Task")
		return
	}

	h.logger.Info("carer task created",
		zap.String("id", task.ID.String()),
		zap.String("senior_id", seniorID.String()),
	)

	h.writeJSON(w, http.StatusCreated, task)
}

// CompleteTask handles POST /v1/tasks/{id}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	task, err := h.repo.CompleteTask(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "Task")
		return
	}

	h.writeJSON(w, http.StatusOK, task)
}
