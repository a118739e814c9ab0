package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/checkin"
	"github.com/lalithlochan/carecircle/internal/db"
)

// Repository is the storage the handlers need.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)

	GetCheckInSchedule(ctx context.Context, seniorID uuid.UUID) (*db.CheckInSchedule, error)
	UpsertCheckInSchedule(ctx context.Context, s *db.CheckInSchedule) error
	CreateCheckInCompletion(ctx context.Context, l *db.Log) error

	CreateRoutine(ctx context.Context, rt *db.Routine) error
	ListRoutines(ctx context.Context, userID uuid.UUID) ([]*db.Routine, error)

	CreateReminder(ctx context.Context, rm *db.Reminder) error
	ListRemindersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.Reminder, error)
	TransitionReminder(ctx context.Context, id uuid.UUID, status string) (*db.Reminder, error)

	CreateAlert(ctx context.Context, a *db.Alert) error
	ListAlertsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.Alert, error)

	CreateTask(ctx context.Context, t *db.CarerTask) error
	ListTasksBySenior(ctx context.Context, seniorID uuid.UUID, limit, offset int) ([]*db.CarerTask, error)
	CompleteTask(ctx context.Context, id uuid.UUID) (*db.CarerTask, error)
}

// StatusTracker serves live check-in windows.
type StatusTracker interface {
	Current(ctx context.Context, seniorID uuid.UUID) (checkin.Window, error)
	Subscribe(ctx context.Context, seniorID uuid.UUID) (<-chan checkin.Window, error)
	Refresh(seniorID uuid.UUID)
}

// AlertForwarder fans a new alert out to the carers.
type AlertForwarder interface {
	Forward(ctx context.Context, alert *db.Alert) bool
}

// JobRunner triggers a scan on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (bool, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string       `json:"type"`
	Title  string       `json:"title"`
	Status int          `json:"status"`
	Detail string       `json:"detail,omitempty"`
	Fields []FieldError `json:"fields,omitempty"`
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	repo      Repository
	tracker   StatusTracker
	forwarder AlertForwarder // nil disables forwarding
	jobs      JobRunner      // nil hides the admin routes
	validate  *validator.Validate
	fallback  *time.Location
	now       func() time.Time
}

// Options carries the optional collaborators.
type Options struct {
	Forwarder AlertForwarder
	Jobs      JobRunner
	// Fallback is the timezone of users without one.
	Fallback *time.Location
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, tracker StatusTracker, opts Options) *Handler {
	if opts.Fallback == nil {
		opts.Fallback = time.UTC
	}
	return &Handler{
		logger:    logger,
		repo:      repo,
		tracker:   tracker,
		forwarder: opts.Forwarder,
		jobs:      opts.Jobs,
		validate:  newValidator(),
		fallback:  opts.Fallback,
		now:       time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	// "HH:MM", 24 hour
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return checkin.ValidClock(fl.Field().String())
	})
	return v
}

// requestTimeout bounds every route except the status stream.
const requestTimeout = 30 * time.Second

// Routes mounts the /v1 endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/seniors/{id}/checkin-status/stream", h.StreamCheckInStatus)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/seniors/{id}/checkin-schedule", h.GetCheckInSchedule)
		r.Put("/seniors/{id}/checkin-schedule", h.PutCheckInSchedule)
		r.Get("/seniors/{id}/checkin-status", h.GetCheckInStatus)
		r.Post("/seniors/{id}/checkins", h.SubmitCheckIn)
		r.Get("/seniors/{id}/tasks", h.ListTasks)
		r.Post("/seniors/{id}/tasks", h.CreateTask)

		r.Get("/users/{id}/routines", h.ListRoutines)
		r.Post("/users/{id}/routines", h.CreateRoutine)
		r.Get("/users/{id}/reminders", h.ListReminders)
		r.Post("/users/{id}/reminders", h.CreateReminder)
		r.Get("/users/{id}/alerts", h.ListAlerts)
		r.Post("/users/{id}/alerts", h.CreateAlert)

		r.Post("/reminders/{id}/complete", h.CompleteReminder)
		r.Post("/tasks/{id}/complete", h.CompleteTask)

		if h.jobs != nil {
			r.Post("/admin/jobs/{name}/run", h.RunJob)
		}
	})
}

// RunJob handles POST /v1/admin/jobs/{name}/run
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ran, err := h.jobs.RunNow(r.Context(), name)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown job", err.Error())
		return
	}
	if !ran {
		h.writeError(w, http.StatusConflict, "job_running", "Job already running", "")
		return
	}

	h.logger.Info("job run on demand", zap.String("job", name))
	h.writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}

// pathID parses the {id} URL parameter.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request", err.Error())
			return false
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Type:   "validation_failed",
			Title:  "Request validation failed",
			Status: http.StatusBadRequest,
			Fields: fields,
		})
		return false
	}
	return true
}

// page reads limit (default 20, max 100) and offset.
func page(r *http.Request) (limit, offset int) {
	limit = 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// storeError maps repository errors onto responses.
func (h *Handler) storeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", what+" not found", "")
	case errors.Is(err, db.ErrAlreadyCompleted), errors.Is(err, db.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "conflict", err.Error(), "")
	default:
		h.logger.Error("store operation failed", zap.String("entity", what), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Database operation failed", "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeList(w http.ResponseWriter, data any, count, limit, offset int) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   data,
		"limit":  limit,
		"offset": offset,
		"count":  count,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
