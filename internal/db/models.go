package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyCompleted  = errors.New("check-in slot already completed today")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Role constants
const (
	RoleSenior      = "senior"
	RoleFamily      = "family"
	RoleCareManager = "care_manager"
)

// User is a senior, a family member or a care manager.
type User struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email,omitempty"`
	Role          string      `json:"role"`
	CareManagerID *uuid.UUID  `json:"careManagerId,omitempty"`
	LinkedFamily  []uuid.UUID `json:"linkedFamily"`
	DeviceTokens  []string    `json:"-"`
	Timezone      string      `json:"timezone,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Location returns the user's timezone, or fallback when unset or unknown.
func (u *User) Location(fallback *time.Location) *time.Location {
	if u.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// CheckInSchedule holds a senior's daily check-in slots ("HH:MM").
type CheckInSchedule struct {
	ID           uuid.UUID `json:"id"`
	SeniorID     uuid.UUID `json:"seniorId"`
	CheckInTimes []string  `json:"checkInTimes"`
	MoodOptions  []string  `json:"moodOptions,omitempty"`
	IsActive     bool      `json:"isActive"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Log types
const (
	LogTypeCheckIn = "check_in"
	LogTypeRoutine = "routine"
)

// Log is an activity record. For check-ins it is the completion of one slot
// on one calendar day, and is never modified after creation.
type Log struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	LogType       string    `json:"logType"`
	ScheduledTime string    `json:"scheduledTime,omitempty"`
	LogDate       time.Time `json:"logDate"`
	Mood          string    `json:"mood,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Routine is a recurring daily activity ("HH:MM" on the given weekdays).
type Routine struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	Title         string    `json:"title"`
	ScheduledTime string    `json:"scheduledTime"`
	ScheduledDays []string  `json:"scheduledDays"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Reminder status constants. completed and missed are terminal.
const (
	ReminderPending   = "pending"
	ReminderCompleted = "completed"
	ReminderMissed    = "missed"
)

// Reminder is a one-off reminder at an absolute time.
type Reminder struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"userId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Status        string     `json:"status"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Alert type constants
const (
	AlertSOS    = "sos"
	AlertFall   = "fall"
	AlertHealth = "health"
)

// Alert is raised by or on behalf of a senior and forwarded to their carers.
type Alert struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	Type        string     `json:"type"`
	Message     string     `json:"message,omitempty"`
	ForwardedAt *time.Time `json:"forwardedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Task status constants
const (
	TaskOpen      = "open"
	TaskCompleted = "completed"
)

// CarerTask is a service request assigned to a senior's care manager.
type CarerTask struct {
	ID            uuid.UUID  `json:"id"`
	SeniorID      uuid.UUID  `json:"seniorId"`
	CareManagerID *uuid.UUID `json:"careManagerId,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status"`
	DueAt         *time.Time `json:"dueAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}
