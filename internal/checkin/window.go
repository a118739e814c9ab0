// Package checkin derives check-in window status from a senior's schedule and
// the slots already completed today.
package checkin

import (
	"time"
)

// Status of the slot a Window refers to.
type Status string

const (
	StatusNone      Status = ""
	StatusAvailable Status = "available"
	StatusMissed    Status = "missed"
)

const (
	// OpensBefore is how early a slot accepts a check-in.
	OpensBefore = 15 * time.Minute
	// ClosesAfter is how long after the scheduled time a slot stays open.
	ClosesAfter = 90 * time.Minute
)

// Window is the derived check-in state. Empty strings mean "no slot".
type Window struct {
	CurrentSlot string `json:"currentSlot,omitempty"`
	NextSlot    string `json:"nextSlot,omitempty"`
	Status      Status `json:"status,omitempty"`
}

// Done reports whether nothing is left to do for the day.
func (w Window) Done() bool {
	return w == Window{}
}

// Evaluate computes the Window for now.
//
// times must already be in chronological order; they are scanned as given.
// completed holds the slot strings that have a completion for the current day.
// The first slot whose window contains now wins and stops the scan. Closed
// slots seen before that mark the window missed, the last one seen wins.
func Evaluate(times []string, completed map[string]bool, now time.Time) Window {
	nowMin := now.Hour()*60 + now.Minute()
	opens := int(OpensBefore / time.Minute)
	closes := int(ClosesAfter / time.Minute)

	var w Window

	for _, slot := range times {
		if completed[slot] {
			continue
		}
		scheduled := ParseClock(slot)
		start, end := scheduled-opens, scheduled+closes

		switch {
		case nowMin >= start && nowMin < end:
			w.CurrentSlot = slot
			w.Status = StatusAvailable
			return w
		case nowMin >= end:
			w.CurrentSlot = slot
			w.Status = StatusMissed
		case w.NextSlot == "":
			w.NextSlot = slot
		}
	}

	return w
}

// ParseClock converts "HH:MM" into minutes since midnight. Anything that is
// not a two-digit 24-hour time yields 0 rather than an error.
func ParseClock(s string) int {
	if len(s) != 5 || s[2] != ':' {
		return 0
	}
	h, ok := twoDigits(s[0], s[1])
	if !ok || h > 23 {
		return 0
	}
	m, ok := twoDigits(s[3], s[4])
	if !ok || m > 59 {
		return 0
	}
	return h*60 + m
}

// ValidClock reports whether s is a well-formed "HH:MM" string.
func ValidClock(s string) bool {
	return s == "00:00" || ParseClock(s) != 0
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// At returns the instant of slot on the calendar day of day, in day's location.
func At(slot string, day time.Time) time.Time {
	min := ParseClock(slot)
	y, m, d := day.Date()
	return time.Date(y, m, d, min/60, min%60, 0, 0, day.Location())
}
