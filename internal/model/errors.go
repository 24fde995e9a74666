package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// InvalidScheduleError is returned for malformed recurrence input: reversed
// date range, zero occurrences, or an expansion exceeding the configured cap.
type InvalidScheduleError struct {
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return "invalid schedule: " + e.Reason
}

// ConflictError is returned when a space/time combination is unavailable. It
// names the offending occurrence and space so callers can render an
// actionable message.
type ConflictError struct {
	OccurrenceDate time.Time
	SpaceID        int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("space %d is not available on %s",
		e.SpaceID, e.OccurrenceDate.Format("2006-01-02"))
}

// AlreadyRegisteredError is returned when the user already holds an active
// registration for the occurrence.
type AlreadyRegisteredError struct {
	EventID int64
	UserID  int64
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("user %d is already registered for event %d", e.UserID, e.EventID)
}

// ScheduleConflictError is returned when another active registration of the
// user overlaps the requested occurrence.
type ScheduleConflictError struct {
	ConflictingEventID   int64
	ConflictingEventName string
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("schedule conflict with %q", e.ConflictingEventName)
}

// CapacityExceededError is returned when the occurrence has no free slots
// left.
type CapacityExceededError struct {
	EventID  int64
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("event %d is fully booked (capacity %d)", e.EventID, e.Capacity)
}

// InvalidStateTransitionError is returned for an illegal registration
// lifecycle move, including a second cancel of an already cancelled
// registration.
type InvalidStateTransitionError struct {
	From RegistrationStatus
	To   RegistrationStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("illegal registration transition %s -> %s", e.From, e.To)
}
