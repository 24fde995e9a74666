// Package model defines the core domain types for the scheduling engine:
// events and their schedules, derived occurrences, spaces, reservations and
// registrations.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RecurrenceType is the period with which a recurring schedule repeats.
type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "DAILY"
	RecurrenceWeekly  RecurrenceType = "WEEKLY"
	RecurrenceMonthly RecurrenceType = "MONTHLY"
)

// Valid reports whether t is one of the supported recurrence types.
func (t RecurrenceType) Valid() bool {
	switch t {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// Schedule describes when an event takes place. Exactly one of Single or
// Recurring is populated.
type Schedule struct {
	Single    *SingleSchedule
	Recurring *RecurringSchedule
}

// SingleSchedule is a one-off occurrence on a single day. StartTime and
// EndTime are offsets from midnight of Date.
type SingleSchedule struct {
	Date      time.Time
	StartTime time.Duration
	EndTime   time.Duration
}

// RecurringSchedule describes a bounded series of occurrences. Every
// occurrence uses the same StartTime/EndTime offsets on its own date.
type RecurringSchedule struct {
	RecurrenceID uuid.UUID
	Type         RecurrenceType
	StartDate    time.Time
	EndDate      time.Time
	StartTime    time.Duration
	EndTime      time.Duration
}

/// Validate checks the structural invariants shared by both schedule variants:
// exactly one variant set, endDate not before startDate, endTime after
// startTime within the day.
func (s Schedule) Validate() error {
	switch {
	case s.Single == nil && s.Recurring == nil:
		return &InvalidScheduleError{Reason: "schedule has no variant"}
	case s.Single != nil && s.Recurring != nil:
		return &InvalidScheduleError{Reason: "schedule has both single and recurring variants"}
	case s.Single != nil:
		if s.Single.EndTime <= s.Single.StartTime {
			return &InvalidScheduleError{Reason: "end time must be after start time"}
		}
	default:
		r := s.Recurring
		if !r.Type.Valid() {
			return &InvalidScheduleError{Reason: "unknown recurrence type " + string(r.Type)}
		}
		if r.EndDate.Before(r.StartDate) {
			return &InvalidScheduleError{Reason: "end date is before start date"}
		}
		if r.EndTime <= r.StartTime {
			return &InvalidScheduleError{Reason: "end time must be after start time"}
		}
	}
	return nil
}

// Event is one concrete occurrence of a scheduled event. Occurrences of a
// recurring series are materialized as individual rows sharing RecurrenceID,
// so reservation and registration foreign keys stay stable even when the
// recurrence rule is edited later.
type Event struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity"` // 0 means unlimited
	SpaceID     *int64 `json:"space_id,omitempty"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	ModalityID  *int64 `json:"modality_id,omitempty"`

	RecurrenceID   *uuid.UUID      `json:"recurrence_id,omitempty"`
	RecurrenceType *RecurrenceType `json:"recurrence_type,omitempty"`
	SeriesStart    *time.Time      `json:"series_start,omitempty"`
	SeriesEnd      *time.Time      `json:"series_end,omitempty"`

	Date     time.Time `json:"date"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`

	// OverriddenFields lists fields edited on this occurrence alone; a
	// series-wide edit leaves them untouched.
	OverriddenFields []string `json:"overridden_fields,omitempty"`

	RegisteredCount int       `json:"registered_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Window returns the occurrence's half-open time interval.
func (e *Event) Window() TimeRange {
	return TimeRange{Start: e.StartsAt, End: e.EndsAt}
}

// Unlimited reports whether the event has no capacity bound.
func (e *Event) Unlimited() bool { return e.Capacity == 0 }

// Remaining returns the number of free slots, or -1 when unlimited.
func (e *Event) Remaining() int {
	if e.Unlimited() {
		return -1
	}
	return e.Capacity - e.RegisteredCount
}

// Occurrence is a derived value produced by the recurrence expander before
// the corresponding event rows exist.
type Occurrence struct {
	Date     time.Time `json:"date"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Window returns the occurrence's half-open time interval.
func (o Occurrence) Window() TimeRange {
	return TimeRange{Start: o.StartsAt, End: o.EndsAt}
}

// Space is a bookable room or venue. Immutable during availability
// computation.
type Space struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Capacity  int       `json:"capacity"`
	CampusID  int64     `json:"campus_id"`
	Resources []string  `json:"resources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Reservation binds a space to one occurrence's time interval. For a given
// space no two reservations may overlap.
type Reservation struct {
	ID       int64     `json:"id"`
	SpaceID  int64     `json:"space_id"`
	EventID  int64     `json:"event_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Window returns the reserved half-open interval.
func (r Reservation) Window() TimeRange {
	return TimeRange{Start: r.StartsAt, End: r.EndsAt}
}

// Registration is a user's registration for one occurrence. Rows are never
// deleted, only transitioned to a terminal status.
type Registration struct {
	ID           int64              `json:"id"`
	EventID      int64              `json:"event_id"`
	UserID       int64              `json:"user_id"`
	Status       RegistrationStatus `json:"status"`
	RegisteredAt time.Time          `json:"registered_at"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
	AttendedAt   *time.Time         `json:"attended_at,omitempty"`
}

// UserCommitment is another active registration held by a user, carrying
// just enough of the event to detect and report schedule conflicts.
type UserCommitment struct {
	RegistrationID int64
	EventID        int64
	EventName      string
	Window         TimeRange
}

// AvailabilitySnapshot is the read-only answer to "can this user register
// for this occurrence right now?".
type AvailabilitySnapshot struct {
	HasCapacity          bool   `json:"has_capacity"`
	IsAlreadyRegistered  bool   `json:"is_already_registered"`
	HasScheduleConflict  bool   `json:"has_schedule_conflict"`
	ConflictingEventName string `json:"conflicting_event_name,omitempty"`
	CanRegister          bool   `json:"can_register"`
}

// UpdateScope selects whether an edit targets one occurrence or the whole
// series sharing its recurrence id.
type UpdateScope string

const (
	ScopeSingle UpdateScope = "SINGLE"
	ScopeSeries UpdateScope = "SERIES"
)

// UpdateResult reports a committed edit.
type UpdateResult struct {
	Updated int `json:"updated"`
}
