package model

import "sort"

// AvailabilityQuery selects which time windows a space must be free for.
// Single events and per-occurrence scheduling use SingleWindowAvailability;
// recurring events wanting one room for the whole series use
// AllWindowsAvailability, an all-or-nothing join across occurrences.
type AvailabilityQuery interface {
	Windows() []TimeRange
}

// SingleWindowAvailability requires a space to be free for one window.
type SingleWindowAvailability struct {
	Window TimeRange
}

// Windows implements AvailabilityQuery.
func (q SingleWindowAvailability) Windows() []TimeRange {
	if q.Window.IsZero() {
		return nil
	}
	return []TimeRange{q.Window}
}

// AllWindowsAvailability requires a space to be free for every window in the
// set. An empty set imposes no time constraint.
type AllWindowsAvailability struct {
	Set []TimeRange
}

// Windows implements AvailabilityQuery.
func (q AllWindowsAvailability) Windows() []TimeRange { return q.Set }

// SpaceFilter narrows the candidate spaces before any time check.
type SpaceFilter struct {
	CampusID    *int64
	MinCapacity *int
}

// Matches reports whether the space satisfies the filter.
func (f SpaceFilter) Matches(s Space) bool {
	if f.CampusID != nil && s.CampusID != *f.CampusID {
		return false
	}
	if f.MinCapacity != nil && s.Capacity < *f.MinCapacity {
		return false
	}
	return true
}

// FreeFor reports whether none of the space's reservations overlap any of
// the query's windows. Reservations must belong to the space under test;
// reservations held by excludeEvent are ignored, which lets an edit move an
// event within its own booked slot.
func FreeFor(reservations []Reservation, q AvailabilityQuery, excludeEvents map[int64]bool) bool {
	for _, w := range q.Windows() {
		for _, res := range reservations {
			if excludeEvents[res.EventID] {
				continue
			}
			if res.Window().Overlaps(w) {
				return false
			}
		}
	}
	return true
}

// FilterAvailableSpaces returns the spaces matching the filter that are free
// for the query, capacity ascending with id as the tiebreak so results are
// deterministic.
func FilterAvailableSpaces(spaces []Space, reservationsBySpace map[int64][]Reservation, f SpaceFilter, q AvailabilityQuery, excludeEvents map[int64]bool) []Space {
	out := make([]Space, 0, len(spaces))
	for _, s := range spaces {
		if !f.Matches(s) {
			continue
		}
		if !FreeFor(reservationsBySpace[s.ID], q, excludeEvents) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Capacity != out[j].Capacity {
			return out[i].Capacity < out[j].Capacity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RegistrationFacts captures everything needed to decide a registration
// attempt for one (user, occurrence) pair. The same decision logic backs the
// read-only availability snapshot and the atomic check inside the register
// transaction, so the two can never disagree.
type RegistrationFacts struct {
	Event       *Event
	ActiveCount int
	// AlreadyRegistered is set when the user holds an active registration
	// for this occurrence.
	AlreadyRegistered bool
	// Commitments are the user's other active registrations.
	Commitments []UserCommitment
}

// conflict returns the first commitment overlapping the occurrence window.
func (f RegistrationFacts) conflict() *UserCommitment {
	w := f.Event.Window()
	for i := range f.Commitments {
		if f.Commitments[i].EventID == f.Event.ID {
			continue
		}
		if f.Commitments[i].Window.Overlaps(w) {
			return &f.Commitments[i]
		}
	}
	return nil
}

// Snapshot projects the facts into the read-only availability answer.
func (f RegistrationFacts) Snapshot() AvailabilitySnapshot {
	snap := AvailabilitySnapshot{
		HasCapacity:         f.Event.Unlimited() || f.ActiveCount < f.Event.Capacity,
		IsAlreadyRegistered: f.AlreadyRegistered,
	}
	if c := f.conflict(); c != nil {
		snap.HasScheduleConflict = true
		snap.ConflictingEventName = c.EventName
	}
	snap.CanRegister = snap.HasCapacity && !snap.IsAlreadyRegistered && !snap.HasScheduleConflict
	return snap
}

// Check returns nil when registration may proceed, otherwise the first
// failing condition in the deterministic order: already-registered, then
// schedule conflict, then capacity.
func (f RegistrationFacts) Check(userID int64) error {
	if f.AlreadyRegistered {
		return &AlreadyRegisteredError{EventID: f.Event.ID, UserID: userID}
	}
	if c := f.conflict(); c != nil {
		return &ScheduleConflictError{
			ConflictingEventID:   c.EventID,
			ConflictingEventName: c.EventName,
		}
	}
	if !f.Event.Unlimited() && f.ActiveCount >= f.Event.Capacity {
		return &CapacityExceededError{EventID: f.Event.ID, Capacity: f.Event.Capacity}
	}
	return nil
}
