package model

// RegistrationStatus is the closed set of registration lifecycle states.
type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "REGISTERED"
	StatusCancelled  RegistrationStatus = "CANCELLED"
	StatusCheckedIn  RegistrationStatus = "CHECKED_IN"
	StatusNoShow     RegistrationStatus = "NO_SHOW"
)

// transitions is the full lifecycle table. CANCELLED and NO_SHOW are
// terminal: a cancelled user creates a new registration record rather than
// reusing the old one.
var transitions = map[RegistrationStatus][]RegistrationStatus{
	StatusRegistered: {StatusCancelled, StatusCheckedIn},
	StatusCheckedIn:  {StatusNoShow},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

// Active reports whether the status counts against event capacity.
func (s RegistrationStatus) Active() bool {
	return s == StatusRegistered || s == StatusCheckedIn
}

// Valid reports whether s is a known status.
func (s RegistrationStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the lifecycle table allows moving from s to
// next.
func (s RegistrationStatus) CanTransition(next RegistrationStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition mutates the registration's status after consulting the
// lifecycle table. Every status change must go through here so illegal moves
// are rejected explicitly instead of trusting callers.
func (r *Registration) Transition(next RegistrationStatus) error {
	if !r.Status.CanTransition(next) {
		return &InvalidStateTransitionError{From: r.Status, To: next}
	}
	r.Status = next
	return nil
}
