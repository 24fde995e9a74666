package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openvenue/scheduler/internal/model"
)

// ErrTxConflict is returned by a store when a transaction loses a
// serialization or lock race. The service retries these transparently up to
// a small bound before surfacing the domain error.
var ErrTxConflict = errors.New("transaction conflict")

// EventStore persists event occurrences.
type EventStore interface {
	Create(ctx context.Context, e *model.Event) error
	GetByID(ctx context.Context, id int64) (*model.Event, error)
	// GetForUpdate locks the event row for the remainder of the enclosing
	// transaction. It is only meaningful inside WithinTx.
	GetForUpdate(ctx context.Context, id int64) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	// ListByRecurrence returns the series' occurrences in ascending date
	// order, which fixes validation and error-reporting order.
	ListByRecurrence(ctx context.Context, recurrenceID uuid.UUID) ([]model.Event, error)
	Update(ctx context.Context, e *model.Event) error
	// AdjustRegisteredCount atomically shifts the active-registration
	// counter by delta.
	AdjustRegisteredCount(ctx context.Context, id int64, delta int) error
}

// SpaceStore persists spaces and their reservations.
type SpaceStore interface {
	GetByID(ctx context.Context, id int64) (*model.Space, error)
	List(ctx context.Context, filter model.SpaceFilter) ([]model.Space, error)
	// Reservations returns reservations grouped by space. A zero span
	// returns everything; otherwise only reservations overlapping the span,
	// which lets the resolver prune by time.
	Reservations(ctx context.Context, span model.TimeRange) (map[int64][]model.Reservation, error)
	// ReservationsForSpace returns one space's reservations, time-sorted.
	ReservationsForSpace(ctx context.Context, spaceID int64, span model.TimeRange) ([]model.Reservation, error)
	CreateReservation(ctx context.Context, r *model.Reservation) error
	DeleteReservationsForEvent(ctx context.Context, eventID int64) error
}

// RegistrationStore persists registrations.
type RegistrationStore interface {
	Create(ctx context.Context, r *model.Registration) error
	GetByID(ctx context.Context, id int64) (*model.Registration, error)
	// GetForUpdate locks the registration row inside the enclosing
	// transaction.
	GetForUpdate(ctx context.Context, id int64) (*model.Registration, error)
	Update(ctx context.Context, r *model.Registration) error
	ListByEvent(ctx context.Context, eventID int64) ([]model.Registration, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Registration, error)
	// ActiveCount returns the number of REGISTERED or CHECKED_IN
	// registrations for the occurrence.
	ActiveCount(ctx context.Context, eventID int64) (int, error)
	// HasActive reports whether the user holds an active registration for
	// the occurrence.
	HasActive(ctx context.Context, eventID, userID int64) (bool, error)
	// ActiveCommitments returns the user's active registrations joined with
	// their occurrence windows.
	ActiveCommitments(ctx context.Context, userID int64) ([]model.UserCommitment, error)
	// CheckedInEndedBefore returns CHECKED_IN registrations whose
	// occurrence ended before the cutoff, up to limit rows.
	CheckedInEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Registration, error)
}

// Store bundles the per-entity stores with transactional execution. All
// mutation of the shared counters (registered_count, reservation sets) goes
// through WithinTx so partial writes can never be observed.
type Store interface {
	Events() EventStore
	Spaces() SpaceStore
	Registrations() RegistrationStore
	// WithinTx runs fn atomically: every store obtained from the Store
	// passed to fn operates inside one transaction, committed when fn
	// returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
