package repository

import (
	"context"
	"fmt"

	"github.com/openvenue/scheduler/internal/model"
)

// SpaceRepository handles persistence for spaces and reservations.
type SpaceRepository struct {
	db   DB
	inTx bool
}

// GetByID returns a space or model.ErrNotFound. Inside a transaction the
// space row is locked, which serialises concurrent bookings of the same
// space: only one transaction at a time may check-then-insert a
// reservation, so overlapping reservations can never be committed.
func (r *SpaceRepository) GetByID(ctx context.Context, id int64) (*model.Space, error) {
	q := `SELECT id, name, capacity, campus_id, resources, created_at FROM spaces WHERE id = $1`
	if r.inTx {
		q += ` FOR UPDATE`
	}
	var s model.Space
	err := r.db.QueryRow(ctx, q, id).
		Scan(&s.ID, &s.Name, &s.Capacity, &s.CampusID, &s.Resources, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// List returns spaces matching the filter, capacity ascending with id as
// tiebreak.
func (r *SpaceRepository) List(ctx context.Context, filter model.SpaceFilter) ([]model.Space, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, capacity, campus_id, resources, created_at
		 FROM spaces
		 WHERE ($1::bigint IS NULL OR campus_id = $1)
		   AND ($2::int IS NULL OR capacity >= $2)
		 ORDER BY capacity ASC, id ASC`,
		filter.CampusID, filter.MinCapacity,
	)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	var spaces []model.Space
	for rows.Next() {
		var s model.Space
		if err := rows.Scan(&s.ID, &s.Name, &s.Capacity, &s.CampusID, &s.Resources, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, s)
	}
	return spaces, rows.Err()
}

// Reservations returns reservations grouped by space, pruned to the span
// and time-sorted per space so overlap checks can stop early.
func (r *SpaceRepository) Reservations(ctx context.Context, span model.TimeRange) (map[int64][]model.Reservation, error) {
	from, to := spanArgs(span)
	rows, err := r.db.Query(ctx,
		`SELECT id, space_id, event_id, starts_at, ends_at
		 FROM reservations
		 WHERE ($1::timestamptz IS NULL OR ends_at > $1)
		   AND ($2::timestamptz IS NULL OR starts_at < $2)
		 ORDER BY space_id ASC, starts_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.Reservation)
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.SpaceID, &res.EventID, &res.StartsAt, &res.EndsAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out[res.SpaceID] = append(out[res.SpaceID], res)
	}
	return out, rows.Err()
}

// ReservationsForSpace returns one space's reservations overlapping the
// span, time-sorted.
func (r *SpaceRepository) ReservationsForSpace(ctx context.Context, spaceID int64, span model.TimeRange) ([]model.Reservation, error) {
	from, to := spanArgs(span)
	rows, err := r.db.Query(ctx,
		`SELECT id, space_id, event_id, starts_at, ends_at
		 FROM reservations
		 WHERE space_id = $1
		   AND ($2::timestamptz IS NULL OR ends_at > $2)
		   AND ($3::timestamptz IS NULL OR starts_at < $3)
		 ORDER BY starts_at ASC`,
		spaceID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list reservations for space %d: %w", spaceID, err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.SpaceID, &res.EventID, &res.StartsAt, &res.EndsAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// CreateReservation inserts a reservation and fills in its generated id.
func (r *SpaceRepository) CreateReservation(ctx context.Context, res *model.Reservation) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO reservations (space_id, event_id, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		res.SpaceID, res.EventID, res.StartsAt, res.EndsAt,
	).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// DeleteReservationsForEvent drops an occurrence's reservations, used when
// an edit rebinds the space or moves the window.
func (r *SpaceRepository) DeleteReservationsForEvent(ctx context.Context, eventID int64) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM reservations WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("delete reservations for event %d: %w", eventID, err)
	}
	return nil
}
