package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openvenue/scheduler/internal/model"
)

// EventRepository handles persistence for event occurrences.
type EventRepository struct {
	db   DB
	inTx bool
}

const eventColumns = `id, name, description, capacity, space_id, category_id, modality_id,
	recurrence_id, recurrence_type, series_start, series_end,
	date, starts_at, ends_at, overridden_fields, registered_count, created_at, updated_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e     model.Event
		rtype *string
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.Capacity, &e.SpaceID, &e.CategoryID, &e.ModalityID,
		&e.RecurrenceID, &rtype, &e.SeriesStart, &e.SeriesEnd,
		&e.Date, &e.StartsAt, &e.EndsAt, &e.OverriddenFields, &e.RegisteredCount,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rtype != nil {
		rt := model.RecurrenceType(*rtype)
		e.RecurrenceType = &rt
	}
	return &e, nil
}

func recurrenceTypeArg(e *model.Event) *string {
	if e.RecurrenceType == nil {
		return nil
	}
	s := string(*e.RecurrenceType)
	return &s
}

// Create inserts an occurrence row and fills in its generated id.
func (r *EventRepository) Create(ctx context.Context, e *model.Event) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO events (name, description, capacity, space_id, category_id, modality_id,
		                     recurrence_id, recurrence_type, series_start, series_end,
		                     date, starts_at, ends_at, overridden_fields, registered_count,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING id`,
		e.Name, e.Description, e.Capacity, e.SpaceID, e.CategoryID, e.ModalityID,
		e.RecurrenceID, recurrenceTypeArg(e), e.SeriesStart, e.SeriesEnd,
		e.Date, e.StartsAt, e.EndsAt, e.OverriddenFields, e.RegisteredCount,
		e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID returns a single occurrence or model.ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// GetForUpdate locks the occurrence row for the rest of the transaction.
// This is the lock that serialises concurrent registration attempts against
// one occurrence.
func (r *EventRepository) GetForUpdate(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// List returns all occurrences, soonest first.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY starts_at ASC, id ASC`)
}

// ListByRecurrence returns a series' occurrences in ascending date order.
// Inside a transaction the rows are locked, in the same stable order so two
// series-wide edits cannot deadlock against each other.
func (r *EventRepository) ListByRecurrence(ctx context.Context, recurrenceID uuid.UUID) ([]model.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE recurrence_id = $1 ORDER BY date ASC, id ASC`
	if r.inTx {
		q += ` FOR UPDATE`
	}
	return r.queryEvents(ctx, q, recurrenceID)
}

func (r *EventRepository) queryEvents(ctx context.Context, sql string, args ...any) ([]model.Event, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Update rewrites an occurrence's mutable fields.
func (r *EventRepository) Update(ctx context.Context, e *model.Event) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events
		 SET name = $2, description = $3, capacity = $4, space_id = $5,
		     category_id = $6, modality_id = $7, date = $8, starts_at = $9,
		     ends_at = $10, overridden_fields = $11, updated_at = $12
		 WHERE id = $1`,
		e.ID, e.Name, e.Description, e.Capacity, e.SpaceID,
		e.CategoryID, e.ModalityID, e.Date, e.StartsAt,
		e.EndsAt, e.OverriddenFields, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// AdjustRegisteredCount shifts the active-registration counter atomically.
// Callers hold the row lock, so the counter can never drift from the
// registration rows.
func (r *EventRepository) AdjustRegisteredCount(ctx context.Context, id int64, delta int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET registered_count = registered_count + $2 WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust registered count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
