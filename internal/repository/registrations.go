package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openvenue/scheduler/internal/model"
)

// RegistrationRepository handles persistence for registrations. Rows are
// never deleted; terminal statuses keep the audit trail.
type RegistrationRepository struct {
	db   DB
	inTx bool
}

const registrationColumns = `id, event_id, user_id, status, registered_at, cancelled_at, attended_at`

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var (
		reg    model.Registration
		status string
	)
	err := row.Scan(&reg.ID, &reg.EventID, &reg.UserID, &status,
		&reg.RegisteredAt, &reg.CancelledAt, &reg.AttendedAt)
	if err != nil {
		return nil, err
	}
	reg.Status = model.RegistrationStatus(status)
	return &reg, nil
}

// Create inserts a registration and fills in its generated id.
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.Registration) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO registrations (event_id, user_id, status, registered_at, cancelled_at, attended_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		reg.EventID, reg.UserID, string(reg.Status), reg.RegisteredAt, reg.CancelledAt, reg.AttendedAt,
	).Scan(&reg.ID)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// GetByID returns a registration or model.ErrNotFound.
func (r *RegistrationRepository) GetByID(ctx context.Context, id int64) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return reg, nil
}

// GetForUpdate locks the registration row, serialising lifecycle
// transitions so a double cancel is always detected.
func (r *RegistrationRepository) GetForUpdate(ctx context.Context, id int64) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return reg, nil
}

// Update rewrites a registration's status and lifecycle dates.
func (r *RegistrationRepository) Update(ctx context.Context, reg *model.Registration) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations
		 SET status = $2, cancelled_at = $3, attended_at = $4
		 WHERE id = $1`,
		reg.ID, string(reg.Status), reg.CancelledAt, reg.AttendedAt,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ListByEvent returns all registrations for an occurrence, oldest first.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID int64) ([]model.Registration, error) {
	return r.queryRegistrations(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 ORDER BY registered_at ASC, id ASC`,
		eventID)
}

// ListByUser returns a user's registrations across occurrences.
func (r *RegistrationRepository) ListByUser(ctx context.Context, userID int64) ([]model.Registration, error) {
	return r.queryRegistrations(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = $1 ORDER BY registered_at ASC, id ASC`,
		userID)
}

func (r *RegistrationRepository) queryRegistrations(ctx context.Context, sql string, args ...any) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// ActiveCount returns the number of registrations counting against the
// occurrence's capacity.
func (r *RegistrationRepository) ActiveCount(ctx context.Context, eventID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE event_id = $1 AND status IN ('REGISTERED', 'CHECKED_IN')`,
		eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
}

// HasActive reports whether the user holds an active registration for the
// occurrence.
func (r *RegistrationRepository) HasActive(ctx context.Context, eventID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM registrations
		   WHERE event_id = $1 AND user_id = $2 AND status IN ('REGISTERED', 'CHECKED_IN')
		 )`,
		eventID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active registration: %w", err)
	}
	return exists, nil
}

// ActiveCommitments returns the user's active registrations joined with
// their occurrence windows, for schedule-conflict detection.
func (r *RegistrationRepository) ActiveCommitments(ctx context.Context, userID int64) ([]model.UserCommitment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.id, e.id, e.name, e.starts_at, e.ends_at
		 FROM registrations r
		 JOIN events e ON e.id = r.event_id
		 WHERE r.user_id = $1 AND r.status IN ('REGISTERED', 'CHECKED_IN')
		 ORDER BY e.starts_at ASC, r.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user commitments: %w", err)
	}
	defer rows.Close()

	var out []model.UserCommitment
	for rows.Next() {
		var c model.UserCommitment
		if err := rows.Scan(&c.RegistrationID, &c.EventID, &c.EventName, &c.Window.Start, &c.Window.End); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CheckedInEndedBefore returns CHECKED_IN registrations whose occurrence
// ended before the cutoff, the no-show reconciliation candidates.
func (r *RegistrationRepository) CheckedInEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.id, r.event_id, r.user_id, r.status, r.registered_at, r.cancelled_at, r.attended_at
		 FROM registrations r
		 JOIN events e ON e.id = r.event_id
		 WHERE r.status = 'CHECKED_IN' AND e.ends_at < $1
		 ORDER BY r.id ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list no-show candidates: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}
