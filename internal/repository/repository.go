// Package repository implements the store interfaces on PostgreSQL. It uses
// pgx directly (no ORM) for transparency and performance.
//
// Concurrency model: capacity accounting and reservation checks run inside a
// transaction holding a row-level lock (SELECT ... FOR UPDATE) on the event
// or space row. Locking the row serialises concurrent attempts so only one
// transaction at a time can read-then-write the shared state, which is what
// keeps registrations at or under capacity and spaces free of overlapping
// reservations. Lost lock or serialization races surface as
// service.ErrTxConflict and are retried by the engine.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openvenue/scheduler/internal/model"
	"github.com/openvenue/scheduler/internal/service"
)

// DB is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so every query
// can run either standalone or inside a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the per-entity repositories and implements service.Store.
type Store struct {
	pool *pgxpool.Pool
	db   DB
	inTx bool
}

// NewStore constructs the PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (s *Store) Events() service.EventStore {
	return &EventRepository{db: s.db, inTx: s.inTx}
}

func (s *Store) Spaces() service.SpaceStore {
	return &SpaceRepository{db: s.db, inTx: s.inTx}
}

func (s *Store) Registrations() service.RegistrationStore {
	return &RegistrationRepository{db: s.db, inTx: s.inTx}
}

// WithinTx runs fn inside one transaction; nested calls join the enclosing
// transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(service.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{db: tx, inTx: true}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// mapConflict translates Postgres serialization and deadlock failures into
// the retryable sentinel.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", service.ErrTxConflict, pgErr.Code)
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// spanArgs converts a pruning span into nullable query arguments; a zero
// span disables the time filter.
func spanArgs(span model.TimeRange) (*time.Time, *time.Time) {
	if span.IsZero() {
		return nil, nil
	}
	return &span.Start, &span.End
}
