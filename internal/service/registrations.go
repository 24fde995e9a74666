package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openvenue/scheduler/internal/model"
)

// Register creates a REGISTERED record for (occurrence, user). The
// availability re-evaluation and the capacity increment run as one atomic
// unit: the event row is locked for the duration of the transaction, so two
// concurrent requests can never both pass the capacity check. Lost races at
// the store level are retried transparently up to the configured bound.
func (s *Service) Register(ctx context.Context, eventID, userID int64) (*model.Registration, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user id is required")
	}

	var (
		reg *model.Registration
		ev  model.Event
		err error
	)
	for attempt := 0; ; attempt++ {
		reg, ev, err = s.registerOnce(ctx, eventID, userID)
		if err == nil || !errors.Is(err, ErrTxConflict) || attempt >= s.registerRetries {
			break
		}
		log.Debug().
			Int64("event_id", eventID).
			Int64("user_id", userID).
			Int("attempt", attempt+1).
			Msg("registration lost a capacity race, retrying")
	}
	if err != nil {
		return nil, err
	}

	s.notifier.RegistrationCreated(*reg, ev)
	return reg, nil
}

func (s *Service) registerOnce(ctx context.Context, eventID, userID int64) (*model.Registration, model.Event, error) {
	var (
		reg *model.Registration
		ev  model.Event
	)
	err := s.store.WithinTx(ctx, func(tx Store) error {
		locked, err := tx.Events().GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		ev = *locked

		facts, err := s.factsForEvent(ctx, tx, locked, userID)
		if err != nil {
			return err
		}
		if err := facts.Check(userID); err != nil {
			return err
		}

		reg = &model.Registration{
			EventID:      eventID,
			UserID:       userID,
			Status:       model.StatusRegistered,
			RegisteredAt: s.now(),
		}
		if err := tx.Registrations().Create(ctx, reg); err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}
		return tx.Events().AdjustRegisteredCount(ctx, eventID, +1)
	})
	if err != nil {
		return nil, model.Event{}, err
	}
	return reg, ev, nil
}

// CancelRegistration transitions REGISTERED -> CANCELLED and frees one
// capacity slot atomically. A second cancel fails with
// InvalidStateTransitionError rather than silently succeeding, so callers
// can detect race conditions. When userID is non-zero the registration must
// belong to that user.
func (s *Service) CancelRegistration(ctx context.Context, registrationID, userID int64) error {
	var (
		reg model.Registration
		ev  model.Event
	)
	err := s.store.WithinTx(ctx, func(tx Store) error {
		locked, err := tx.Registrations().GetForUpdate(ctx, registrationID)
		if err != nil {
			return err
		}
		if userID != 0 && locked.UserID != userID {
			return model.ErrNotFound
		}
		if err := locked.Transition(model.StatusCancelled); err != nil {
			return err
		}
		now := s.now()
		locked.CancelledAt = &now
		if err := tx.Registrations().Update(ctx, locked); err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		if err := tx.Events().AdjustRegisteredCount(ctx, locked.EventID, -1); err != nil {
			return err
		}
		reg = *locked
		e, err := tx.Events().GetByID(ctx, locked.EventID)
		if err != nil {
			return err
		}
		ev = *e
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.RegistrationCancelled(reg, ev)
	return nil
}

// CheckIn transitions REGISTERED -> CHECKED_IN and stamps the attendance
// date. The slot stays occupied: a checked-in registration is still active.
func (s *Service) CheckIn(ctx context.Context, registrationID int64) error {
	return s.store.WithinTx(ctx, func(tx Store) error {
		locked, err := tx.Registrations().GetForUpdate(ctx, registrationID)
		if err != nil {
			return err
		}
		if err := locked.Transition(model.StatusCheckedIn); err != nil {
			return err
		}
		now := s.now()
		locked.AttendedAt = &now
		return tx.Registrations().Update(ctx, locked)
	})
}

// MarkNoShow transitions CHECKED_IN -> NO_SHOW. It is an externally
// triggered move: the reconciliation sweep drives it after an occurrence
// ends, it is never a user action. The slot is freed since NO_SHOW no
// longer counts as active.
func (s *Service) MarkNoShow(ctx context.Context, registrationID int64) error {
	return s.store.WithinTx(ctx, func(tx Store) error {
		locked, err := tx.Registrations().GetForUpdate(ctx, registrationID)
		if err != nil {
			return err
		}
		if err := locked.Transition(model.StatusNoShow); err != nil {
			return err
		}
		if err := tx.Registrations().Update(ctx, locked); err != nil {
			return err
		}
		return tx.Events().AdjustRegisteredCount(ctx, locked.EventID, -1)
	})
}

// ReconcileNoShows sweeps CHECKED_IN registrations of occurrences that
// ended at least grace ago and marks them NO_SHOW, one transaction per
// registration so a failure never blocks the rest of the batch. Returns how
// many registrations were transitioned.
func (s *Service) ReconcileNoShows(ctx context.Context, grace time.Duration, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	cutoff := s.now().Add(-grace)

	regs, err := s.store.Registrations().CheckedInEndedBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, fmt.Errorf("load no-show candidates: %w", err)
	}

	marked := 0
	for _, reg := range regs {
		if err := s.MarkNoShow(ctx, reg.ID); err != nil {
			// Lost to a concurrent transition; skip, the next sweep
			// re-evaluates.
			var transErr *model.InvalidStateTransitionError
			if errors.As(err, &transErr) {
				continue
			}
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// GetRegistration returns one registration by id.
func (s *Service) GetRegistration(ctx context.Context, id int64) (*model.Registration, error) {
	return s.store.Registrations().GetByID(ctx, id)
}

// ListRegistrations returns all registrations for an occurrence, including
// cancelled and no-show rows (the audit trail).
func (s *Service) ListRegistrations(ctx context.Context, eventID int64) ([]model.Registration, error) {
	if _, err := s.store.Events().GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.Registrations().ListByEvent(ctx, eventID)
}

// ListUserRegistrations returns a user's registrations across occurrences.
func (s *Service) ListUserRegistrations(ctx context.Context, userID int64) ([]model.Registration, error) {
	return s.store.Registrations().ListByUser(ctx, userID)
}
