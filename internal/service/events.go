package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openvenue/scheduler/internal/model"
	"github.com/openvenue/scheduler/internal/notify"
)

// CreateEventInput describes a new single or recurring event.
type CreateEventInput struct {
	Name        string
	Description string
	Capacity    int // 0 means unlimited
	SpaceID     *int64
	CategoryID  *int64
	ModalityID  *int64
	Schedule    model.Schedule
}

// CreateEvent expands the schedule, validates every occurrence's space
// availability and persists the occurrence rows plus their reservations in
// one transaction. A recurring schedule materializes one event row per
// occurrence, all sharing the recurrence id.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) ([]model.Event, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("event name is required")
	}
	if in.Capacity < 0 {
		return nil, fmt.Errorf("capacity cannot be negative")
	}
	if in.Capacity > 100_000 {
		return nil, fmt.Errorf("capacity cannot exceed 100,000")
	}

	occurrences, err := s.expander.ExpandSchedule(in.Schedule)
	if err != nil {
		return nil, err
	}

	now := s.now()
	events := make([]model.Event, 0, len(occurrences))
	for _, occ := range occurrences {
		e := model.Event{
			Name:        in.Name,
			Description: in.Description,
			Capacity:    in.Capacity,
			SpaceID:     in.SpaceID,
			CategoryID:  in.CategoryID,
			ModalityID:  in.ModalityID,
			Date:        occ.Date,
			StartsAt:    occ.StartsAt,
			EndsAt:      occ.EndsAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if r := in.Schedule.Recurring; r != nil {
			rid := r.RecurrenceID
			if rid == uuid.Nil {
				rid = uuid.New()
				r.RecurrenceID = rid
			}
			rt := r.Type
			start, end := model.DateOnly(r.StartDate), model.DateOnly(r.EndDate)
			e.RecurrenceID = &rid
			e.RecurrenceType = &rt
			e.SeriesStart = &start
			e.SeriesEnd = &end
		}
		events = append(events, e)
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		if in.SpaceID != nil {
			if _, err := tx.Spaces().GetByID(ctx, *in.SpaceID); err != nil {
				return fmt.Errorf("space %d: %w", *in.SpaceID, err)
			}
		}
		for i := range events {
			e := &events[i]
			if e.SpaceID != nil {
				free, err := s.spaceIsFree(ctx, tx, *e.SpaceID, e.Window(), nil)
				if err != nil {
					return err
				}
				if !free {
					return &model.ConflictError{OccurrenceDate: e.Date, SpaceID: *e.SpaceID}
				}
			}
			if err := tx.Events().Create(ctx, e); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
			if e.SpaceID != nil {
				res := model.Reservation{
					SpaceID:  *e.SpaceID,
					EventID:  e.ID,
					StartsAt: e.StartsAt,
					EndsAt:   e.EndsAt,
				}
				if err := tx.Spaces().CreateReservation(ctx, &res); err != nil {
					return fmt.Errorf("insert reservation: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.EventsCreated(events)
	return events, nil
}

// GetEvent returns a single occurrence by id.
func (s *Service) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return s.store.Events().GetByID(ctx, id)
}

// ListEvents returns all occurrences.
func (s *Service) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.Events().List(ctx)
}

// ListSeries returns the occurrences of one series, ascending by date.
func (s *Service) ListSeries(ctx context.Context, recurrenceID uuid.UUID) ([]model.Event, error) {
	events, err := s.store.Events().ListByRecurrence(ctx, recurrenceID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, model.ErrNotFound
	}
	return events, nil
}

// SeriesCalendar renders a series as an iCalendar document.
func (s *Service) SeriesCalendar(ctx context.Context, recurrenceID uuid.UUID) (string, error) {
	events, err := s.ListSeries(ctx, recurrenceID)
	if err != nil {
		return "", err
	}
	return notify.BuildCalendar(events)
}

// UpdateEvent applies a patch to one occurrence (ScopeSingle) or to every
// occurrence sharing the target's recurrence id (ScopeSeries). Space and
// time changes are re-validated against the availability resolver before
// commit; the whole edit is rejected on the first conflict, reported with
// the offending occurrence. The series' temporal skeleton is preserved: a
// series-wide patch never moves individual dates, and fields previously
// overridden on an occurrence are left untouched there.
func (s *Service) UpdateEvent(ctx context.Context, eventID int64, patch model.EventPatch, scope model.UpdateScope) (model.UpdateResult, error) {
	if len(patch.Fields()) == 0 {
		return model.UpdateResult{}, fmt.Errorf("patch has no fields")
	}

	var (
		result model.UpdateResult
		target model.Event
	)
	err := s.store.WithinTx(ctx, func(tx Store) error {
		result = model.UpdateResult{}

		ev, err := tx.Events().GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}

		if scope == model.ScopeSingle || ev.RecurrenceID == nil {
			if scope == model.ScopeSeries && ev.RecurrenceID == nil {
				return fmt.Errorf("event %d is not part of a series", eventID)
			}
			if err := s.applyPatch(ctx, tx, ev, patch, nil, ev.RecurrenceID != nil); err != nil {
				return err
			}
			target = *ev
			result.Updated = 1
			return nil
		}

		// Series-wide: the skeleton is preserved, individual dates never
		// move together.
		seriesPatch := patch
		seriesPatch.Date = nil

		events, err := tx.Events().ListByRecurrence(ctx, *ev.RecurrenceID)
		if err != nil {
			return fmt.Errorf("load series: %w", err)
		}
		for i := range events {
			occ := &events[i]
			if err := s.applyPatch(ctx, tx, occ, seriesPatch, occ.Overrides(), false); err != nil {
				return err
			}
			result.Updated++
		}
		target = *ev
		return nil
	})
	if err != nil {
		return model.UpdateResult{}, err
	}

	s.notifier.EventUpdated(target, result.Updated)
	return result, nil
}

// applyPatch writes the patch onto one occurrence inside the transaction,
// re-validating and replacing its reservation when space or time changed.
// markOverride records the applied fields as per-occurrence overrides, which
// detaches them from future series-wide edits.
func (s *Service) applyPatch(ctx context.Context, tx Store, ev *model.Event, patch model.EventPatch, skip map[string]bool, markOverride bool) error {
	applied := patch.Apply(ev, skip)

	if patch.TouchesSchedule() || patch.TouchesSpace() {
		if err := s.rebindReservation(ctx, tx, ev); err != nil {
			return err
		}
	}
	if markOverride {
		ev.MarkOverridden(applied)
	}
	ev.UpdatedAt = s.now()
	if err := tx.Events().Update(ctx, ev); err != nil {
		return fmt.Errorf("update event %d: %w", ev.ID, err)
	}
	return nil
}

// rebindReservation drops the occurrence's reservation and books the
// current space/time combination, failing with a ConflictError naming the
// occurrence when the slot is taken. Dropping first lets an event move
// within its own previously booked slot.
func (s *Service) rebindReservation(ctx context.Context, tx Store, ev *model.Event) error {
	if err := tx.Spaces().DeleteReservationsForEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("drop reservation for event %d: %w", ev.ID, err)
	}
	if ev.SpaceID == nil {
		return nil
	}
	if _, err := tx.Spaces().GetByID(ctx, *ev.SpaceID); err != nil {
		return fmt.Errorf("space %d: %w", *ev.SpaceID, err)
	}
	free, err := s.spaceIsFree(ctx, tx, *ev.SpaceID, ev.Window(), nil)
	if err != nil {
		return err
	}
	if !free {
		return &model.ConflictError{OccurrenceDate: ev.Date, SpaceID: *ev.SpaceID}
	}
	res := model.Reservation{
		SpaceID:  *ev.SpaceID,
		EventID:  ev.ID,
		StartsAt: ev.StartsAt,
		EndsAt:   ev.EndsAt,
	}
	if err := tx.Spaces().CreateReservation(ctx, &res); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}
