package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openvenue/scheduler/internal/model"
)

// FindAvailableSpaces returns the spaces matching the filter that are free
// for the query's windows, capacity ascending. Callers pick the query
// variant by recurrence mode: SingleWindowAvailability for one occurrence,
// AllWindowsAvailability for a series wanting one room throughout.
//
// This is the interactive hot path, so positive answers may be served from
// the short-TTL cache when one is configured.
func (s *Service) FindAvailableSpaces(ctx context.Context, filter model.SpaceFilter, q model.AvailabilityQuery) ([]model.Space, error) {
	key := availabilityKey(filter, q)
	if s.cache != nil && s.availabilityTTL > 0 {
		var cached []model.Space
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	spaces, err := s.availableSpaces(ctx, s.store, filter, q, nil)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.availabilityTTL > 0 {
		if err := s.cache.Set(ctx, key, spaces, s.availabilityTTL); err != nil {
			log.Warn().Err(err).Msg("availability cache write failed")
		}
	}
	return spaces, nil
}

// availableSpaces is the uncached resolver, also used inside edit
// transactions where the event's own reservations must be ignored.
func (s *Service) availableSpaces(ctx context.Context, st Store, filter model.SpaceFilter, q model.AvailabilityQuery, exclude map[int64]bool) ([]model.Space, error) {
	spaces, err := st.Spaces().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}

	reservations := map[int64][]model.Reservation{}
	if len(q.Windows()) > 0 {
		reservations, err = st.Spaces().Reservations(ctx, windowSpan(q.Windows()))
		if err != nil {
			return nil, fmt.Errorf("load reservations: %w", err)
		}
	}

	return model.FilterAvailableSpaces(spaces, reservations, filter, q, exclude), nil
}

// spaceIsFree checks one concrete space against the query, used by event
// create/update validation.
func (s *Service) spaceIsFree(ctx context.Context, st Store, spaceID int64, w model.TimeRange, exclude map[int64]bool) (bool, error) {
	reservations, err := st.Spaces().ReservationsForSpace(ctx, spaceID, w)
	if err != nil {
		return false, fmt.Errorf("load reservations for space %d: %w", spaceID, err)
	}
	return model.FreeFor(reservations, model.SingleWindowAvailability{Window: w}, exclude), nil
}

// windowSpan returns the envelope [min start, max end) of the windows, used
// to prune the reservation scan.
func windowSpan(windows []model.TimeRange) model.TimeRange {
	var span model.TimeRange
	for _, w := range windows {
		if span.Start.IsZero() || w.Start.Before(span.Start) {
			span.Start = w.Start
		}
		if w.End.After(span.End) {
			span.End = w.End
		}
	}
	return span
}

func availabilityKey(filter model.SpaceFilter, q model.AvailabilityQuery) string {
	var b strings.Builder
	b.WriteString("spaces")
	if filter.CampusID != nil {
		fmt.Fprintf(&b, ":campus=%d", *filter.CampusID)
	}
	if filter.MinCapacity != nil {
		fmt.Fprintf(&b, ":cap=%d", *filter.MinCapacity)
	}
	for _, w := range q.Windows() {
		fmt.Fprintf(&b, ":%d-%d", w.Start.Unix(), w.End.Unix())
	}
	return b.String()
}

// GetRegistrationAvailability answers "can this user register for this
// occurrence?" without side effects, safe to call on every render. A zero
// userID skips the user-specific checks and reports capacity only.
func (s *Service) GetRegistrationAvailability(ctx context.Context, eventID, userID int64) (model.AvailabilitySnapshot, error) {
	facts, err := s.registrationFacts(ctx, s.store, eventID, userID)
	if err != nil {
		return model.AvailabilitySnapshot{}, err
	}
	return facts.Snapshot(), nil
}

// registrationFacts gathers the inputs of the registration decision. Inside
// the register transaction it runs against the locked event row, so the
// snapshot and the atomic check can never disagree.
func (s *Service) registrationFacts(ctx context.Context, st Store, eventID, userID int64) (model.RegistrationFacts, error) {
	ev, err := st.Events().GetByID(ctx, eventID)
	if err != nil {
		return model.RegistrationFacts{}, err
	}
	return s.factsForEvent(ctx, st, ev, userID)
}

func (s *Service) factsForEvent(ctx context.Context, st Store, ev *model.Event, userID int64) (model.RegistrationFacts, error) {
	facts := model.RegistrationFacts{Event: ev}

	count, err := st.Registrations().ActiveCount(ctx, ev.ID)
	if err != nil {
		return facts, fmt.Errorf("count active registrations: %w", err)
	}
	facts.ActiveCount = count

	if userID == 0 {
		return facts, nil
	}

	dup, err := st.Registrations().HasActive(ctx, ev.ID, userID)
	if err != nil {
		return facts, fmt.Errorf("check duplicate registration: %w", err)
	}
	facts.AlreadyRegistered = dup

	commitments, err := st.Registrations().ActiveCommitments(ctx, userID)
	if err != nil {
		return facts, fmt.Errorf("load user commitments: %w", err)
	}
	facts.Commitments = commitments
	return facts, nil
}
