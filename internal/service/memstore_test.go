package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openvenue/scheduler/internal/model"
)

// memStore is an in-memory Store. WithinTx serializes transactions under one
// mutex and rolls back by snapshot, so it is linearizable: exactly the
// guarantee the Postgres implementation provides with row locks. That makes
// the concurrency tests in this package meaningful without a database.
type memStore struct {
	mu            sync.Mutex
	events        map[int64]*model.Event
	spaces        map[int64]*model.Space
	reservations  map[int64]*model.Reservation
	registrations map[int64]*model.Registration
	nextID        int64
}

func newMemStore() *memStore {
	return &memStore{
		events:        map[int64]*model.Event{},
		spaces:        map[int64]*model.Space{},
		reservations:  map[int64]*model.Reservation{},
		registrations: map[int64]*model.Registration{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

type memSnapshot struct {
	events        map[int64]*model.Event
	spaces        map[int64]*model.Space
	reservations  map[int64]*model.Reservation
	registrations map[int64]*model.Registration
	nextID        int64
}

func cloneMap[T any](src map[int64]*T) map[int64]*T {
	dst := make(map[int64]*T, len(src))
	for k, v := range src {
		c := *v
		dst[k] = &c
	}
	return dst
}

func (m *memStore) snapshot() memSnapshot {
	return memSnapshot{
		events:        cloneMap(m.events),
		spaces:        cloneMap(m.spaces),
		reservations:  cloneMap(m.reservations),
		registrations: cloneMap(m.registrations),
		nextID:        m.nextID,
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.events = s.events
	m.spaces = s.spaces
	m.reservations = s.reservations
	m.registrations = s.registrations
	m.nextID = s.nextID
}

func (m *memStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(&txView{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) Events() EventStore                 { return lockedEvents{m} }
func (m *memStore) Spaces() SpaceStore                 { return lockedSpaces{m} }
func (m *memStore) Registrations() RegistrationStore   { return lockedRegistrations{m} }

// txView exposes the maps without locking; the transaction already holds the
// mutex.
type txView struct{ m *memStore }

func (v *txView) Events() EventStore               { return memEvents{v.m} }
func (v *txView) Spaces() SpaceStore               { return memSpaces{v.m} }
func (v *txView) Registrations() RegistrationStore { return memRegistrations{v.m} }
func (v *txView) WithinTx(ctx context.Context, fn func(Store) error) error {
	return fn(v)
}

// ── events ────────────────────────────────────────────────────────────────

type memEvents struct{ m *memStore }

func (s memEvents) Create(_ context.Context, e *model.Event) error {
	e.ID = s.m.id()
	c := *e
	s.m.events[e.ID] = &c
	return nil
}

func (s memEvents) GetByID(_ context.Context, id int64) (*model.Event, error) {
	e, ok := s.m.events[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s memEvents) GetForUpdate(ctx context.Context, id int64) (*model.Event, error) {
	return s.GetByID(ctx, id)
}

func (s memEvents) List(_ context.Context) ([]model.Event, error) {
	out := make([]model.Event, 0, len(s.m.events))
	for _, e := range s.m.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memEvents) ListByRecurrence(_ context.Context, rid uuid.UUID) ([]model.Event, error) {
	var out []model.Event
	for _, e := range s.m.events {
		if e.RecurrenceID != nil && *e.RecurrenceID == rid {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s memEvents) Update(_ context.Context, e *model.Event) error {
	if _, ok := s.m.events[e.ID]; !ok {
		return model.ErrNotFound
	}
	c := *e
	s.m.events[e.ID] = &c
	return nil
}

func (s memEvents) AdjustRegisteredCount(_ context.Context, id int64, delta int) error {
	e, ok := s.m.events[id]
	if !ok {
		return model.ErrNotFound
	}
	e.RegisteredCount += delta
	return nil
}

// ── spaces ────────────────────────────────────────────────────────────────

type memSpaces struct{ m *memStore }

func (s memSpaces) GetByID(_ context.Context, id int64) (*model.Space, error) {
	sp, ok := s.m.spaces[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *sp
	return &c, nil
}

func (s memSpaces) List(_ context.Context, filter model.SpaceFilter) ([]model.Space, error) {
	var out []model.Space
	for _, sp := range s.m.spaces {
		if filter.Matches(*sp) {
			out = append(out, *sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memSpaces) Reservations(_ context.Context, span model.TimeRange) (map[int64][]model.Reservation, error) {
	out := map[int64][]model.Reservation{}
	for _, r := range s.m.reservations {
		if !span.IsZero() && !r.Window().Overlaps(span) {
			continue
		}
		out[r.SpaceID] = append(out[r.SpaceID], *r)
	}
	for id := range out {
		rs := out[id]
		sort.Slice(rs, func(i, j int) bool { return rs[i].StartsAt.Before(rs[j].StartsAt) })
	}
	return out, nil
}

func (s memSpaces) ReservationsForSpace(_ context.Context, spaceID int64, span model.TimeRange) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range s.m.reservations {
		if r.SpaceID != spaceID {
			continue
		}
		if !span.IsZero() && !r.Window().Overlaps(span) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s memSpaces) CreateReservation(_ context.Context, r *model.Reservation) error {
	r.ID = s.m.id()
	c := *r
	s.m.reservations[r.ID] = &c
	return nil
}

func (s memSpaces) DeleteReservationsForEvent(_ context.Context, eventID int64) error {
	for id, r := range s.m.reservations {
		if r.EventID == eventID {
			delete(s.m.reservations, id)
		}
	}
	return nil
}

// ── registrations ─────────────────────────────────────────────────────────

type memRegistrations struct{ m *memStore }

func (s memRegistrations) Create(_ context.Context, r *model.Registration) error {
	r.ID = s.m.id()
	c := *r
	s.m.registrations[r.ID] = &c
	return nil
}

func (s memRegistrations) GetByID(_ context.Context, id int64) (*model.Registration, error) {
	r, ok := s.m.registrations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s memRegistrations) GetForUpdate(ctx context.Context, id int64) (*model.Registration, error) {
	return s.GetByID(ctx, id)
}

func (s memRegistrations) Update(_ context.Context, r *model.Registration) error {
	if _, ok := s.m.registrations[r.ID]; !ok {
		return model.ErrNotFound
	}
	c := *r
	s.m.registrations[r.ID] = &c
	return nil
}

func (s memRegistrations) ListByEvent(_ context.Context, eventID int64) ([]model.Registration, error) {
	var out []model.Registration
	for _, r := range s.m.registrations {
		if r.EventID == eventID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memRegistrations) ListByUser(_ context.Context, userID int64) ([]model.Registration, error) {
	var out []model.Registration
	for _, r := range s.m.registrations {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memRegistrations) ActiveCount(_ context.Context, eventID int64) (int, error) {
	n := 0
	for _, r := range s.m.registrations {
		if r.EventID == eventID && r.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s memRegistrations) HasActive(_ context.Context, eventID, userID int64) (bool, error) {
	for _, r := range s.m.registrations {
		if r.EventID == eventID && r.UserID == userID && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s memRegistrations) ActiveCommitments(_ context.Context, userID int64) ([]model.UserCommitment, error) {
	var out []model.UserCommitment
	for _, r := range s.m.registrations {
		if r.UserID != userID || !r.Status.Active() {
			continue
		}
		ev, ok := s.m.events[r.EventID]
		if !ok {
			continue
		}
		out = append(out, model.UserCommitment{
			RegistrationID: r.ID,
			EventID:        ev.ID,
			EventName:      ev.Name,
			Window:         ev.Window(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegistrationID < out[j].RegistrationID })
	return out, nil
}

func (s memRegistrations) CheckedInEndedBefore(_ context.Context, cutoff time.Time, limit int) ([]model.Registration, error) {
	var out []model.Registration
	for _, r := range s.m.registrations {
		if r.Status != model.StatusCheckedIn {
			continue
		}
		ev, ok := s.m.events[r.EventID]
		if !ok || !ev.EndsAt.Before(cutoff) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// locked* wrap the unlocked views for use outside a transaction.

type lockedEvents struct{ m *memStore }

func (s lockedEvents) Create(ctx context.Context, e *model.Event) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memEvents(s).Create(ctx, e)
}

func (s lockedEvents) GetByID(ctx context.Context, id int64) (*model.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memEvents(s).GetByID(ctx, id)
}

func (s lockedEvents) GetForUpdate(ctx context.Context, id int64) (*model.Event, error) {
	return s.GetByID(ctx, id)
}

func (s lockedEvents) List(ctx context.Context) ([]model.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memEvents(s).List(ctx)
}

func (s lockedEvents) ListByRecurrence(ctx context.Context, rid uuid.UUID) ([]model.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memEvents(s).ListByRecurrence(ctx, rid)
}

func (s lockedEvents) Update(ctx context.Context, e *model.Event) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memEvents(s).Update(ctx, e)
}

func (s lockedEvents) AdjustRegisteredCount(ctx context.Context, id int64, delta int) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memEvents(s).AdjustRegisteredCount(ctx, id, delta)
}

type lockedSpaces struct{ m *memStore }

func (s lockedSpaces) GetByID(ctx context.Context, id int64) (*model.Space, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memSpaces(s).GetByID(ctx, id)
}

func (s lockedSpaces) List(ctx context.Context, f model.SpaceFilter) ([]model.Space, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memSpaces(s).List(ctx, f)
}

func (s lockedSpaces) Reservations(ctx context.Context, span model.TimeRange) (map[int64][]model.Reservation, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memSpaces(s).Reservations(ctx, span)
}

func (s lockedSpaces) ReservationsForSpace(ctx context.Context, spaceID int64, span model.TimeRange) ([]model.Reservation, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memSpaces(s).ReservationsForSpace(ctx, spaceID, span)
}

func (s lockedSpaces) CreateReservation(ctx context.Context, r *model.Reservation) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memSpaces(s).CreateReservation(ctx, r)
}

func (s lockedSpaces) DeleteReservationsForEvent(ctx context.Context, eventID int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memSpaces(s).DeleteReservationsForEvent(ctx, eventID)
}

type lockedRegistrations struct{ m *memStore }

func (s lockedRegistrations) Create(ctx context.Context, r *model.Registration) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).Create(ctx, r)
}

func (s lockedRegistrations) GetByID(ctx context.Context, id int64) (*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).GetByID(ctx, id)
}

func (s lockedRegistrations) GetForUpdate(ctx context.Context, id int64) (*model.Registration, error) {
	return s.GetByID(ctx, id)
}

func (s lockedRegistrations) Update(ctx context.Context, r *model.Registration) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).Update(ctx, r)
}

func (s lockedRegistrations) ListByEvent(ctx context.Context, eventID int64) ([]model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).ListByEvent(ctx, eventID)
}

func (s lockedRegistrations) ListByUser(ctx context.Context, userID int64) ([]model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).ListByUser(ctx, userID)
}

func (s lockedRegistrations) ActiveCount(ctx context.Context, eventID int64) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).ActiveCount(ctx, eventID)
}

func (s lockedRegistrations) HasActive(ctx context.Context, eventID, userID int64) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).HasActive(ctx, eventID, userID)
}

func (s lockedRegistrations) ActiveCommitments(ctx context.Context, userID int64) ([]model.UserCommitment, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).ActiveCommitments(ctx, userID)
}

func (s lockedRegistrations) CheckedInEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return memRegistrations(s).CheckedInEndedBefore(ctx, cutoff, limit)
}
