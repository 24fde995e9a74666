package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/openvenue/scheduler/internal/model"
)

func createOccurrence(t *testing.T, svc *Service, name string, capacity int, d time.Time) model.Event {
	t.Helper()
	events, err := svc.CreateEvent(context.Background(), singleInput(name, capacity, nil, d))
	require.NoError(t, err)
	return events[0]
}

func TestRegisterLifecycle(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ev := createOccurrence(t, svc, "Talk", 10, day(0))

	reg, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.Equal(t, model.StatusRegistered, reg.Status)
	require.False(t, reg.RegisteredAt.IsZero())

	snap, err := svc.GetRegistrationAvailability(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.True(t, snap.IsAlreadyRegistered)
	require.False(t, snap.CanRegister)

	require.NoError(t, svc.CancelRegistration(context.Background(), reg.ID, 42))

	got, err := svc.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	// The slot is free again and the user may register anew; the cancelled
	// row stays as audit trail.
	reg2, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.NotEqual(t, reg.ID, reg2.ID)

	regs, err := svc.ListRegistrations(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, regs, 2)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", 10, day(0))

	_, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), ev.ID, 42)
	var dupErr *model.AlreadyRegisteredError
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, int64(42), dupErr.UserID)
}

func TestRegisterScheduleConflict(t *testing.T) {
	svc := newTestService(newMemStore())
	talk := createOccurrence(t, svc, "Talk", 10, day(0))

	// Same day, overlapping window (both 9-11).
	workshop := createOccurrence(t, svc, "Workshop", 10, day(0))

	_, err := svc.Register(context.Background(), talk.ID, 42)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), workshop.ID, 42)
	var confErr *model.ScheduleConflictError
	require.ErrorAs(t, err, &confErr)
	require.Equal(t, "Talk", confErr.ConflictingEventName)

	// The snapshot reports the same conflict without side effects.
	snap, err := svc.GetRegistrationAvailability(context.Background(), workshop.ID, 42)
	require.NoError(t, err)
	require.True(t, snap.HasScheduleConflict)
	require.Equal(t, "Talk", snap.ConflictingEventName)

	// A different day is fine.
	other := createOccurrence(t, svc, "Other", 10, day(1))
	_, err = svc.Register(context.Background(), other.ID, 42)
	require.NoError(t, err)
}

func TestRegisterCapacityExceeded(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", 1, day(0))

	_, err := svc.Register(context.Background(), ev.ID, 1)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), ev.ID, 2)
	var capErr *model.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 1, capErr.Capacity)
}

func TestRegisterUnlimitedCapacity(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Keynote", 0, day(0))

	for user := int64(1); user <= 25; user++ {
		_, err := svc.Register(context.Background(), ev.ID, user)
		require.NoError(t, err)
	}
}

func TestConcurrentRegistrationsRespectCapacity(t *testing.T) {
	const capacity = 5
	const attempts = 50

	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", capacity, day(0))

	var mu sync.Mutex
	successes, full := 0, 0

	var g errgroup.Group
	for user := int64(1); user <= attempts; user++ {
		user := user
		g.Go(func() error {
			_, err := svc.Register(context.Background(), ev.ID, user)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			default:
				var capErr *model.CapacityExceededError
				if !errors.As(err, &capErr) {
					return err
				}
				full++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, capacity, successes)
	require.Equal(t, attempts-capacity, full)

	count, err := svc.store.Registrations().ActiveCount(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Equal(t, capacity, count)

	got, err := svc.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Equal(t, capacity, got.RegisteredCount)
}

func TestTwoConcurrentRegistrationsCapacityOne(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", 1, day(0))

	errs := make(chan error, 2)
	for user := int64(1); user <= 2; user++ {
		user := user
		go func() {
			_, err := svc.Register(context.Background(), ev.ID, user)
			errs <- err
		}()
	}

	var nilErrs, capErrs int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			nilErrs++
			continue
		}
		var capErr *model.CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		capErrs++
	}
	require.Equal(t, 1, nilErrs)
	require.Equal(t, 1, capErrs)
}

func TestConcurrentRegisterAndCancelKeepInvariant(t *testing.T) {
	const capacity = 3
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", capacity, day(0))

	var g errgroup.Group
	for user := int64(1); user <= 30; user++ {
		user := user
		g.Go(func() error {
			reg, err := svc.Register(context.Background(), ev.ID, user)
			if err != nil {
				var capErr *model.CapacityExceededError
				if errors.As(err, &capErr) {
					return nil
				}
				return err
			}
			if user%2 == 0 {
				return svc.CancelRegistration(context.Background(), reg.ID, user)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	count, err := svc.store.Registrations().ActiveCount(context.Background(), ev.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, count, capacity)

	got, err := svc.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Equal(t, count, got.RegisteredCount)
}

func TestCancelTwiceFails(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", 10, day(0))

	reg, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.NoError(t, svc.CancelRegistration(context.Background(), reg.ID, 42))

	err = svc.CancelRegistration(context.Background(), reg.ID, 42)
	var transErr *model.InvalidStateTransitionError
	require.ErrorAs(t, err, &transErr)
	require.Equal(t, model.StatusCancelled, transErr.From)

	// The counter was freed exactly once.
	got, err := svc.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Zero(t, got.RegisteredCount)
}

func TestCancelForeignRegistrationHidden(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", 10, day(0))

	reg, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)

	err = svc.CancelRegistration(context.Background(), reg.ID, 43)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCheckInAndNoShowReconciliation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ev := createOccurrence(t, svc, "Talk", 10, day(0))

	reg, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.NoError(t, svc.CheckIn(context.Background(), reg.ID))

	got, err := svc.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCheckedIn, got.Status)
	require.NotNil(t, got.AttendedAt)

	// Checked-in registrations still hold the slot.
	count, err := store.Registrations().ActiveCount(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Sweep with the clock moved past the occurrence end plus grace.
	svc.now = func() time.Time { return day(0).Add(13 * time.Hour) }
	marked, err := svc.ReconcileNoShows(context.Background(), time.Hour, 0)
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	got, err = svc.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusNoShow, got.Status)

	// The slot was released.
	count, err = store.Registrations().ActiveCount(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestReconcileSkipsFutureOccurrences(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", 10, day(0))

	reg, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.NoError(t, svc.CheckIn(context.Background(), reg.ID))

	// Clock still before the occurrence's end: nothing to mark.
	svc.now = func() time.Time { return day(0).Add(10 * time.Hour) }
	marked, err := svc.ReconcileNoShows(context.Background(), time.Hour, 0)
	require.NoError(t, err)
	require.Zero(t, marked)
}

func TestCheckInRequiresRegistered(t *testing.T) {
	svc := newTestService(newMemStore())
	ev := createOccurrence(t, svc, "Talk", 10, day(0))

	reg, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.NoError(t, svc.CancelRegistration(context.Background(), reg.ID, 42))

	err = svc.CheckIn(context.Background(), reg.ID)
	var transErr *model.InvalidStateTransitionError
	require.ErrorAs(t, err, &transErr)
}

// conflictStore fails WithinTx with ErrTxConflict a fixed number of times
// before delegating, simulating lost serialization races.
type conflictStore struct {
	Store
	mu        sync.Mutex
	remaining int
}

func (c *conflictStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	c.mu.Lock()
	if c.remaining > 0 {
		c.remaining--
		c.mu.Unlock()
		return ErrTxConflict
	}
	c.mu.Unlock()
	return c.Store.WithinTx(ctx, fn)
}

func TestRegisterRetriesTransientConflicts(t *testing.T) {
	mem := newMemStore()
	seeded := newTestService(mem)
	ev := createOccurrence(t, seeded, "Talk", 10, day(0))

	svc := New(&conflictStore{Store: mem, remaining: 2}, nil, nil, Config{RegisterRetries: 3})
	reg, err := svc.Register(context.Background(), ev.ID, 42)
	require.NoError(t, err)
	require.NotNil(t, reg)
}

func TestRegisterGivesUpAfterRetryBudget(t *testing.T) {
	mem := newMemStore()
	seeded := newTestService(mem)
	ev := createOccurrence(t, seeded, "Talk", 10, day(0))

	svc := New(&conflictStore{Store: mem, remaining: 10}, nil, nil, Config{RegisterRetries: 2})
	_, err := svc.Register(context.Background(), ev.ID, 42)
	require.ErrorIs(t, err, ErrTxConflict)
}
