// Package service implements the scheduling engine: recurrence expansion,
// space availability resolution, registration availability, the registration
// state machine and recurring-update propagation. It orchestrates the store
// layer and is the only writer of occupancy counters and reservation sets.
package service

import (
	"context"
	"time"

	"github.com/openvenue/scheduler/internal/model"
	"github.com/openvenue/scheduler/internal/notify"
	"github.com/openvenue/scheduler/internal/recurrence"
)

// Config tunes engine behavior.
type Config struct {
	// MaxOccurrences caps recurrence expansion.
	MaxOccurrences int
	// RegisterRetries bounds transparent retries after a lost capacity
	// race.
	RegisterRetries int
	// AvailabilityTTL is how long a FindAvailableSpaces answer may be
	// served from cache. Zero disables caching.
	AvailabilityTTL time.Duration
}

// AvailabilityCache caches interactive availability answers. Implemented by
// cache.RedisCache; a nil cache disables caching.
type AvailabilityCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Service is the scheduling engine facade consumed by the API layer.
type Service struct {
	store    Store
	cache    AvailabilityCache
	notifier notify.Notifier
	expander *recurrence.Expander

	registerRetries int
	availabilityTTL time.Duration
	now             func() time.Time
}

// New constructs the engine. cache may be nil; notifier may be nil, in which
// case transitions are not reported anywhere.
func New(store Store, cache AvailabilityCache, notifier notify.Notifier, cfg Config) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.RegisterRetries <= 0 {
		cfg.RegisterRetries = 3
	}
	return &Service{
		store:           store,
		cache:           cache,
		notifier:        notifier,
		expander:        recurrence.NewExpander(cfg.MaxOccurrences),
		registerRetries: cfg.RegisterRetries,
		availabilityTTL: cfg.AvailabilityTTL,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ExpandRecurrence exposes pure schedule expansion, used by the API layer
// for previews while a user edits a form.
func (s *Service) ExpandRecurrence(sched model.Schedule) ([]model.Occurrence, error) {
	return s.expander.ExpandSchedule(sched)
}
