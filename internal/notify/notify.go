// Package notify is the engine's notification/report sink. Delivery is
// fire-and-forget: implementations must never block or fail a state
// transition.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/openvenue/scheduler/internal/model"
)

// Notifier receives domain state transitions after they commit.
type Notifier interface {
	EventsCreated(events []model.Event)
	EventUpdated(event model.Event, updated int)
	RegistrationCreated(reg model.Registration, event model.Event)
	RegistrationCancelled(reg model.Registration, event model.Event)
}

// LogNotifier writes every transition to the structured log. It stands in
// for the e-mail/report pipeline in development and tests.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier builds a LogNotifier on the given logger.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) EventsCreated(events []model.Event) {
	if len(events) == 0 {
		return
	}
	n.log.Info().
		Str("name", events[0].Name).
		Int("occurrences", len(events)).
		Msg("events created")
}

func (n *LogNotifier) EventUpdated(event model.Event, updated int) {
	n.log.Info().
		Int64("event_id", event.ID).
		Int("occurrences", updated).
		Msg("event updated")
}

func (n *LogNotifier) RegistrationCreated(reg model.Registration, event model.Event) {
	n.log.Info().
		Int64("registration_id", reg.ID).
		Int64("event_id", event.ID).
		Int64("user_id", reg.UserID).
		Msg("registration created")
}

func (n *LogNotifier) RegistrationCancelled(reg model.Registration, event model.Event) {
	n.log.Info().
		Int64("registration_id", reg.ID).
		Int64("event_id", event.ID).
		Int64("user_id", reg.UserID).
		Msg("registration cancelled")
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) EventsCreated([]model.Event)                            {}
func (Nop) EventUpdated(model.Event, int)                          {}
func (Nop) RegistrationCreated(model.Registration, model.Event)    {}
func (Nop) RegistrationCancelled(model.Registration, model.Event)  {}
