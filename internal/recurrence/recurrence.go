// Package recurrence expands recurring schedules into concrete occurrences.
// Expansion is a pure function of its inputs, so edits can re-validate a
// series by replaying it.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/openvenue/scheduler/internal/model"
)

// DefaultMaxOccurrences caps a single expansion. A daily series spanning one
// year stays under it; anything larger is rejected as malformed input.
const DefaultMaxOccurrences = 366

// Expander turns recurring schedules into bounded occurrence sequences.
type Expander struct {
	maxOccurrences int
}

// NewExpander builds an Expander with the given occurrence cap. A
// non-positive cap falls back to DefaultMaxOccurrences.
func NewExpander(maxOccurrences int) *Expander {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Expander{maxOccurrences: maxOccurrences}
}

// ExpandSchedule expands either schedule variant: a single schedule yields
// exactly one occurrence, a recurring schedule one occurrence per step.
func (e *Expander) ExpandSchedule(s model.Schedule) ([]model.Occurrence, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Single != nil {
		w := model.WindowOn(s.Single.Date, s.Single.StartTime, s.Single.EndTime)
		return []model.Occurrence{{
			Date:     model.DateOnly(s.Single.Date),
			StartsAt: w.Start,
			EndsAt:   w.End,
		}}, nil
	}
	return e.Expand(*s.Recurring)
}

// Expand produces the ordered, deduplicated occurrence sequence for a
// recurring schedule, from StartDate through EndDate inclusive, stepping by
// the recurrence type's period. Monthly steps clamp to the last valid day of
// shorter months (Jan 31 -> Feb 28/29).
func (e *Expander) Expand(sched model.RecurringSchedule) ([]model.Occurrence, error) {
	if err := (model.Schedule{Recurring: &sched}).Validate(); err != nil {
		return nil, err
	}

	start := model.DateOnly(sched.StartDate)
	end := model.DateOnly(sched.EndDate)

	rule, err := buildRule(sched.Type, start, end)
	if err != nil {
		return nil, &model.InvalidScheduleError{Reason: err.Error()}
	}

	dates := rule.All()
	if len(dates) == 0 {
		return nil, &model.InvalidScheduleError{Reason: "schedule yields no occurrences"}
	}
	if len(dates) > e.maxOccurrences {
		return nil, &model.InvalidScheduleError{
			Reason: fmt.Sprintf("schedule yields %d occurrences, cap is %d", len(dates), e.maxOccurrences),
		}
	}

	out := make([]model.Occurrence, 0, len(dates))
	var prev model.Occurrence
	for _, d := range dates {
		date := model.DateOnly(d)
		if len(out) > 0 && date.Equal(prev.Date) {
			continue
		}
		w := model.WindowOn(date, sched.StartTime, sched.EndTime)
		prev = model.Occurrence{Date: date, StartsAt: w.Start, EndsAt: w.End}
		out = append(out, prev)
	}
	return out, nil
}

// buildRule translates a recurrence type into an RRULE over [start, end].
// Monthly rules starting on day 29-31 enumerate the trailing month days and
// pick the last one present, which clamps short months instead of skipping
// them (plain BYMONTHDAY would drop February entirely for a day-31 series).
func buildRule(t model.RecurrenceType, start, end time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart: start,
		Until:   end,
	}
	switch t {
	case model.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case model.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
	case model.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day >= 29 {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return nil, fmt.Errorf("unknown recurrence type %q", t)
	}
	return rrule.NewRRule(opt)
}
