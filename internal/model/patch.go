package model

import "time"

// Patchable field names, stored in Event.OverriddenFields when a single
// occurrence diverges from its series.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldCapacity    = "capacity"
	FieldSpace       = "space"
	FieldCategory    = "category"
	FieldModality    = "modality"
	FieldDate        = "date"
	FieldStartTime   = "start_time"
	FieldEndTime     = "end_time"
)

// EventPatch is a partial edit of an event. Nil fields are left untouched.
type EventPatch struct {
	Name        *string
	Description *string
	Capacity    *int
	SpaceID     *int64
	ClearSpace  bool
	CategoryID  *int64
	ModalityID  *int64
	Date        *time.Time
	StartTime   *time.Duration
	EndTime     *time.Duration
}

// Fields lists the names of the fields the patch sets.
func (p EventPatch) Fields() []string {
	var out []string
	if p.Name != nil {
		out = append(out, FieldName)
	}
	if p.Description != nil {
		out = append(out, FieldDescription)
	}
	if p.Capacity != nil {
		out = append(out, FieldCapacity)
	}
	if p.SpaceID != nil || p.ClearSpace {
		out = append(out, FieldSpace)
	}
	if p.CategoryID != nil {
		out = append(out, FieldCategory)
	}
	if p.ModalityID != nil {
		out = append(out, FieldModality)
	}
	if p.Date != nil {
		out = append(out, FieldDate)
	}
	if p.StartTime != nil {
		out = append(out, FieldStartTime)
	}
	if p.EndTime != nil {
		out = append(out, FieldEndTime)
	}
	return out
}

// TouchesSchedule reports whether the patch changes the occurrence's time
// window.
func (p EventPatch) TouchesSchedule() bool {
	return p.Date != nil || p.StartTime != nil || p.EndTime != nil
}

// TouchesSpace reports whether the patch changes the space binding.
func (p EventPatch) TouchesSpace() bool {
	return p.SpaceID != nil || p.ClearSpace
}

// Apply writes the patch onto e, skipping any field named in skip (used by
// series-wide edits to respect per-occurrence overrides). The occurrence's
// time window is recomputed when date or times change. Returns the names of
// the fields actually applied.
func (p EventPatch) Apply(e *Event, skip map[string]bool) []string {
	var applied []string
	set := func(field string, fn func()) {
		if skip[field] {
			return
		}
		fn()
		applied = append(applied, field)
	}

	if p.Name != nil {
		set(FieldName, func() { e.Name = *p.Name })
	}
	if p.Description != nil {
		set(FieldDescription, func() { e.Description = *p.Description })
	}
	if p.Capacity != nil {
		set(FieldCapacity, func() { e.Capacity = *p.Capacity })
	}
	if p.ClearSpace {
		set(FieldSpace, func() { e.SpaceID = nil })
	} else if p.SpaceID != nil {
		set(FieldSpace, func() { id := *p.SpaceID; e.SpaceID = &id })
	}
	if p.CategoryID != nil {
		set(FieldCategory, func() { id := *p.CategoryID; e.CategoryID = &id })
	}
	if p.ModalityID != nil {
		set(FieldModality, func() { id := *p.ModalityID; e.ModalityID = &id })
	}

	start := e.StartsAt.Sub(DateOnly(e.Date))
	end := e.EndsAt.Sub(DateOnly(e.Date))
	reclock := false
	if p.Date != nil {
		set(FieldDate, func() { e.Date = DateOnly(*p.Date); reclock = true })
	}
	if p.StartTime != nil {
		set(FieldStartTime, func() { start = *p.StartTime; reclock = true })
	}
	if p.EndTime != nil {
		set(FieldEndTime, func() { end = *p.EndTime; reclock = true })
	}
	if reclock {
		w := WindowOn(e.Date, start, end)
		e.StartsAt = w.Start
		e.EndsAt = w.End
	}
	return applied
}

// MarkOverridden records field names as overridden on the occurrence,
// deduplicating against what is already tracked.
func (e *Event) MarkOverridden(fields []string) {
	seen := make(map[string]bool, len(e.OverriddenFields))
	for _, f := range e.OverriddenFields {
		seen[f] = true
	}
	for _, f := range fields {
		if !seen[f] {
			e.OverriddenFields = append(e.OverriddenFields, f)
			seen[f] = true
		}
	}
}

// Overrides returns the occurrence's overridden fields as a lookup set.
func (e *Event) Overrides() map[string]bool {
	if len(e.OverriddenFields) == 0 {
		return nil
	}
	out := make(map[string]bool, len(e.OverriddenFields))
	for _, f := range e.OverriddenFields {
		out[f] = true
	}
	return out
}
