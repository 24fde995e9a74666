package model

import "time"

// TimeRange is a half-open interval [Start, End). Half-open comparison makes
// back-to-back bookings legal: a range ending at 10:00 does not overlap one
// starting at 10:00.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether r and other share any instant.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// IsZero reports whether both bounds are unset.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// DateOnly truncates t to midnight UTC, the canonical representation of an
// occurrence date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WindowOn builds the half-open interval for the given date and
// start/end-of-day offsets.
func WindowOn(date time.Time, startTime, endTime time.Duration) TimeRange {
	day := DateOnly(date)
	return TimeRange{Start: day.Add(startTime), End: day.Add(endTime)}
}
