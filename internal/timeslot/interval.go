// Package timeslot holds the canonical bookable interval and the overlap
// arithmetic every other scheduling package builds on.
//
// Intervals are half-open: [start, end). Two intervals that only touch at a
// boundary do not overlap. All instants are normalised to UTC on
// construction so that arithmetic runs on a single linear timeline.
package timeslot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned when an interval would end at or before
// its start. It is a caller error and is never retried.
var ErrInvalidInterval = errors.New("invalid interval: end must be after start")

// Interval is an immutable [start, end) time range.
// The zero value is not a valid interval; use New or FromMinutes.
type Interval struct {
	start time.Time
	end   time.Time
}

// New builds an interval from two instants.
func New(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, fmt.Errorf("%w (start=%s end=%s)", ErrInvalidInterval,
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	return Interval{start: start.UTC(), end: end.UTC()}, nil
}

// FromMinutes builds an interval that starts at start and lasts minutes.
func FromMinutes(start time.Time, minutes int) (Interval, error) {
	return New(start, start.Add(time.Duration(minutes)*time.Minute))
}

// Start returns the inclusive lower bound in UTC.
func (i Interval) Start() time.Time { return i.start }

// End returns the exclusive upper bound in UTC.
func (i Interval) End() time.Time { return i.end }

// Duration of the interval.
func (i Interval) Duration() time.Duration { return i.end.Sub(i.start) }

// DurationMinutes is the duration truncated to whole minutes.
func (i Interval) DurationMinutes() int { return int(i.Duration() / time.Minute) }

// IsZero reports whether i is the zero value.
func (i Interval) IsZero() bool { return i.start.IsZero() && i.end.IsZero() }

// Validate reports ErrInvalidInterval for the zero value or any interval
// that did not come from New.
func (i Interval) Validate() error {
	if !i.end.After(i.start) {
		return ErrInvalidInterval
	}
	return nil
}

// Overlaps reports whether i and o share any instant.
func (i Interval) Overlaps(o Interval) bool { return Overlaps(i, o) }

// Shift moves the interval by d keeping its duration.
func (i Interval) Shift(d time.Duration) Interval {
	return Interval{start: i.start.Add(d), end: i.end.Add(d)}
}

// Halves bisects the interval into two back-to-back intervals of equal
// duration. Odd nanosecond durations leave the extra nanosecond in the
// second half.
func (i Interval) Halves() (Interval, Interval) {
	mid := i.start.Add(i.Duration() / 2)
	return Interval{start: i.start, end: mid}, Interval{start: mid, end: i.end}
}

// ClockTime renders the start as "HH:MM" in loc (UTC when loc is nil).
func (i Interval) ClockTime(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return i.start.In(loc).Format("15:04")
}

// Equal reports whether both bounds are the same instants.
func (i Interval) Equal(o Interval) bool {
	return i.start.Equal(o.start) && i.end.Equal(o.end)
}

func (i Interval) String() string {
	return i.start.Format(time.RFC3339) + "/" + i.end.Format(time.RFC3339)
}

// Overlaps is true iff a.start < b.end and b.start < a.end.
func Overlaps(a, b Interval) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

// IsFuture is true iff the interval starts strictly after now.
func IsFuture(i Interval, now time.Time) bool {
	return i.start.After(now)
}

// OverlapDuration returns how long a and b overlap, zero when they don't.
func OverlapDuration(a, b Interval) time.Duration {
	if !Overlaps(a, b) {
		return 0
	}
	lo := a.start
	if b.start.After(lo) {
		lo = b.start
	}
	hi := a.end
	if b.end.Before(hi) {
		hi = b.end
	}
	return hi.Sub(lo)
}

type wireInterval struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

// MarshalJSON encodes the interval as RFC3339 instants with offset.
func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireInterval{Start: i.start, End: i.end, DurationMinutes: i.DurationMinutes()})
}

// UnmarshalJSON decodes {"start","end"}; duration_minutes is used only when
// end is omitted.
func (i *Interval) UnmarshalJSON(b []byte) error {
	var w wireInterval
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	end := w.End
	if end.IsZero() && w.DurationMinutes > 0 {
		end = w.Start.Add(time.Duration(w.DurationMinutes) * time.Minute)
	}
	v, err := New(w.Start, end)
	if err != nil {
		return err
	}
	*i = v
	return nil
}
