// Package generator turns a slot generation policy into candidate
// intervals. It knows nothing about bookings; de-duplication against
// existing commitments belongs to the conflict package.
package generator

import (
	"iter"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// Generate returns a lazy, finite sequence of candidates for p evaluated at
// now. Days run from now's calendar day through now+HorizonDays in the
// policy location; candidates that do not start strictly after now are
// dropped. The sequence is chronological and may be ranged over more than
// once with the same result.
func Generate(p Policy, now time.Time) (iter.Seq[timeslot.Interval], error) {
	c, err := compile(p)
	if err != nil {
		return nil, err
	}
	return func(yield func(timeslot.Interval) bool) {
		local := now.In(c.loc)
		first := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
		for d := 0; d <= c.horizon; d++ {
			day := first.AddDate(0, 0, d)
			if !c.days.Keep(day.Weekday()) {
				continue
			}
			for _, ck := range c.clocks {
				start := time.Date(day.Year(), day.Month(), day.Day(), ck.hour, ck.minute, 0, 0, c.loc)
				if !start.After(now) {
					continue
				}
				iv, err := timeslot.FromMinutes(start, c.duration)
				if err != nil {
					// unreachable: compile rejects non-positive durations
					return
				}
				if !yield(iv) {
					return
				}
			}
		}
	}, nil
}

// Collect drains seq into a slice, stopping after limit items when limit > 0.
func Collect(seq iter.Seq[timeslot.Interval], limit int) []timeslot.Interval {
	out := []timeslot.Interval{}
	for iv := range seq {
		out = append(out, iv)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Preview generates and collects up to limit candidates.
func Preview(p Policy, now time.Time, limit int) ([]timeslot.Interval, error) {
	seq, err := Generate(p, now)
	if err != nil {
		return nil, err
	}
	return Collect(seq, limit), nil
}

// Next returns the earliest candidate of p after now.
func Next(p Policy, now time.Time) (timeslot.Interval, bool, error) {
	seq, err := Generate(p, now)
	if err != nil {
		return timeslot.Interval{}, false, err
	}
	for iv := range seq {
		return iv, true, nil
	}
	return timeslot.Interval{}, false, nil
}
