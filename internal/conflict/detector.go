package conflict

import (
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// DefaultHighOverlapRatio is the share of the shorter interval an overlap
// must cover to count as High. Equal to the ratio is High.
const DefaultHighOverlapRatio = 0.5

// Intent says what the caller wants to do with the candidate.
type Intent int

const (
	// IntentAdd adds a consumer to whatever occupies the candidate time.
	IntentAdd Intent = iota
	// IntentReplace puts a new slot in place of the candidate time.
	IntentReplace
)

// Detector is stateless; the zero value uses DefaultHighOverlapRatio.
type Detector struct {
	HighOverlapRatio float64
}

// NewDetector returns a detector with ratio, falling back to the default
// for values outside (0, 1].
func NewDetector(ratio float64) Detector {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultHighOverlapRatio
	}
	return Detector{HighOverlapRatio: ratio}
}

func (d Detector) ratio() float64 {
	if d.HighOverlapRatio <= 0 || d.HighOverlapRatio > 1 {
		return DefaultHighOverlapRatio
	}
	return d.HighOverlapRatio
}

// Severity grades the overlap of a and b against the shorter of the two.
func (d Detector) Severity(a, b timeslot.Interval) Severity {
	ov := timeslot.OverlapDuration(a, b)
	if ov <= 0 {
		return Low
	}
	shorter := a.Duration()
	if b.Duration() < shorter {
		shorter = b.Duration()
	}
	if float64(ov)/float64(shorter) >= d.ratio() {
		return High
	}
	return Medium
}

func (d Detector) classify(candidate timeslot.Interval, c Commitment, intent Intent) (Conflict, bool) {
	if !timeslot.Overlaps(candidate, c.Interval) {
		return Conflict{}, false
	}
	kind := TimeOverlap
	if c.Full && intent == IntentAdd {
		kind = CapacityExceeded
	}
	return newConflict(kind, d.Severity(candidate, c.Interval), candidate, c), true
}

// Detect returns the conflict with the first overlapping commitment in
// existing order.
func (d Detector) Detect(candidate timeslot.Interval, existing []Commitment, intent Intent) (Conflict, bool) {
	for _, c := range existing {
		if cf, ok := d.classify(candidate, c, intent); ok {
			return cf, true
		}
	}
	return Conflict{}, false
}

// DetectAll returns a conflict for every overlapping commitment.
func (d Detector) DetectAll(candidate timeslot.Interval, existing []Commitment, intent Intent) []Conflict {
	var out []Conflict
	for _, c := range existing {
		if cf, ok := d.classify(candidate, c, intent); ok {
			out = append(out, cf)
		}
	}
	return out
}

// Free reports whether candidate overlaps none of existing.
func (d Detector) Free(candidate timeslot.Interval, existing []Commitment) bool {
	_, hit := d.Detect(candidate, existing, IntentReplace)
	return !hit
}

// Scan reports every pair of commitments that overlap and have not yet
// ended at now. Each pair is reported once, with the earlier item in
// input order as the subject.
func (d Detector) Scan(now time.Time, commitments []Commitment) []Conflict {
	live := make([]Commitment, 0, len(commitments))
	for _, c := range commitments {
		if c.Interval.End().After(now) {
			live = append(live, c)
		}
	}
	var out []Conflict
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if cf, ok := d.classify(live[i].Interval, live[j], IntentReplace); ok {
				out = append(out, cf)
			}
		}
	}
	return out
}
