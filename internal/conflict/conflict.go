// Package conflict decides whether a candidate interval collides with
// existing commitments and how badly. Conflicts are derived values; they
// are recomputed on demand and never stored.
package conflict

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// Kind is the closed set of conflict variants.
type Kind string

const (
	TimeOverlap        Kind = "time_overlap"
	CapacityExceeded   Kind = "capacity_exceeded"
	PreferenceMismatch Kind = "preference_mismatch"
)

// Severity orders conflicts for resolution ranking.
type Severity int

const (
	Low Severity = iota
	Medium
	High
)

func (s Severity) String() string {
	switch s {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "high":
		*s = High
	case "medium":
		*s = Medium
	case "low":
		*s = Low
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// RefKind tells what a Ref points at.
type RefKind string

const (
	RefBroadcast RefKind = "broadcast"
	RefSlot      RefKind = "slot"
	RefCalendar  RefKind = "calendar" // busy time imported from an external calendar
)

// Ref identifies the commitment a conflict is with.
type Ref struct {
	Kind        RefKind `json:"kind"`
	ID          uint64  `json:"id,omitempty"`
	BroadcastID uint64  `json:"broadcast_id,omitempty"`
	ExternalID  string  `json:"external_id,omitempty"`
}

func (r Ref) String() string {
	if r.ExternalID != "" {
		return string(r.Kind) + ":" + r.ExternalID
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Commitment is an existing interval together with its owner reference.
// Full marks a slot whose bookings have reached capacity.
type Commitment struct {
	Ref      Ref               `json:"ref"`
	Interval timeslot.Interval `json:"interval"`
	Full     bool              `json:"full,omitempty"`
}

// Conflict describes one collision between a subject interval and a
// commitment.
type Conflict struct {
	ID             string            `json:"id"`
	Kind           Kind              `json:"kind"`
	Severity       Severity          `json:"severity"`
	Subject        timeslot.Interval `json:"subject_interval"`
	With           Ref               `json:"conflicting_with"`
	WithInterval   timeslot.Interval `json:"conflicting_interval"`
	OverlapMinutes int               `json:"overlap_minutes"`
}

var idNamespace = uuid.MustParse("6f1c8f5e-2b1d-4a7e-9c3f-5d2a8b4e7c10")

// conflictID is stable for identical inputs so repeated scans agree.
func conflictID(kind Kind, subject timeslot.Interval, with Ref, withIv timeslot.Interval) string {
	name := strings.Join([]string{string(kind), subject.String(), with.String(), withIv.String()}, "|")
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

func newConflict(kind Kind, sev Severity, subject timeslot.Interval, c Commitment) Conflict {
	return Conflict{
		ID:             conflictID(kind, subject, c.Ref, c.Interval),
		Kind:           kind,
		Severity:       sev,
		Subject:        subject,
		With:           c.Ref,
		WithInterval:   c.Interval,
		OverlapMinutes: int(timeslot.OverlapDuration(subject, c.Interval).Minutes()),
	}
}

// NewPreferenceMismatch builds the conflict the preference scorer raises
// when a scheduled slot scores below the caller's threshold. preferred is
// the consumer's closest preferred window.
func NewPreferenceMismatch(preferred timeslot.Interval, slot Commitment, sev Severity) Conflict {
	return newConflict(PreferenceMismatch, sev, preferred, slot)
}
