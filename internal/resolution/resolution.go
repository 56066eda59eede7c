// Package resolution proposes ranked alternatives for a detected conflict.
// Proposals are computed on demand and never stored; the caller applies one
// or discards them all.
package resolution

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// ErrGenerationExhausted is returned when no strategy found a conflict-free
// proposal within the attempt bound.
var ErrGenerationExhausted = errors.New("no conflict-free alternative found within the attempt bound")

// Kind is the closed set of resolution strategies.
type Kind string

const (
	Reschedule  Kind = "reschedule"
	Split       Kind = "split"
	Merge       Kind = "merge"
	AddCapacity Kind = "add_capacity"
)

// Resolution is one proposed way out of a conflict. Pros and Cons are never
// empty.
type Resolution struct {
	ID          string              `json:"id"`
	ConflictID  string              `json:"conflict_id"`
	Kind        Kind                `json:"kind"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Proposed    []timeslot.Interval `json:"proposed_intervals"`
	Confidence  float64             `json:"confidence"`
	Pros        []string            `json:"pros"`
	Cons        []string            `json:"cons"`
}

type copyText struct {
	title, description string
	pros, cons         []string
}

var texts = map[Kind]copyText{
	Reschedule: {
		title:       "Reschedule to Next Available Slot",
		description: "Move the session to the next available time slot that doesn't conflict.",
		pros:        []string{"No time conflicts", "Maintains session duration", "Quick resolution"},
		cons:        []string{"May not be ideal for students", "Requires notification"},
	},
	Split: {
		title:       "Split into Two Shorter Sessions",
		description: "Divide the session into two shorter sessions to avoid conflicts.",
		pros:        []string{"Maintains total learning time", "Flexible scheduling", "Reduces conflicts"},
		cons:        []string{"May disrupt learning flow", "Requires coordination"},
	},
	AddCapacity: {
		title:       "Create Additional Session",
		description: "Schedule an additional session to accommodate all students.",
		pros:        []string{"Accommodates all students", "Maintains session quality", "Clear solution"},
		cons:        []string{"Requires additional time commitment", "May need venue"},
	},
	Merge: {
		title:       "Find Compromise Time",
		description: "Find a time that works for all parties involved.",
		pros:        []string{"Satisfies all parties", "Maintains relationships", "Fair solution"},
		cons:        []string{"May not be ideal for anyone", "Requires negotiation"},
	},
}

func newResolution(conflictID string, kind Kind, confidence float64, proposed []timeslot.Interval, extraCons ...string) Resolution {
	tx := texts[kind]
	cons := append(append([]string{}, tx.cons...), extraCons...)
	return Resolution{
		ConflictID:  conflictID,
		Kind:        kind,
		Title:       tx.title,
		Description: tx.description,
		Proposed:    proposed,
		Confidence:  clamp(confidence),
		Pros:        append([]string{}, tx.pros...),
		Cons:        cons,
	}
}

// clamp keeps confidence in [0,1] at two decimals.
func clamp(v float64) float64 {
	v = math.Round(v*100) / 100
	return math.Max(0, math.Min(1, v))
}

var idNamespace = uuid.MustParse("0b9c2d4e-7a61-4f3b-8e25-c1d9f0a6b7e3")

func (r *Resolution) assignID() {
	parts := []string{r.ConflictID, string(r.Kind)}
	for _, iv := range r.Proposed {
		parts = append(parts, iv.String())
	}
	r.ID = uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}

// rank orders by confidence, then by earliest first proposed start.
func rank(rs []Resolution) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Confidence != rs[j].Confidence {
			return rs[i].Confidence > rs[j].Confidence
		}
		return rs[i].Proposed[0].Start().Before(rs[j].Proposed[0].Start())
	})
}
