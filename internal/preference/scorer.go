// Package preference ranks candidate slots for one student. Scores are
// advisory: they order what is shown and seed preference-mismatch
// conflicts, they never block a claim.
package preference

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

type LearningStyle string

const (
	Visual      LearningStyle = "visual"
	Auditory    LearningStyle = "auditory"
	Kinesthetic LearningStyle = "kinesthetic"
	Reading     LearningStyle = "reading"
)

type Engagement string

const (
	EngagementHigh   Engagement = "high"
	EngagementMedium Engagement = "medium"
	EngagementLow    Engagement = "low"
)

// Profile is what the scorer knows about a student, stated or inferred.
type Profile struct {
	ConsumerID     uint64        `json:"consumer_id"`
	PreferredTimes []string      `json:"preferred_times"` // HH:MM, matched exactly
	LearningStyle  LearningStyle `json:"learning_style"`
	Engagement     Engagement    `json:"engagement_level"`
	Timezone       string        `json:"timezone,omitempty"`
}

// Location resolves Timezone, falling back to UTC.
func (p Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

const (
	ReasonPreferredTime  = "Matches your preferred time"
	ReasonVisualWindow   = "Optimal for visual learning"
	ReasonHighEngagement = "High engagement expected"
	ReasonFallback       = "Good availability and student compatibility"
)

// Weights are the scoring constants. VisualFrom and VisualTo bound the
// visual-learning window inclusively.
type Weights struct {
	Base           float64
	PreferredTime  float64
	VisualWindow   float64
	HighEngagement float64
	VisualFrom     string
	VisualTo       string
}

func DefaultWeights() Weights {
	return Weights{Base: 0.5, PreferredTime: 0.3, VisualWindow: 0.1, HighEngagement: 0.1, VisualFrom: "09:00", VisualTo: "11:00"}
}

// Score is a value in [0,1] with the rules that produced it.
type Score struct {
	Value     float64  `json:"score"`
	Reasoning string   `json:"reasoning"`
	Rules     []string `json:"rules"`
}

// Scorer is stateless.
type Scorer struct {
	w Weights
}

// NewScorer uses DefaultWeights for a zero Weights and fills an empty
// visual window.
func NewScorer(w Weights) Scorer {
	if w == (Weights{}) {
		return Scorer{w: DefaultWeights()}
	}
	def := DefaultWeights()
	if w.VisualFrom == "" {
		w.VisualFrom = def.VisualFrom
	}
	if w.VisualTo == "" {
		w.VisualTo = def.VisualTo
	}
	return Scorer{w: w}
}

func (s Scorer) Weights() Weights { return s.w }

// Score rates candidate for p. Time of day is read in the profile's zone.
func (s Scorer) Score(candidate timeslot.Interval, p Profile) Score {
	hhmm := candidate.ClockTime(p.Location())
	value := s.w.Base
	rules := []string{}

	for _, t := range p.PreferredTimes {
		if t == hhmm {
			value += s.w.PreferredTime
			rules = append(rules, ReasonPreferredTime)
			break
		}
	}
	if p.LearningStyle == Visual && hhmm >= s.w.VisualFrom && hhmm <= s.w.VisualTo {
		value += s.w.VisualWindow
		rules = append(rules, ReasonVisualWindow)
	}
	if p.Engagement == EngagementHigh {
		value += s.w.HighEngagement
		rules = append(rules, ReasonHighEngagement)
	}

	value = math.Max(0, math.Min(1, math.Round(value*100)/100))
	reasoning := ReasonFallback
	if len(rules) > 0 {
		reasoning = strings.Join(rules, ", ")
	}
	return Score{Value: value, Reasoning: reasoning, Rules: rules}
}

// Ranked pairs a candidate with its score.
type Ranked struct {
	Interval timeslot.Interval `json:"interval"`
	Score
}

// Rank scores every candidate and orders best first, earliest on ties.
func (s Scorer) Rank(candidates []timeslot.Interval, p Profile) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Ranked{Interval: c, Score: s.Score(c, p)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Interval.Start().Before(out[j].Interval.Start())
	})
	return out
}

// Mismatch raises a PreferenceMismatch when slot scores below threshold.
// The conflict's subject is the student's preferred time closest to the
// slot on the same local day. Profiles without preferred times never
// mismatch since there is nothing to compromise towards.
func (s Scorer) Mismatch(slot conflict.Commitment, p Profile, threshold float64) (conflict.Conflict, bool) {
	sc := s.Score(slot.Interval, p)
	if sc.Value >= threshold {
		return conflict.Conflict{}, false
	}
	preferred, ok := closestPreferred(slot.Interval, p)
	if !ok {
		return conflict.Conflict{}, false
	}
	gap := threshold - sc.Value
	sev := conflict.Low
	switch {
	case gap >= 0.3:
		sev = conflict.High
	case gap >= 0.15:
		sev = conflict.Medium
	}
	return conflict.NewPreferenceMismatch(preferred, slot, sev), true
}

func closestPreferred(slot timeslot.Interval, p Profile) (timeslot.Interval, bool) {
	loc := p.Location()
	local := slot.Start().In(loc)
	var best timeslot.Interval
	var bestGap time.Duration = -1
	for _, t := range p.PreferredTimes {
		at, err := time.ParseInLocation("15:04", t, loc)
		if err != nil {
			continue
		}
		start := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, loc)
		iv, err := timeslot.New(start, start.Add(slot.Duration()))
		if err != nil {
			continue
		}
		gap := start.Sub(slot.Start())
		if gap < 0 {
			gap = -gap
		}
		if bestGap < 0 || gap < bestGap {
			best, bestGap = iv, gap
		}
	}
	return best, bestGap >= 0
}
