package resolution

import (
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/generator"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// Config holds the heuristic constants. They are a starting calibration;
// downstream ranking depends on their relative order, so change them
// together.
type Config struct {
	MaxAttempts         int     // candidates tried per search before giving up
	HorizonDays         int     // how far ahead regenerated candidates may go
	Reschedule          float64 // starting confidence for Reschedule
	RescheduleDecay     float64 // subtracted per rejected candidate
	Split               float64 // both halves conflict-free in place
	SplitMovedPenalty   float64 // subtracted per half that had to move
	AddCapacity         float64
	Merge               float64 // first compromise window
	MergeDecay          float64 // subtracted for each further window
	MergeOverlapPenalty float64 // compromise overlaps another commitment
}

// DefaultConfig returns the stock calibration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         10,
		HorizonDays:         14,
		Reschedule:          0.85,
		RescheduleDecay:     0.05,
		Split:               0.75,
		SplitMovedPenalty:   0.15,
		AddCapacity:         0.88,
		Merge:               0.65,
		MergeDecay:          0.05,
		MergeOverlapPenalty: 0.15,
	}
}

// Context carries what the engine may consult besides the conflict.
type Context struct {
	// Now bounds AddCapacity searches; zero means the engine clock.
	Now time.Time
	// Existing commitments proposals must avoid. The conflict's own
	// counterpart is added automatically.
	Existing []conflict.Commitment
	// CapacityWindows, when set, are the only ranges proposals may fall in.
	CapacityWindows []timeslot.Interval
	// PreferredWindows are further consumer windows Merge may compromise on.
	PreferredWindows []timeslot.Interval
	// Times are the HH:MM values regenerated candidates start at. Empty
	// means the subject's own start time plus every hour 10:00-18:00.
	Times    []string
	Days     generator.DayFilter
	Location *time.Location
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	detector conflict.Detector
	now      func() time.Time
}

// NewEngine applies defaults for zero-valued limits; a config with no
// confidences at all takes the stock calibration.
func NewEngine(cfg Config, d conflict.Detector) *Engine {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = def.HorizonDays
	}
	if cfg.Reschedule == 0 && cfg.Split == 0 && cfg.AddCapacity == 0 && cfg.Merge == 0 {
		limits := cfg
		cfg = def
		cfg.MaxAttempts, cfg.HorizonDays = limits.MaxAttempts, limits.HorizonDays
	}
	return &Engine{cfg: cfg, detector: d, now: time.Now}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Resolve returns proposals for cf, best first.
func (e *Engine) Resolve(cf conflict.Conflict, rc Context) ([]Resolution, error) {
	if err := cf.Subject.Validate(); err != nil {
		return nil, err
	}
	if rc.Location == nil {
		rc.Location = time.UTC
	}
	if rc.Now.IsZero() {
		rc.Now = e.now()
	}

	var out []Resolution
	switch cf.Kind {
	case conflict.TimeOverlap:
		existing := withCounterpart(cf, rc.Existing)
		if r, ok := e.reschedule(cf, rc, existing); ok {
			out = append(out, r)
		}
		if r, ok := e.split(cf, rc, existing); ok {
			out = append(out, r)
		}
	case conflict.CapacityExceeded:
		if r, ok := e.addCapacity(cf, rc, withCounterpart(cf, rc.Existing)); ok {
			out = append(out, r)
		}
	case conflict.PreferenceMismatch:
		out = e.merge(cf, rc, withoutCounterpart(cf, rc.Existing))
	default:
		return nil, fmt.Errorf("unknown conflict kind %q", cf.Kind)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w (conflict %s, %d attempts)", ErrGenerationExhausted, cf.ID, e.cfg.MaxAttempts)
	}
	for i := range out {
		out[i].assignID()
	}
	rank(out)
	return out, nil
}

func sameCommitment(c conflict.Commitment, cf conflict.Conflict) bool {
	return c.Ref == cf.With && c.Interval.Equal(cf.WithInterval)
}

func withCounterpart(cf conflict.Conflict, existing []conflict.Commitment) []conflict.Commitment {
	out := append([]conflict.Commitment{}, existing...)
	if cf.WithInterval.Validate() != nil {
		return out
	}
	for _, c := range existing {
		if sameCommitment(c, cf) {
			return out
		}
	}
	return append(out, conflict.Commitment{Ref: cf.With, Interval: cf.WithInterval})
}

func withoutCounterpart(cf conflict.Conflict, existing []conflict.Commitment) []conflict.Commitment {
	out := make([]conflict.Commitment, 0, len(existing))
	for _, c := range existing {
		if c.Ref != cf.With {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) acceptable(cand timeslot.Interval, existing []conflict.Commitment, rc Context) bool {
	if !e.detector.Free(cand, existing) {
		return false
	}
	if len(rc.CapacityWindows) == 0 {
		return true
	}
	for _, w := range rc.CapacityWindows {
		if !cand.Start().Before(w.Start()) && !cand.End().After(w.End()) {
			return true
		}
	}
	return false
}

func (e *Engine) times(subject timeslot.Interval, rc Context) []string {
	if len(rc.Times) > 0 {
		return rc.Times
	}
	own := subject.ClockTime(rc.Location)
	out := []string{own}
	for h := 10; h <= 18; h++ {
		if t := fmt.Sprintf("%02d:00", h); t != own {
			out = append(out, t)
		}
	}
	return out
}

// search walks regenerated candidates of subject's exact length starting
// after from and returns the first acceptable one with the number rejected.
func (e *Engine) search(subject timeslot.Interval, from time.Time, rc Context, existing []conflict.Commitment) (timeslot.Interval, int, bool) {
	length := subject.Duration()
	minutes := int((length + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	policy := generator.FreeForm{Window: generator.Window{
		Times:           e.times(subject, rc),
		DurationMinutes: minutes,
		HorizonDays:     e.cfg.HorizonDays,
		Days:            rc.Days,
		Location:        rc.Location,
	}}
	seq, err := generator.Generate(policy, from)
	if err != nil {
		return timeslot.Interval{}, 0, false
	}
	rejected := 0
	for gen := range seq {
		if rejected >= e.cfg.MaxAttempts {
			break
		}
		// generated slots run whole minutes; keep the subject's exact length
		cand, err := timeslot.New(gen.Start(), gen.Start().Add(length))
		if err != nil {
			break
		}
		if e.acceptable(cand, existing, rc) {
			return cand, rejected, true
		}
		rejected++
	}
	return timeslot.Interval{}, rejected, false
}

func (e *Engine) reschedule(cf conflict.Conflict, rc Context, existing []conflict.Commitment) (Resolution, bool) {
	cand, rejected, ok := e.search(cf.Subject, cf.Subject.End(), rc, existing)
	if !ok {
		return Resolution{}, false
	}
	conf := e.cfg.Reschedule - e.cfg.RescheduleDecay*float64(rejected)
	return newResolution(cf.ID, Reschedule, conf, []timeslot.Interval{cand}), true
}

// split bisects the subject. Halves that still conflict are moved to the
// next free time after the subject; the proposal is dropped if one cannot
// be moved.
func (e *Engine) split(cf conflict.Conflict, rc Context, existing []conflict.Commitment) (Resolution, bool) {
	if cf.Subject.Duration() < 2*time.Minute {
		return Resolution{}, false
	}
	first, second := cf.Subject.Halves()
	halves := []timeslot.Interval{first, second}
	placed := make([]timeslot.Interval, 0, 2)
	moved, rejectedTotal := 0, 0
	pool := append([]conflict.Commitment{}, existing...)

	for _, h := range halves {
		if e.acceptable(h, pool, rc) {
			placed = append(placed, h)
			pool = append(pool, conflict.Commitment{Ref: conflict.Ref{Kind: conflict.RefSlot}, Interval: h})
			continue
		}
		cand, rejected, ok := e.search(h, cf.Subject.End(), rc, pool)
		if !ok {
			return Resolution{}, false
		}
		moved++
		rejectedTotal += rejected
		placed = append(placed, cand)
		pool = append(pool, conflict.Commitment{Ref: conflict.Ref{Kind: conflict.RefSlot}, Interval: cand})
	}
	sort.Slice(placed, func(i, j int) bool { return placed[i].Start().Before(placed[j].Start()) })

	conf := e.cfg.Split - e.cfg.SplitMovedPenalty*float64(moved) - e.cfg.RescheduleDecay*float64(rejectedTotal)
	var extra []string
	if moved > 0 {
		extra = append(extra, "Part of the session moves to another time")
	}
	return newResolution(cf.ID, Split, conf, placed, extra...), true
}

func (e *Engine) addCapacity(cf conflict.Conflict, rc Context, existing []conflict.Commitment) (Resolution, bool) {
	from := rc.Now
	cand, _, ok := e.search(cf.Subject, from, rc, existing)
	if !ok {
		return Resolution{}, false
	}
	return newResolution(cf.ID, AddCapacity, e.cfg.AddCapacity, []timeslot.Interval{cand}), true
}

// merge compromises on the later of the scheduled slot and each preferred
// window, keeping the slot's length.
func (e *Engine) merge(cf conflict.Conflict, rc Context, existing []conflict.Commitment) []Resolution {
	slot := cf.WithInterval
	if slot.Validate() != nil {
		slot = cf.Subject
	}
	windows := append([]timeslot.Interval{cf.Subject}, rc.PreferredWindows...)

	var out []Resolution
	seen := map[string]bool{}
	for i, w := range windows {
		later := w.Start()
		if slot.Start().After(later) {
			later = slot.Start()
		}
		cand, err := timeslot.New(later, later.Add(slot.Duration()))
		if err != nil || seen[cand.String()] || !cand.Start().After(rc.Now) {
			continue
		}
		seen[cand.String()] = true

		conf := e.cfg.Merge - e.cfg.MergeDecay*float64(i)
		var extra []string
		if !e.acceptable(cand, existing, rc) {
			conf -= e.cfg.MergeOverlapPenalty
			extra = append(extra, "Overlaps another commitment")
		}
		out = append(out, newResolution(cf.ID, Merge, conf, []timeslot.Interval{cand}, extra...))
	}
	return out
}
