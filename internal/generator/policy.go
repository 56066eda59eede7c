package generator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidPolicy is returned when a policy cannot produce well-formed
// candidates (bad HH:MM, non-positive duration, negative horizon).
var ErrInvalidPolicy = errors.New("invalid slot generation policy")

// maxHorizonDays caps how far ahead a single policy may generate.
const maxHorizonDays = 366

// DayFilter selects which calendar days a policy generates on.
type DayFilter int

const (
	AllDays DayFilter = iota
	Weekdays
	Weekends
)

// Keep reports whether the filter retains a day falling on wd.
func (f DayFilter) Keep(wd time.Weekday) bool {
	weekend := wd == time.Saturday || wd == time.Sunday
	switch f {
	case Weekdays:
		return !weekend
	case Weekends:
		return weekend
	default:
		return true
	}
}

func (f DayFilter) String() string {
	switch f {
	case Weekdays:
		return "weekday"
	case Weekends:
		return "weekend"
	default:
		return "all"
	}
}

// ParseDayFilter accepts "all", "weekday(s)" and "weekend(s)"; empty means all.
func ParseDayFilter(s string) (DayFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return AllDays, nil
	case "weekday", "weekdays":
		return Weekdays, nil
	case "weekend", "weekends":
		return Weekends, nil
	}
	return AllDays, fmt.Errorf("%w: unknown day filter %q", ErrInvalidPolicy, s)
}

func (f DayFilter) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *DayFilter) UnmarshalText(b []byte) error {
	v, err := ParseDayFilter(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Window is the part shared by every policy variant: which times of day,
// for how long, over how many days, and on which kind of day.
// Location is the zone HH:MM values are read in; nil means UTC.
type Window struct {
	Times           []string       `json:"times" yaml:"times"`
	DurationMinutes int            `json:"duration_minutes" yaml:"duration_minutes"`
	HorizonDays     int            `json:"horizon_days" yaml:"horizon_days"`
	Days            DayFilter      `json:"days" yaml:"days"`
	Location        *time.Location `json:"-" yaml:"-"`
}

// Policy is either a Template or a FreeForm window. The set is closed.
type Policy interface {
	window() Window
}

// Template is a named, reusable policy from the catalog.
type Template struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Window      `yaml:",inline"`
}

// FreeForm is an ad-hoc day/time window supplied by the publisher.
type FreeForm struct {
	Window
}

func (t Template) window() Window { return t.Window }
func (f FreeForm) window() Window { return f.Window }

// WindowOf exposes the shared window of any policy.
func WindowOf(p Policy) Window { return p.window() }

// clock is a parsed HH:MM.
type clock struct {
	hour, minute int
}

func (c clock) String() string { return fmt.Sprintf("%02d:%02d", c.hour, c.minute) }

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidPolicy, s)
	}
	return t.Hour(), t.Minute(), nil
}

// compiled is a validated policy ready for iteration.
type compiled struct {
	clocks   []clock
	duration int
	horizon  int
	days     DayFilter
	loc      *time.Location
}

func compile(p Policy) (compiled, error) {
	if p == nil {
		return compiled{}, fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}
	if t, ok := p.(Template); ok && strings.TrimSpace(t.ID) == "" {
		return compiled{}, fmt.Errorf("%w: template id is required", ErrInvalidPolicy)
	}
	w := p.window()
	if w.DurationMinutes <= 0 {
		return compiled{}, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidPolicy)
	}
	if w.HorizonDays < 0 || w.HorizonDays > maxHorizonDays {
		return compiled{}, fmt.Errorf("%w: horizon_days must be between 0 and %d", ErrInvalidPolicy, maxHorizonDays)
	}
	c := compiled{duration: w.DurationMinutes, horizon: w.HorizonDays, days: w.Days, loc: w.Location}
	if c.loc == nil {
		c.loc = time.UTC
	}
	for _, s := range w.Times {
		h, m, err := ParseClock(s)
		if err != nil {
			return compiled{}, err
		}
		c.clocks = append(c.clocks, clock{hour: h, minute: m})
	}
	// duplicates survive the sort on purpose
	sort.SliceStable(c.clocks, func(i, j int) bool {
		a, b := c.clocks[i], c.clocks[j]
		return a.hour*60+a.minute < b.hour*60+b.minute
	})
	return c, nil
}

// Validate checks the policy without generating anything.
func Validate(p Policy) error {
	_, err := compile(p)
	return err
}
