package resolution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// 2025-03-04 is a Tuesday.
func tue(h, m int) time.Time { return time.Date(2025, time.March, 4, h, m, 0, 0, time.UTC) }

func span(t *testing.T, start, end time.Time) timeslot.Interval {
	t.Helper()
	iv, err := timeslot.New(start, end)
	require.NoError(t, err)
	return iv
}

func overlapConflict(t *testing.T, subject, with timeslot.Interval) conflict.Conflict {
	t.Helper()
	cf, ok := conflict.Detector{}.Detect(subject, []conflict.Commitment{{Ref: conflict.Ref{Kind: conflict.RefSlot, ID: 1}, Interval: with}}, conflict.IntentReplace)
	require.True(t, ok)
	return cf
}

func requireTransparent(t *testing.T, rs []Resolution) {
	t.Helper()
	for _, r := range rs {
		assert.NotEmpty(t, r.ID)
		assert.NotEmpty(t, r.Pros, r.Kind)
		assert.NotEmpty(t, r.Cons, r.Kind)
		assert.NotEmpty(t, r.Proposed, r.Kind)
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
	}
	for i := 1; i < len(rs); i++ {
		assert.GreaterOrEqual(t, rs[i-1].Confidence, rs[i].Confidence)
	}
}

func TestResolve_TimeOverlap(t *testing.T) {
	e := NewEngine(DefaultConfig(), conflict.Detector{})
	cf := overlapConflict(t, span(t, tue(10, 0), tue(11, 0)), span(t, tue(10, 30), tue(11, 30)))

	rs, err := e.Resolve(cf, Context{Now: tue(8, 0)})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	requireTransparent(t, rs)

	assert.Equal(t, Reschedule, rs[0].Kind)
	assert.InDelta(t, 0.85, rs[0].Confidence, 1e-9)
	assert.Equal(t, tue(12, 0), rs[0].Proposed[0].Start())
	assert.Equal(t, 60, rs[0].Proposed[0].DurationMinutes())

	assert.Equal(t, Split, rs[1].Kind)
	assert.InDelta(t, 0.60, rs[1].Confidence, 1e-9)
	require.Len(t, rs[1].Proposed, 2)
	assert.Equal(t, tue(10, 0), rs[1].Proposed[0].Start())
	assert.Equal(t, tue(10, 30), rs[1].Proposed[0].End())
	assert.Equal(t, tue(12, 0), rs[1].Proposed[1].Start())
	assert.Equal(t, 30, rs[1].Proposed[1].DurationMinutes())
	for _, r := range rs {
		assert.Equal(t, cf.ID, r.ConflictID)
	}
}

func TestResolve_KeepsOddLengths(t *testing.T) {
	e := NewEngine(DefaultConfig(), conflict.Detector{})
	cf := overlapConflict(t, span(t, tue(10, 0), tue(11, 1)), span(t, tue(10, 30), tue(11, 30)))

	rs, err := e.Resolve(cf, Context{Now: tue(8, 0)})
	require.NoError(t, err)
	var sawSplit bool
	for _, r := range rs {
		switch r.Kind {
		case Reschedule:
			assert.Equal(t, 61*time.Minute, r.Proposed[0].Duration())
		case Split:
			sawSplit = true
			require.Len(t, r.Proposed, 2)
			for _, p := range r.Proposed {
				assert.Equal(t, 30*time.Minute+30*time.Second, p.Duration(), "half %s", p)
			}
		}
	}
	assert.True(t, sawSplit)
}

func TestResolve_RescheduleDecaysPerRejection(t *testing.T) {
	e := NewEngine(DefaultConfig(), conflict.Detector{})
	cf := overlapConflict(t, span(t, tue(10, 0), tue(11, 0)), span(t, tue(10, 30), tue(11, 30)))
	busy := []conflict.Commitment{{Ref: conflict.Ref{Kind: conflict.RefCalendar, ExternalID: "lunch"}, Interval: span(t, tue(12, 0), tue(15, 0))}}

	rs, err := e.Resolve(cf, Context{Now: tue(8, 0), Existing: busy})
	require.NoError(t, err)
	require.NotEmpty(t, rs)
	assert.Equal(t, Reschedule, rs[0].Kind)
	// 12:00, 13:00 and 14:00 rejected
	assert.InDelta(t, 0.70, rs[0].Confidence, 1e-9)
	assert.Equal(t, tue(15, 0), rs[0].Proposed[0].Start())
}

func TestResolve_CapacityWindows(t *testing.T) {
	e := NewEngine(DefaultConfig(), conflict.Detector{})
	cf := overlapConflict(t, span(t, tue(10, 0), tue(11, 0)), span(t, tue(10, 30), tue(11, 30)))

	rs, err := e.Resolve(cf, Context{Now: tue(8, 0), CapacityWindows: []timeslot.Interval{span(t, tue(16, 0), tue(18, 0))}})
	require.NoError(t, err)
	for _, r := range rs {
		for _, p := range r.Proposed {
			assert.False(t, p.Start().Before(tue(16, 0)), "%s proposes %s", r.Kind, p)
			assert.False(t, p.End().After(tue(18, 0)), "%s proposes %s", r.Kind, p)
		}
	}
}

func TestResolve_Exhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	e := NewEngine(cfg, conflict.Detector{})
	block := span(t, tue(9, 0), tue(9, 0).AddDate(0, 0, 30))
	cf := overlapConflict(t, span(t, tue(10, 0), tue(11, 0)), block)

	_, err := e.Resolve(cf, Context{Now: tue(8, 0)})
	assert.ErrorIs(t, err, ErrGenerationExhausted)
}

func TestResolve_CapacityExceeded(t *testing.T) {
	e := NewEngine(DefaultConfig(), conflict.Detector{})
	full := conflict.Commitment{Ref: conflict.Ref{Kind: conflict.RefSlot, ID: 5}, Interval: span(t, tue(10, 0), tue(11, 0)), Full: true}
	cf, ok := conflict.Detector{}.Detect(full.Interval, []conflict.Commitment{full}, conflict.IntentAdd)
	require.True(t, ok)
	require.Equal(t, conflict.CapacityExceeded, cf.Kind)

	rs, err := e.Resolve(cf, Context{Now: tue(8, 0)})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	requireTransparent(t, rs)
	assert.Equal(t, AddCapacity, rs[0].Kind)
	assert.InDelta(t, 0.88, rs[0].Confidence, 1e-9)
	assert.Equal(t, tue(11, 0), rs[0].Proposed[0].Start())
}

func TestResolve_PreferenceMismatch(t *testing.T) {
	e := NewEngine(DefaultConfig(), conflict.Detector{})
	slot := conflict.Commitment{Ref: conflict.Ref{Kind: conflict.RefSlot, ID: 8}, Interval: span(t, tue(10, 0), tue(11, 0))}
	cf := conflict.NewPreferenceMismatch(span(t, tue(14, 0), tue(15, 0)), slot, conflict.Medium)
	busy := []conflict.Commitment{
		slot, // the slot being moved never blocks its own compromise
		{Ref: conflict.Ref{Kind: conflict.RefSlot, ID: 9}, Interval: span(t, tue(16, 30), tue(17, 30))},
	}

	rs, err := e.Resolve(cf, Context{
		Now:              tue(8, 0),
		Existing:         busy,
		PreferredWindows: []timeslot.Interval{span(t, tue(16, 0), tue(17, 0)), span(t, tue(9, 0), tue(10, 0))},
	})
	require.NoError(t, err)
	requireTransparent(t, rs)
	require.Len(t, rs, 3)

	assert.Equal(t, Merge, rs[0].Kind)
	assert.InDelta(t, 0.65, rs[0].Confidence, 1e-9)
	assert.Equal(t, tue(14, 0), rs[0].Proposed[0].Start())

	// 09:00 window compromises on the slot's own 10:00 start
	assert.InDelta(t, 0.55, rs[1].Confidence, 1e-9)
	assert.Equal(t, tue(10, 0), rs[1].Proposed[0].Start())

	// 16:00 overlaps slot 9
	assert.InDelta(t, 0.45, rs[2].Confidence, 1e-9)
	assert.Contains(t, rs[2].Cons, "Overlaps another commitment")
}

func TestResolve_Invalid(t *testing.T) {
	e := NewEngine(Config{}, conflict.Detector{})
	_, err := e.Resolve(conflict.Conflict{Kind: conflict.TimeOverlap}, Context{})
	assert.ErrorIs(t, err, timeslot.ErrInvalidInterval)

	_, err = e.Resolve(conflict.Conflict{Kind: "double_booked", Subject: span(t, tue(10, 0), tue(11, 0))}, Context{})
	assert.Error(t, err)
	assert.Equal(t, DefaultConfig(), e.Config())
}

func TestResolve_Deterministic(t *testing.T) {
	e := NewEngine(DefaultConfig(), conflict.Detector{})
	cf := overlapConflict(t, span(t, tue(10, 0), tue(11, 0)), span(t, tue(10, 30), tue(11, 30)))
	a, err := e.Resolve(cf, Context{Now: tue(8, 0)})
	require.NoError(t, err)
	b, err := e.Resolve(cf, Context{Now: tue(8, 0)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRank_TiesByEarliestStart(t *testing.T) {
	late := newResolution("c", Reschedule, 0.7, []timeslot.Interval{span(t, tue(15, 0), tue(16, 0))})
	early := newResolution("c", Merge, 0.7, []timeslot.Interval{span(t, tue(9, 0), tue(10, 0))})
	best := newResolution("c", AddCapacity, 0.9, []timeslot.Interval{span(t, tue(18, 0), tue(19, 0))})
	rs := []Resolution{late, early, best}
	rank(rs)
	assert.Equal(t, []Kind{AddCapacity, Merge, Reschedule}, []Kind{rs[0].Kind, rs[1].Kind, rs[2].Kind})
}
