package conflict

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// 2025-03-04 is a Tuesday.
func tue(h, m int) time.Time { return time.Date(2025, time.March, 4, h, m, 0, 0, time.UTC) }

func iv(t *testing.T, sh, sm, eh, em int) timeslot.Interval {
	t.Helper()
	i, err := timeslot.New(tue(sh, sm), tue(eh, em))
	require.NoError(t, err)
	return i
}

func TestDetect_HalfOverlapIsHigh(t *testing.T) {
	candidate := iv(t, 10, 0, 11, 0)
	existing := []Commitment{{Ref: Ref{Kind: RefSlot, ID: 7}, Interval: iv(t, 10, 30, 11, 30)}}

	cf, ok := Detector{}.Detect(candidate, existing, IntentReplace)
	require.True(t, ok)
	assert.Equal(t, TimeOverlap, cf.Kind)
	assert.Equal(t, High, cf.Severity)
	assert.Equal(t, 30, cf.OverlapMinutes)
	assert.Equal(t, Ref{Kind: RefSlot, ID: 7}, cf.With)
	assert.True(t, cf.Subject.Equal(candidate))
}

func TestSeverity(t *testing.T) {
	d := NewDetector(0.5)
	tests := []struct {
		name string
		a, b timeslot.Interval
		want Severity
	}{
		{"quarter overlap", iv(t, 10, 0, 11, 0), iv(t, 10, 45, 11, 45), Medium},
		{"exactly half", iv(t, 10, 0, 11, 0), iv(t, 10, 30, 12, 0), High},
		{"short inside long", iv(t, 9, 0, 17, 0), iv(t, 12, 0, 12, 30), High},
		{"touching", iv(t, 10, 0, 11, 0), iv(t, 11, 0, 12, 0), Low},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Severity(tt.a, tt.b))
			assert.Equal(t, tt.want, d.Severity(tt.b, tt.a))
		})
	}
}

func TestDetector_CustomRatio(t *testing.T) {
	a, b := iv(t, 10, 0, 11, 0), iv(t, 10, 30, 11, 30)
	assert.Equal(t, Medium, NewDetector(0.75).Severity(a, b))
	assert.Equal(t, High, NewDetector(0.25).Severity(a, b))
	assert.Equal(t, DefaultHighOverlapRatio, NewDetector(3).HighOverlapRatio)
}

func TestDetect_CapacityExceeded(t *testing.T) {
	candidate := iv(t, 10, 0, 11, 0)
	full := Commitment{Ref: Ref{Kind: RefSlot, ID: 3}, Interval: iv(t, 10, 0, 11, 0), Full: true}

	cf, ok := Detector{}.Detect(candidate, []Commitment{full}, IntentAdd)
	require.True(t, ok)
	assert.Equal(t, CapacityExceeded, cf.Kind)

	cf, ok = Detector{}.Detect(candidate, []Commitment{full}, IntentReplace)
	require.True(t, ok)
	assert.Equal(t, TimeOverlap, cf.Kind)

	notFull := full
	notFull.Full = false
	cf, ok = Detector{}.Detect(candidate, []Commitment{notFull}, IntentAdd)
	require.True(t, ok)
	assert.Equal(t, TimeOverlap, cf.Kind)
}

func TestDetect_FirstAndAll(t *testing.T) {
	candidate := iv(t, 10, 0, 12, 0)
	existing := []Commitment{
		{Ref: Ref{Kind: RefSlot, ID: 1}, Interval: iv(t, 8, 0, 9, 0)},
		{Ref: Ref{Kind: RefSlot, ID: 2}, Interval: iv(t, 11, 30, 12, 30)},
		{Ref: Ref{Kind: RefCalendar, ExternalID: "evt-1"}, Interval: iv(t, 10, 0, 10, 15)},
		{Ref: Ref{Kind: RefSlot, ID: 4}, Interval: iv(t, 12, 0, 13, 0)},
	}
	cf, ok := Detector{}.Detect(candidate, existing, IntentReplace)
	require.True(t, ok)
	assert.Equal(t, uint64(2), cf.With.ID)

	all := Detector{}.DetectAll(candidate, existing, IntentReplace)
	require.Len(t, all, 2)
	assert.Equal(t, "evt-1", all[1].With.ExternalID)

	_, ok = Detector{}.Detect(iv(t, 9, 0, 10, 0), existing, IntentReplace)
	assert.False(t, ok)
	assert.True(t, Detector{}.Free(iv(t, 9, 0, 10, 0), existing))
}

func TestDetect_DeterministicAndPure(t *testing.T) {
	candidate := iv(t, 10, 0, 11, 0)
	existing := []Commitment{{Ref: Ref{Kind: RefBroadcast, ID: 9}, Interval: iv(t, 10, 30, 11, 30)}}
	snapshot := append([]Commitment(nil), existing...)

	a, _ := Detector{}.Detect(candidate, existing, IntentReplace)
	b, _ := Detector{}.Detect(candidate, existing, IntentReplace)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, snapshot, existing)
}

func TestScan(t *testing.T) {
	commitments := []Commitment{
		{Ref: Ref{Kind: RefSlot, ID: 1}, Interval: iv(t, 7, 0, 8, 0)},
		{Ref: Ref{Kind: RefSlot, ID: 2}, Interval: iv(t, 7, 30, 8, 30)},
		{Ref: Ref{Kind: RefSlot, ID: 3}, Interval: iv(t, 10, 0, 11, 0)},
		{Ref: Ref{Kind: RefSlot, ID: 4}, Interval: iv(t, 10, 50, 11, 50)},
		{Ref: Ref{Kind: RefSlot, ID: 5}, Interval: iv(t, 12, 0, 13, 0)},
	}
	// slot 1 has already ended at 08:10
	got := Detector{}.Scan(tue(8, 10), commitments)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4), got[0].With.ID)
	assert.Equal(t, Medium, got[0].Severity)
}

func TestConflictJSON(t *testing.T) {
	cf, ok := Detector{}.Detect(iv(t, 10, 0, 11, 0), []Commitment{{Ref: Ref{Kind: RefSlot, ID: 1}, Interval: iv(t, 10, 30, 11, 30)}}, IntentReplace)
	require.True(t, ok)

	b, err := json.Marshal(cf)
	require.NoError(t, err)
	var back Conflict
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, cf.ID, back.ID)
	assert.Equal(t, High, back.Severity)
	assert.True(t, back.Subject.Equal(cf.Subject))
	assert.Contains(t, string(b), `"severity":"high"`)
}
