package preference

import (
	"sort"

	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// Session is one past booking of a student.
type Session struct {
	Interval timeslot.Interval `json:"interval"`
	Attended bool              `json:"attended"`
}

var defaultPreferredTimes = []string{"09:00", "14:00", "18:00"}

// Infer builds a profile from booking history. Average session length picks
// the learning style (over 75 minutes auditory, under 45 kinesthetic,
// otherwise visual), attendance picks engagement (over 90% high, over 70%
// medium) and the three most booked start times become preferred times.
func Infer(consumerID uint64, timezone string, history []Session) Profile {
	p := Profile{ConsumerID: consumerID, Timezone: timezone}
	if len(history) == 0 {
		p.PreferredTimes = append([]string{}, defaultPreferredTimes...)
		p.LearningStyle = Visual
		p.Engagement = EngagementLow
		return p
	}
	loc := p.Location()

	var minutes, attended int
	freq := map[string]int{}
	for _, s := range history {
		minutes += s.Interval.DurationMinutes()
		if s.Attended {
			attended++
		}
		freq[s.Interval.ClockTime(loc)]++
	}
	avg := float64(minutes) / float64(len(history))
	switch {
	case avg > 75:
		p.LearningStyle = Auditory
	case avg < 45:
		p.LearningStyle = Kinesthetic
	default:
		p.LearningStyle = Visual
	}

	rate := float64(attended) / float64(len(history))
	switch {
	case rate > 0.9:
		p.Engagement = EngagementHigh
	case rate > 0.7:
		p.Engagement = EngagementMedium
	default:
		p.Engagement = EngagementLow
	}

	times := make([]string, 0, len(freq))
	for t := range freq {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool {
		if freq[times[i]] != freq[times[j]] {
			return freq[times[i]] > freq[times[j]]
		}
		return times[i] < times[j]
	})
	if len(times) > 3 {
		times = times[:3]
	}
	p.PreferredTimes = times
	return p
}
