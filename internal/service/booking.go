package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/preference"
	"github.com/iliyamo/scholar-slot-booking/internal/queue"
	"github.com/iliyamo/scholar-slot-booking/internal/resolution"
)

// Claim books slotID for consumerID.  A slot that overlaps one the student
// already holds is refused with a *ConflictError before the ledger is
// touched.  Claims by one student are serialised, so two overlapping claims
// cannot both pass the check.
func (s *Scheduler) Claim(ctx context.Context, slotID, consumerID uint64) (model.Slot, error) {
	slot, err := s.claim(ctx, slotID, consumerID)
	if err != nil {
		return model.Slot{}, err
	}
	s.notifySlot(ctx, queue.SlotClaimed, slot, consumerID)
	return slot, nil
}

func (s *Scheduler) claim(ctx context.Context, slotID, consumerID uint64) (model.Slot, error) {
	mu := s.consumerLock(consumerID)
	mu.Lock()
	defer mu.Unlock()

	target, err := s.ledger.Slot(ctx, slotID)
	if err != nil {
		return model.Slot{}, err
	}
	if !target.Holds(consumerID) {
		held, _, err := s.consumerCommitments(ctx, consumerID, s.now())
		if err != nil {
			return model.Slot{}, err
		}
		if cf, hit := s.detector.Detect(target.Interval, held, conflict.IntentReplace); hit {
			return model.Slot{}, &ConflictError{Conflict: cf}
		}
	}

	return s.ledger.Claim(ctx, slotID, consumerID)
}

func (s *Scheduler) consumerLock(consumerID uint64) *sync.Mutex {
	mu, _ := s.claimLocks.LoadOrStore(consumerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Release gives up consumerID's booking of slotID.
func (s *Scheduler) Release(ctx context.Context, slotID, consumerID uint64) (model.Slot, error) {
	slot, err := s.ledger.Release(ctx, slotID, consumerID)
	if err != nil {
		return model.Slot{}, err
	}
	s.notifySlot(ctx, queue.SlotReleased, slot, consumerID)
	return slot, nil
}

func (s *Scheduler) notifySlot(ctx context.Context, typ queue.EventType, slot model.Slot, consumerID uint64) {
	ev := queue.SlotEvent{
		Type:        typ,
		BroadcastID: slot.BroadcastID,
		SlotID:      slot.ID,
		ConsumerID:  consumerID,
		StartsAt:    slot.Interval.Start(),
		EndsAt:      slot.Interval.End(),
		Status:      string(slot.Status),
		Booked:      len(slot.BookedBy),
		Capacity:    slot.Capacity,
	}
	if b, err := s.ledger.Broadcast(ctx, slot.BroadcastID); err == nil {
		ev.OwnerID, ev.Title = b.OwnerID, b.Title
	} else {
		log.Printf("scheduler: load broadcast %d for event: %v", slot.BroadcastID, err)
	}
	s.notify(ctx, ev)
}

// Suggestion is an open slot scored for a student.
type Suggestion struct {
	BroadcastID uint64             `json:"broadcast_id"`
	Title       string             `json:"title"`
	Slot        model.Slot         `json:"slot"`
	Score       preference.Score   `json:"score"`
	Mismatch    *conflict.Conflict `json:"mismatch,omitempty"`
}

// openSuggestions scores every slot consumerID could still claim: open
// broadcasts they hold nothing in, minus slots overlapping their bookings
// and minus skip.
func (s *Scheduler) openSuggestions(ctx context.Context, consumerID uint64, p preference.Profile, skip uint64) ([]Suggestion, error) {
	now := s.now().UTC()
	held, slots, err := s.consumerCommitments(ctx, consumerID, now)
	if err != nil {
		return nil, err
	}
	inBroadcast := make(map[uint64]bool, len(slots))
	for _, sl := range slots {
		inBroadcast[sl.BroadcastID] = true
	}
	open, err := s.ledger.Discover(ctx, now)
	if err != nil {
		return nil, err
	}
	var out []Suggestion
	for _, b := range open {
		if inBroadcast[b.ID] {
			continue
		}
		for _, sl := range b.Slots {
			if sl.ID == skip || !s.detector.Free(sl.Interval, held) {
				continue
			}
			out = append(out, Suggestion{
				BroadcastID: b.ID,
				Title:       b.Title,
				Slot:        sl,
				Score:       s.scorer.Score(sl.Interval, p),
			})
		}
	}
	return out, nil
}

func sortSuggestions(out []Suggestion, first uint64) {
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.BroadcastID == first) != (b.BroadcastID == first) {
			return a.BroadcastID == first
		}
		if a.Score.Value != b.Score.Value {
			return a.Score.Value > b.Score.Value
		}
		return a.Slot.Interval.Start().Before(b.Slot.Interval.Start())
	})
}

// Alternatives is what a student is offered after losing a slot.
type Alternatives struct {
	Conflict    *conflict.Conflict      `json:"conflict,omitempty"`
	Resolutions []resolution.Resolution `json:"resolutions"`
	Slots       []Suggestion            `json:"slots"`
}

// Alternatives answers "this slot was just taken": an AddCapacity proposal
// for the scholar when the slot is full, and the best open slots for the
// student, the same broadcast first.
func (s *Scheduler) Alternatives(ctx context.Context, slotID, consumerID uint64, p preference.Profile) (Alternatives, error) {
	taken, err := s.ledger.Slot(ctx, slotID)
	if err != nil {
		return Alternatives{}, err
	}
	b, err := s.ledger.Broadcast(ctx, taken.BroadcastID)
	if err != nil {
		return Alternatives{}, err
	}
	p = s.profile(consumerID, p, nil)
	out := Alternatives{Resolutions: []resolution.Resolution{}, Slots: []Suggestion{}}

	if taken.Spare() == 0 && taken.Status != model.SlotCancelled {
		full := slotCommitment(taken)
		full.Full = true
		if cf, ok := s.detector.Detect(taken.Interval, []conflict.Commitment{full}, conflict.IntentAdd); ok {
			out.Conflict = &cf
			now := s.now().UTC()
			existing, err := s.ownerCommitments(ctx, b.OwnerID, now, s.horizon(now, taken.Interval))
			if err != nil {
				return Alternatives{}, err
			}
			rs, err := s.engine.Resolve(cf, resolution.Context{Now: now, Existing: existing, Location: p.Location()})
			switch {
			case err == nil:
				out.Resolutions = rs
			case !errors.Is(err, resolution.ErrGenerationExhausted):
				return Alternatives{}, err
			}
		}
	}

	sugg, err := s.openSuggestions(ctx, consumerID, p, slotID)
	if err != nil {
		return Alternatives{}, err
	}
	sortSuggestions(sugg, b.ID)
	if len(sugg) > s.alternatives {
		sugg = sugg[:s.alternatives]
	}
	out.Slots = append(out.Slots, sugg...)
	return out, nil
}

// RecommendRequest carries a stated profile, optionally with booking
// history to infer the missing parts from.
type RecommendRequest struct {
	Profile preference.Profile   `json:"profile"`
	History []preference.Session `json:"history,omitempty"`
	Limit   int                  `json:"limit,omitempty"`
}

// Recommend ranks open slots for a student.  Slots scoring below the low
// confidence threshold carry the preference mismatch they raise.
func (s *Scheduler) Recommend(ctx context.Context, consumerID uint64, req RecommendRequest) ([]Suggestion, error) {
	p := s.profile(consumerID, req.Profile, req.History)
	sugg, err := s.openSuggestions(ctx, consumerID, p, 0)
	if err != nil {
		return nil, err
	}
	sortSuggestions(sugg, 0)
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(sugg) > limit {
		sugg = sugg[:limit]
	}
	for i := range sugg {
		if cf, ok := s.scorer.Mismatch(slotCommitment(sugg[i].Slot), p, s.lowConfidence); ok {
			sugg[i].Mismatch = &cf
		}
	}
	if sugg == nil {
		sugg = []Suggestion{}
	}
	return sugg, nil
}

// profile completes a stated profile.  Without preferred times it is
// inferred from history (or defaults), keeping whatever the student stated.
func (s *Scheduler) profile(consumerID uint64, p preference.Profile, history []preference.Session) preference.Profile {
	p.ConsumerID = consumerID
	if p.Timezone == "" {
		p.Timezone = s.defaultTZ
	}
	if len(p.PreferredTimes) > 0 && p.LearningStyle != "" && p.Engagement != "" {
		return p
	}
	inferred := preference.Infer(consumerID, p.Timezone, history)
	if len(p.PreferredTimes) == 0 {
		p.PreferredTimes = inferred.PreferredTimes
	}
	if p.LearningStyle == "" {
		p.LearningStyle = inferred.LearningStyle
	}
	if p.Engagement == "" {
		p.Engagement = inferred.Engagement
	}
	return p
}
