package ledger

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// DefaultTTL is how long a broadcast stays open when no expiry is given.
const DefaultTTL = 7 * 24 * time.Hour

// The functions in this file are the slot state machine. They never mutate
// their arguments; every storage backend commits the returned value inside
// whatever serialisation it provides.

// ApplyClaim adds consumerID to s. b only needs its header fields.
func ApplyClaim(b model.Broadcast, s model.Slot, consumerID uint64, now time.Time) (model.Slot, error) {
	switch {
	case b.Status != model.BroadcastActive:
		return model.Slot{}, fmt.Errorf("%w: broadcast %d is %s", ErrSlotUnavailable, b.ID, strings.ToLower(string(b.Status)))
	case !now.Before(b.ExpiresAt):
		return model.Slot{}, fmt.Errorf("%w: broadcast %d expired at %s", ErrSlotUnavailable, b.ID, b.ExpiresAt.Format(time.RFC3339))
	case s.Status == model.SlotCancelled:
		return model.Slot{}, fmt.Errorf("%w: slot %d is cancelled", ErrSlotUnavailable, s.ID)
	case s.Holds(consumerID):
		return model.Slot{}, ErrAlreadyClaimed
	case s.Status == model.SlotBooked, s.Spare() == 0:
		return model.Slot{}, fmt.Errorf("%w: slot %d is full", ErrSlotUnavailable, s.ID)
	case !timeslot.IsFuture(s.Interval, now):
		return model.Slot{}, fmt.Errorf("%w: slot %d has already started", ErrSlotUnavailable, s.ID)
	}
	next := s.Clone()
	next.BookedBy = append(next.BookedBy, consumerID)
	if len(next.BookedBy) >= next.Capacity {
		next.Status = model.SlotBooked
	}
	next.Version++
	return next, nil
}

// ApplyRelease removes consumerID from s. A BOOKED slot that regains room
// goes back to AVAILABLE, or to CANCELLED when b has been cancelled; a
// CANCELLED slot stays CANCELLED. b only needs its header fields.
func ApplyRelease(b model.Broadcast, s model.Slot, consumerID uint64) (model.Slot, error) {
	i := slices.Index(s.BookedBy, consumerID)
	if i < 0 {
		return model.Slot{}, fmt.Errorf("%w: consumer %d on slot %d", ErrNotBooked, consumerID, s.ID)
	}
	next := s.Clone()
	next.BookedBy = slices.Delete(next.BookedBy, i, i+1)
	if next.Status == model.SlotBooked && next.Spare() > 0 {
		next.Status = model.SlotAvailable
	}
	if next.Status == model.SlotAvailable && b.Status == model.BroadcastCancelled {
		next.Status = model.SlotCancelled
	}
	next.Version++
	return next, nil
}

// ApplyCancel moves an AVAILABLE slot to CANCELLED. Booked slots keep their
// bookings and are reported unchanged.
func ApplyCancel(s model.Slot) (model.Slot, bool) {
	if s.Status != model.SlotAvailable {
		return s, false
	}
	next := s.Clone()
	next.Status = model.SlotCancelled
	next.Version++
	return next, true
}

// PrepareBroadcast validates a broadcast about to be published and fills in
// lifecycle defaults: slots sorted by start with positions assigned, every
// slot AVAILABLE with no bookings, status ACTIVE, CreatedAt=now and
// ExpiresAt=now+ttl when unset.
func PrepareBroadcast(b model.Broadcast, now time.Time, ttl time.Duration) (model.Broadcast, error) {
	if strings.TrimSpace(b.Title) == "" {
		return model.Broadcast{}, fmt.Errorf("%w: title is required", ErrInvalidBroadcast)
	}
	if len(b.Slots) == 0 {
		return model.Broadcast{}, fmt.Errorf("%w: at least one slot is required", ErrInvalidBroadcast)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	out := b.Clone()
	out.Status = model.BroadcastActive
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	if out.ExpiresAt.IsZero() {
		out.ExpiresAt = out.CreatedAt.Add(ttl)
	}
	out.ExpiresAt = out.ExpiresAt.UTC()
	if !out.ExpiresAt.After(now) {
		return model.Broadcast{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidBroadcast)
	}
	if out.Timezone == "" {
		out.Timezone = "UTC"
	}

	sort.SliceStable(out.Slots, func(i, j int) bool {
		return out.Slots[i].Interval.Start().Before(out.Slots[j].Interval.Start())
	})
	commitments := make([]conflict.Commitment, 0, len(out.Slots))
	for i := range out.Slots {
		s := &out.Slots[i]
		if err := s.Interval.Validate(); err != nil {
			return model.Broadcast{}, fmt.Errorf("slot %d: %w", i, err)
		}
		if s.Capacity < 1 {
			return model.Broadcast{}, fmt.Errorf("%w: slot %d capacity must be at least 1", ErrInvalidBroadcast, i)
		}
		s.Position = i
		s.Status = model.SlotAvailable
		s.BookedBy = []uint64{}
		s.Version = 0
		commitments = append(commitments, conflict.Commitment{Ref: conflict.Ref{Kind: conflict.RefSlot, ID: uint64(i)}, Interval: s.Interval})
	}
	if overlaps := (conflict.Detector{}).Scan(time.Time{}, commitments); len(overlaps) > 0 {
		return model.Broadcast{}, fmt.Errorf("%w: slots %s and %s overlap", ErrInvalidBroadcast,
			overlaps[0].Subject, overlaps[0].WithInterval)
	}
	return out, nil
}
