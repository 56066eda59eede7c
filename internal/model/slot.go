package model

import (
	"slices"

	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// SlotStatus is the lifecycle state of a bookable slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE" // open for claims (possibly partially booked)
	SlotBooked    SlotStatus = "BOOKED"    // bookings reached capacity
	SlotCancelled SlotStatus = "CANCELLED" // withdrawn with its broadcast; terminal
)

// Slot is a single bookable interval inside a broadcast.  Slots are
// created by the generator as AVAILABLE and mutated only through the
// booking ledger.
//
// Fields:
//  ID          – primary key identifier.
//  BroadcastID – owning broadcast.
//  Position    – order of the slot inside its broadcast.
//  Interval    – the [start, end) time range.
//  Capacity    – how many consumers may claim the slot (>= 1).
//  BookedBy    – consumers holding the slot, in claim order.  Never
//                longer than Capacity.
//  Status      – AVAILABLE, BOOKED or CANCELLED.
//  Version     – bumped on every committed transition; used for
//                compare-and-swap updates.
type Slot struct {
	ID          uint64            `json:"id"`           // slots.id
	BroadcastID uint64            `json:"broadcast_id"` // slots.broadcast_id
	Position    int               `json:"position"`     // slots.position
	Interval    timeslot.Interval `json:"interval"`     // slots.starts_at, slots.ends_at
	Capacity    int               `json:"capacity"`     // slots.capacity
	BookedBy    []uint64          `json:"booked_by"`    // slot_bookings.consumer_id
	Status      SlotStatus        `json:"status"`       // slots.status
	Version     uint32            `json:"version"`      // slots.version
}

// Spare returns how many more consumers the slot can take.
func (s Slot) Spare() int {
	n := s.Capacity - len(s.BookedBy)
	if n < 0 {
		return 0
	}
	return n
}

// Holds reports whether consumerID is among the slot's bookings.
func (s Slot) Holds(consumerID uint64) bool {
	return slices.Contains(s.BookedBy, consumerID)
}

// Clone returns a copy that shares no memory with s.
func (s Slot) Clone() Slot {
	s.BookedBy = slices.Clone(s.BookedBy)
	if s.BookedBy == nil {
		s.BookedBy = []uint64{}
	}
	return s
}
