package model

import "time"

// BroadcastStatus is the lifecycle state of a broadcast as a whole.
type BroadcastStatus string

const (
	BroadcastActive    BroadcastStatus = "ACTIVE"
	BroadcastCancelled BroadcastStatus = "CANCELLED"
)

// Broadcast is a scholar's announcement of one or more bookable slots that
// share a title, description and expiry.  It owns its slots for their
// lifetime and is cancelled only as a whole.
//
// Fields:
//  ID          – primary key identifier.
//  OwnerID     – the publishing scholar.
//  Title       – short headline shown to students.
//  Description – optional longer text.
//  Timezone    – IANA zone the slots were generated in (display only;
//                slot times are absolute instants).
//  Slots       – ordered by Position, which follows start time.
//  CreatedAt   – when the broadcast was published.
//  ExpiresAt   – after this instant the broadcast is hidden from
//                discovery and no longer accepts claims.
//  Status      – ACTIVE or CANCELLED.
type Broadcast struct {
	ID          uint64          `json:"id"`          // broadcasts.id
	OwnerID     uint64          `json:"owner_id"`    // broadcasts.owner_id
	Title       string          `json:"title"`       // broadcasts.title
	Description string          `json:"description"` // broadcasts.description
	Timezone    string          `json:"timezone"`    // broadcasts.timezone
	Slots       []Slot          `json:"slots"`
	CreatedAt   time.Time       `json:"created_at"` // broadcasts.created_at
	ExpiresAt   time.Time       `json:"expires_at"` // broadcasts.expires_at
	Status      BroadcastStatus `json:"status"`     // broadcasts.status
}

// Open reports whether the broadcast still accepts claims at now.
func (b Broadcast) Open(now time.Time) bool {
	return b.Status == BroadcastActive && now.Before(b.ExpiresAt)
}

// Clone returns a deep copy of b.
func (b Broadcast) Clone() Broadcast {
	slots := make([]Slot, len(b.Slots))
	for i, s := range b.Slots {
		slots[i] = s.Clone()
	}
	b.Slots = slots
	return b
}

// AvailableSlots returns copies of the slots that can still be claimed.
func (b Broadcast) AvailableSlots() []Slot {
	out := []Slot{}
	for _, s := range b.Slots {
		if s.Status == SlotAvailable && s.Spare() > 0 {
			out = append(out, s.Clone())
		}
	}
	return out
}
