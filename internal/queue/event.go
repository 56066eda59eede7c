// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records them.
package queue

import "time"

// EventsQueue is the durable queue every booking event is routed to.
const EventsQueue = "slot.events"

// EventType names what happened to a slot or broadcast.
type EventType string

const (
	SlotClaimed        EventType = "slot.claimed"
	SlotReleased       EventType = "slot.released"
	BroadcastCancelled EventType = "broadcast.cancelled"
)

// SlotEvent is published after a claim, release or cancellation commits.
// It carries enough for downstream consumers to notify the scholar and the
// students involved without querying the primary database.
type SlotEvent struct {
	Type        EventType `json:"type"`
	BroadcastID uint64    `json:"broadcast_id"`
	SlotID      uint64    `json:"slot_id,omitempty"`
	OwnerID     uint64    `json:"owner_id,omitempty"`
	ConsumerID  uint64    `json:"consumer_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	StartsAt    time.Time `json:"starts_at,omitzero"`
	EndsAt      time.Time `json:"ends_at,omitzero"`
	Status      string    `json:"status"`
	Booked      int       `json:"booked,omitempty"`
	Capacity    int       `json:"capacity,omitempty"`
	Cancelled   int       `json:"cancelled,omitempty"`
	// Affected lists consumers whose bookings sit on a cancelled broadcast.
	Affected   []uint64  `json:"affected,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
