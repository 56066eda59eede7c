package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotUnavailable means the claim lost a race or the slot is full,
	// cancelled, already started or its broadcast is closed. Callers may
	// immediately ask for alternatives.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrAlreadyClaimed is a SlotUnavailable: the consumer already holds a
	// slot in the same broadcast.
	ErrAlreadyClaimed = fmt.Errorf("%w: consumer already holds a slot in this broadcast", ErrSlotUnavailable)

	// ErrNotBooked is returned by Release when the consumer holds no claim
	// on the slot.
	ErrNotBooked = errors.New("consumer has not booked this slot")

	ErrSlotNotFound      = errors.New("slot not found")
	ErrBroadcastNotFound = errors.New("broadcast not found")

	// ErrInvalidBroadcast covers publish-time validation failures.
	ErrInvalidBroadcast = errors.New("invalid broadcast")
)
