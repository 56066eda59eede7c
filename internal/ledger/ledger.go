// Package ledger owns the authoritative booking state of published slots.
//
// Claim, Release and CancelBroadcast are serialised per slot: every
// implementation commits the result of the pure transition functions in
// state.go under a per-slot lock (memory) or a row lock plus version check
// (MySQL). A claim racing a cancellation is decided by whichever takes the
// slot lock first; the loser of claim-after-cancel gets ErrSlotUnavailable.
package ledger

import (
	"context"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/model"
)

// CancelResult reports the effect of CancelBroadcast.
type CancelResult struct {
	Broadcast model.Broadcast `json:"broadcast"`
	Cancelled int             `json:"cancelled"`
}

// Ledger is implemented by MemoryLedger and repository.BroadcastRepo.
type Ledger interface {
	// Publish stores a prepared broadcast and returns it with IDs assigned.
	Publish(ctx context.Context, b model.Broadcast) (model.Broadcast, error)
	Broadcast(ctx context.Context, id uint64) (model.Broadcast, error)
	Slot(ctx context.Context, id uint64) (model.Slot, error)

	Claim(ctx context.Context, slotID, consumerID uint64) (model.Slot, error)
	Release(ctx context.Context, slotID, consumerID uint64) (model.Slot, error)
	CancelBroadcast(ctx context.Context, broadcastID uint64) (CancelResult, error)

	// Discover lists open broadcasts at now, each reduced to its
	// claimable slots; broadcasts with none are omitted.
	Discover(ctx context.Context, now time.Time) ([]model.Broadcast, error)
	ListByOwner(ctx context.Context, ownerID uint64) ([]model.Broadcast, error)
	ListByConsumer(ctx context.Context, consumerID uint64) ([]model.Slot, error)
}
