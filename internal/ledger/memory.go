package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/model"
)

type slotEntry struct {
	mu   sync.Mutex
	slot model.Slot
}

type broadcastEntry struct {
	mu      sync.RWMutex // guards header
	header  model.Broadcast
	slotIDs []uint64 // ascending, also the cancel lock order
}

func (e *broadcastEntry) snapshot() model.Broadcast {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.header
}

type holdKey struct {
	broadcastID, consumerID uint64
}

// MemoryLedger keeps the ledger in process memory. Lock order is
// slot entry, then broadcast header, then holdings.
type MemoryLedger struct {
	mu         sync.RWMutex // guards the maps and counters below
	broadcasts map[uint64]*broadcastEntry
	slots      map[uint64]*slotEntry
	nextBID    uint64
	nextSID    uint64

	holdMu   sync.Mutex
	holdings map[holdKey]uint64

	now func() time.Time
	ttl time.Duration
}

// NewMemoryLedger builds an empty ledger. now defaults to time.Now and ttl
// to DefaultTTL.
func NewMemoryLedger(now func() time.Time, ttl time.Duration) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		broadcasts: make(map[uint64]*broadcastEntry),
		slots:      make(map[uint64]*slotEntry),
		holdings:   make(map[holdKey]uint64),
		now:        now,
		ttl:        ttl,
	}
}

var _ Ledger = (*MemoryLedger)(nil)

func (l *MemoryLedger) Publish(ctx context.Context, b model.Broadcast) (model.Broadcast, error) {
	if err := ctx.Err(); err != nil {
		return model.Broadcast{}, err
	}
	prepared, err := PrepareBroadcast(b, l.now().UTC(), l.ttl)
	if err != nil {
		return model.Broadcast{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextBID++
	prepared.ID = l.nextBID
	entry := &broadcastEntry{}
	for i := range prepared.Slots {
		l.nextSID++
		prepared.Slots[i].ID = l.nextSID
		prepared.Slots[i].BroadcastID = prepared.ID
		l.slots[l.nextSID] = &slotEntry{slot: prepared.Slots[i].Clone()}
		entry.slotIDs = append(entry.slotIDs, l.nextSID)
	}
	entry.header = prepared
	entry.header.Slots = nil
	l.broadcasts[prepared.ID] = entry
	return prepared, nil
}

func (l *MemoryLedger) slotEntry(id uint64) (*slotEntry, *broadcastEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	se, ok := l.slots[id]
	if !ok {
		return nil, nil, ErrSlotNotFound
	}
	// BroadcastID never changes after publish
	be := l.broadcasts[se.slot.BroadcastID]
	return se, be, nil
}

func (l *MemoryLedger) broadcastEntry(id uint64) (*broadcastEntry, []*slotEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	be, ok := l.broadcasts[id]
	if !ok {
		return nil, nil, ErrBroadcastNotFound
	}
	ses := make([]*slotEntry, len(be.slotIDs))
	for i, sid := range be.slotIDs {
		ses[i] = l.slots[sid]
	}
	return be, ses, nil
}

func (l *MemoryLedger) assemble(be *broadcastEntry, ses []*slotEntry) model.Broadcast {
	b := be.snapshot()
	b.Slots = make([]model.Slot, len(ses))
	for i, se := range ses {
		se.mu.Lock()
		b.Slots[i] = se.slot.Clone()
		se.mu.Unlock()
	}
	return b
}

func (l *MemoryLedger) Broadcast(ctx context.Context, id uint64) (model.Broadcast, error) {
	if err := ctx.Err(); err != nil {
		return model.Broadcast{}, err
	}
	be, ses, err := l.broadcastEntry(id)
	if err != nil {
		return model.Broadcast{}, err
	}
	return l.assemble(be, ses), nil
}

func (l *MemoryLedger) Slot(ctx context.Context, id uint64) (model.Slot, error) {
	if err := ctx.Err(); err != nil {
		return model.Slot{}, err
	}
	se, _, err := l.slotEntry(id)
	if err != nil {
		return model.Slot{}, err
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.slot.Clone(), nil
}

func (l *MemoryLedger) Claim(ctx context.Context, slotID, consumerID uint64) (model.Slot, error) {
	if err := ctx.Err(); err != nil {
		return model.Slot{}, err
	}
	se, be, err := l.slotEntry(slotID)
	if err != nil {
		return model.Slot{}, err
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	header := be.snapshot()
	next, err := ApplyClaim(header, se.slot, consumerID, l.now())
	if err != nil {
		return model.Slot{}, err
	}

	key := holdKey{broadcastID: header.ID, consumerID: consumerID}
	l.holdMu.Lock()
	if _, taken := l.holdings[key]; taken {
		l.holdMu.Unlock()
		return model.Slot{}, ErrAlreadyClaimed
	}
	l.holdings[key] = slotID
	l.holdMu.Unlock()

	se.slot = next
	return next.Clone(), nil
}

func (l *MemoryLedger) Release(ctx context.Context, slotID, consumerID uint64) (model.Slot, error) {
	if err := ctx.Err(); err != nil {
		return model.Slot{}, err
	}
	se, be, err := l.slotEntry(slotID)
	if err != nil {
		return model.Slot{}, err
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	next, err := ApplyRelease(be.snapshot(), se.slot, consumerID)
	if err != nil {
		return model.Slot{}, err
	}
	l.holdMu.Lock()
	delete(l.holdings, holdKey{broadcastID: next.BroadcastID, consumerID: consumerID})
	l.holdMu.Unlock()

	se.slot = next
	return next.Clone(), nil
}

// CancelBroadcast holds every slot lock of the broadcast while it flips the
// header, so no claim can observe a half-cancelled broadcast. Cancelling an
// already cancelled broadcast cancels nothing and is not an error.
func (l *MemoryLedger) CancelBroadcast(ctx context.Context, broadcastID uint64) (CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return CancelResult{}, err
	}
	be, ses, err := l.broadcastEntry(broadcastID)
	if err != nil {
		return CancelResult{}, err
	}
	for _, se := range ses {
		se.mu.Lock()
	}
	count := 0
	be.mu.Lock()
	if be.header.Status != model.BroadcastCancelled {
		be.header.Status = model.BroadcastCancelled
		for _, se := range ses {
			if next, changed := ApplyCancel(se.slot); changed {
				se.slot = next
				count++
			}
		}
	}
	be.mu.Unlock()
	for i := len(ses) - 1; i >= 0; i-- {
		ses[i].mu.Unlock()
	}
	return CancelResult{Broadcast: l.assemble(be, ses), Cancelled: count}, nil
}

func (l *MemoryLedger) all() []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]uint64, 0, len(l.broadcasts))
	for id := range l.broadcasts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *MemoryLedger) Discover(ctx context.Context, now time.Time) ([]model.Broadcast, error) {
	out := []model.Broadcast{}
	for _, id := range l.all() {
		b, err := l.Broadcast(ctx, id)
		if err != nil {
			return nil, err
		}
		if !b.Open(now) {
			continue
		}
		open := []model.Slot{}
		for _, s := range b.AvailableSlots() {
			if s.Interval.Start().After(now) {
				open = append(open, s)
			}
		}
		if len(open) == 0 {
			continue
		}
		b.Slots = open
		out = append(out, b)
	}
	return out, nil
}

func (l *MemoryLedger) ListByOwner(ctx context.Context, ownerID uint64) ([]model.Broadcast, error) {
	out := []model.Broadcast{}
	for _, id := range l.all() {
		b, err := l.Broadcast(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (l *MemoryLedger) ListByConsumer(ctx context.Context, consumerID uint64) ([]model.Slot, error) {
	l.holdMu.Lock()
	ids := []uint64{}
	for k, sid := range l.holdings {
		if k.consumerID == consumerID {
			ids = append(ids, sid)
		}
	}
	l.holdMu.Unlock()

	out := make([]model.Slot, 0, len(ids))
	for _, sid := range ids {
		s, err := l.Slot(ctx, sid)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start().Before(out[j].Interval.Start()) })
	return out, nil
}
