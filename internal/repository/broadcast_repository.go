package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// BroadcastRepo stores the ledger in the broadcasts, slots and
// slot_bookings tables.  Transitions run inside a transaction that holds
// the slot row lock (SELECT ... FOR UPDATE) and commit with a version
// compare-and-swap.  Claims take a shared lock on the broadcast row before
// the slot lock, and CancelBroadcast takes it exclusively, so the two are
// serialised and always lock in the same order.
type BroadcastRepo struct {
	db  *sqlx.DB
	now func() time.Time
	ttl time.Duration
}

// NewBroadcastRepo returns a repository bound to db.  ttl is the default
// broadcast lifetime (ledger.DefaultTTL when zero).
func NewBroadcastRepo(db *sqlx.DB, ttl time.Duration) *BroadcastRepo {
	return &BroadcastRepo{db: db, now: time.Now, ttl: ttl}
}

// DB exposes the underlying handle for health checks.
func (r *BroadcastRepo) DB() *sqlx.DB { return r.db }

var _ ledger.Ledger = (*BroadcastRepo)(nil)

// broadcastRecord mirrors the broadcasts table.
type broadcastRecord struct {
	ID          uint64    `db:"id"`
	OwnerID     uint64    `db:"owner_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Timezone    string    `db:"timezone"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// slotRecord mirrors the slots table.
type slotRecord struct {
	ID          uint64    `db:"id"`
	BroadcastID uint64    `db:"broadcast_id"`
	Position    int       `db:"position"`
	StartsAt    time.Time `db:"starts_at"`
	EndsAt      time.Time `db:"ends_at"`
	Capacity    int       `db:"capacity"`
	Status      string    `db:"status"`
	Version     uint32    `db:"version"`
}

type bookingRecord struct {
	SlotID     uint64 `db:"slot_id"`
	ConsumerID uint64 `db:"consumer_id"`
}

const (
	broadcastColumns = `id, owner_id, title, description, timezone, status, created_at, expires_at`
	slotColumns      = `id, broadcast_id, position, starts_at, ends_at, capacity, status, version`

	qInsertBroadcast = `INSERT INTO broadcasts (owner_id, title, description, timezone, status, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	qInsertSlot      = `INSERT INTO slots (broadcast_id, position, starts_at, ends_at, capacity, status, version) VALUES (?, ?, ?, ?, ?, ?, ?)`

	qBroadcastByID        = `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = ?`
	qBroadcastShare       = qBroadcastByID + ` LOCK IN SHARE MODE`
	qBroadcastForUpdate   = qBroadcastByID + ` FOR UPDATE`
	qBroadcastsOpen       = `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE status = 'ACTIVE' AND expires_at > ? ORDER BY id`
	qBroadcastsByOwner    = `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE owner_id = ? ORDER BY id`
	qCancelBroadcast      = `UPDATE broadcasts SET status = 'CANCELLED' WHERE id = ?`
	qCancelAvailableSlots = `UPDATE slots SET status = 'CANCELLED', version = version + 1 WHERE broadcast_id = ? AND status = 'AVAILABLE'`

	qSlotBroadcastID = `SELECT broadcast_id FROM slots WHERE id = ?`
	qSlotByID        = `SELECT ` + slotColumns + ` FROM slots WHERE id = ?`
	qSlotForUpdate   = qSlotByID + ` FOR UPDATE`
	qSlotsIn         = `SELECT ` + slotColumns + ` FROM slots WHERE broadcast_id IN (?) ORDER BY broadcast_id, position`
	qSlotsByConsumer = `SELECT s.id, s.broadcast_id, s.position, s.starts_at, s.ends_at, s.capacity, s.status, s.version
                        FROM slots s JOIN slot_bookings k ON k.slot_id = s.id
                        WHERE k.consumer_id = ? ORDER BY s.starts_at, s.id`
	qUpdateSlot = `UPDATE slots SET status = ?, version = ? WHERE id = ? AND version = ?`

	qBookingsForSlot       = `SELECT slot_id, consumer_id FROM slot_bookings WHERE slot_id = ? ORDER BY id`
	qBookingsForSlotLocked = qBookingsForSlot + ` FOR UPDATE`
	qBookingsIn            = `SELECT slot_id, consumer_id FROM slot_bookings WHERE slot_id IN (?) ORDER BY id`
	qInsertBooking         = `INSERT INTO slot_bookings (slot_id, broadcast_id, consumer_id, created_at) VALUES (?, ?, ?, ?)`
	qDeleteBooking         = `DELETE FROM slot_bookings WHERE slot_id = ? AND consumer_id = ?`
)

func (rec broadcastRecord) model() model.Broadcast {
	return model.Broadcast{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		Title:       rec.Title,
		Description: rec.Description,
		Timezone:    rec.Timezone,
		Status:      model.BroadcastStatus(rec.Status),
		CreatedAt:   rec.CreatedAt.UTC(),
		ExpiresAt:   rec.ExpiresAt.UTC(),
		Slots:       []model.Slot{},
	}
}

func (rec slotRecord) model(bookedBy []uint64) (model.Slot, error) {
	iv, err := timeslot.New(rec.StartsAt, rec.EndsAt)
	if err != nil {
		return model.Slot{}, fmt.Errorf("slot %d: %w", rec.ID, err)
	}
	if bookedBy == nil {
		bookedBy = []uint64{}
	}
	return model.Slot{
		ID:          rec.ID,
		BroadcastID: rec.BroadcastID,
		Position:    rec.Position,
		Interval:    iv,
		Capacity:    rec.Capacity,
		BookedBy:    bookedBy,
		Status:      model.SlotStatus(rec.Status),
		Version:     rec.Version,
	}, nil
}

// Publish validates b with ledger.PrepareBroadcast and inserts the header
// and its slots in one transaction.
func (r *BroadcastRepo) Publish(ctx context.Context, b model.Broadcast) (model.Broadcast, error) {
	prepared, err := ledger.PrepareBroadcast(b, r.now().UTC(), r.ttl)
	if err != nil {
		return model.Broadcast{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Broadcast{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, qInsertBroadcast,
		prepared.OwnerID, prepared.Title, prepared.Description, prepared.Timezone,
		string(prepared.Status), prepared.CreatedAt, prepared.ExpiresAt)
	if err != nil {
		return model.Broadcast{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Broadcast{}, err
	}
	prepared.ID = uint64(id)

	for i := range prepared.Slots {
		s := &prepared.Slots[i]
		res, err := tx.ExecContext(ctx, qInsertSlot,
			prepared.ID, s.Position, s.Interval.Start(), s.Interval.End(), s.Capacity, string(s.Status), s.Version)
		if err != nil {
			return model.Broadcast{}, err
		}
		sid, err := res.LastInsertId()
		if err != nil {
			return model.Broadcast{}, err
		}
		s.ID = uint64(sid)
		s.BroadcastID = prepared.ID
	}

	if err := tx.Commit(); err != nil {
		return model.Broadcast{}, err
	}
	committed = true
	return prepared, nil
}

// Broadcast loads a broadcast with all of its slots and bookings.
func (r *BroadcastRepo) Broadcast(ctx context.Context, id uint64) (model.Broadcast, error) {
	var rec broadcastRecord
	if err := r.db.GetContext(ctx, &rec, qBroadcastByID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Broadcast{}, ledger.ErrBroadcastNotFound
		}
		return model.Broadcast{}, err
	}
	out, err := r.assemble(ctx, []broadcastRecord{rec})
	if err != nil {
		return model.Broadcast{}, err
	}
	return out[0], nil
}

// Slot loads one slot with its bookings.
func (r *BroadcastRepo) Slot(ctx context.Context, id uint64) (model.Slot, error) {
	return readSlot(ctx, r.db, id, false)
}

// readSlot reads a slot and its bookings.  With lock set both reads are
// locking reads, so inside a REPEATABLE READ transaction they see the
// latest committed rows rather than the transaction's snapshot.
func readSlot(ctx context.Context, q sqlx.QueryerContext, id uint64, lock bool) (model.Slot, error) {
	slotQuery, bookingsQuery := qSlotByID, qBookingsForSlot
	if lock {
		slotQuery, bookingsQuery = qSlotForUpdate, qBookingsForSlotLocked
	}
	var rec slotRecord
	if err := sqlx.GetContext(ctx, q, &rec, slotQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Slot{}, ledger.ErrSlotNotFound
		}
		return model.Slot{}, err
	}
	var bookings []bookingRecord
	if err := sqlx.SelectContext(ctx, q, &bookings, bookingsQuery, id); err != nil {
		return model.Slot{}, err
	}
	consumers := make([]uint64, 0, len(bookings))
	for _, b := range bookings {
		consumers = append(consumers, b.ConsumerID)
	}
	return rec.model(consumers)
}

// Claim books consumerID onto slotID.  The slot_bookings unique keys back
// up the one-slot-per-broadcast rule, so a duplicate insert is reported as
// ledger.ErrAlreadyClaimed.
func (r *BroadcastRepo) Claim(ctx context.Context, slotID, consumerID uint64) (model.Slot, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Slot{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	header, current, err := lockTarget(ctx, tx, slotID)
	if err != nil {
		return model.Slot{}, err
	}

	now := r.now().UTC()
	next, err := ledger.ApplyClaim(header.model(), current, consumerID, now)
	if err != nil {
		return model.Slot{}, err
	}
	if _, err := tx.ExecContext(ctx, qInsertBooking, slotID, header.ID, consumerID, now); err != nil {
		if isDuplicate(err) {
			return model.Slot{}, ledger.ErrAlreadyClaimed
		}
		return model.Slot{}, err
	}
	if err := casSlot(ctx, tx, current, next); err != nil {
		return model.Slot{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Slot{}, err
	}
	committed = true
	return next, nil
}

// Release removes consumerID's booking from slotID.
func (r *BroadcastRepo) Release(ctx context.Context, slotID, consumerID uint64) (model.Slot, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Slot{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	header, current, err := lockTarget(ctx, tx, slotID)
	if err != nil {
		return model.Slot{}, err
	}
	next, err := ledger.ApplyRelease(header.model(), current, consumerID)
	if err != nil {
		return model.Slot{}, err
	}
	if _, err := tx.ExecContext(ctx, qDeleteBooking, slotID, consumerID); err != nil {
		return model.Slot{}, err
	}
	if err := casSlot(ctx, tx, current, next); err != nil {
		return model.Slot{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Slot{}, err
	}
	committed = true
	return next, nil
}

// lockTarget takes the broadcast row in share mode and then the slot row
// with its bookings for update, the lock order every slot transition uses.
func lockTarget(ctx context.Context, tx *sqlx.Tx, slotID uint64) (broadcastRecord, model.Slot, error) {
	var broadcastID uint64
	if err := tx.GetContext(ctx, &broadcastID, qSlotBroadcastID, slotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return broadcastRecord{}, model.Slot{}, ledger.ErrSlotNotFound
		}
		return broadcastRecord{}, model.Slot{}, err
	}
	var header broadcastRecord
	if err := tx.GetContext(ctx, &header, qBroadcastShare, broadcastID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return broadcastRecord{}, model.Slot{}, ledger.ErrBroadcastNotFound
		}
		return broadcastRecord{}, model.Slot{}, err
	}
	current, err := readSlot(ctx, tx, slotID, true)
	if err != nil {
		return broadcastRecord{}, model.Slot{}, err
	}
	return header, current, nil
}

// casSlot writes next over current, failing with ErrSlotUnavailable when
// another writer bumped the version first.
func casSlot(ctx context.Context, tx *sqlx.Tx, current, next model.Slot) error {
	res, err := tx.ExecContext(ctx, qUpdateSlot, string(next.Status), next.Version, current.ID, current.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: slot %d changed concurrently", ledger.ErrSlotUnavailable, current.ID)
	}
	return nil
}

// CancelBroadcast cancels the broadcast and every slot that is still
// AVAILABLE.  Booked slots keep their bookings.  Cancelling twice cancels
// nothing the second time.
func (r *BroadcastRepo) CancelBroadcast(ctx context.Context, broadcastID uint64) (ledger.CancelResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.CancelResult{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var header broadcastRecord
	if err := tx.GetContext(ctx, &header, qBroadcastForUpdate, broadcastID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.CancelResult{}, ledger.ErrBroadcastNotFound
		}
		return ledger.CancelResult{}, err
	}
	cancelled := 0
	if model.BroadcastStatus(header.Status) != model.BroadcastCancelled {
		if _, err := tx.ExecContext(ctx, qCancelBroadcast, broadcastID); err != nil {
			return ledger.CancelResult{}, err
		}
		res, err := tx.ExecContext(ctx, qCancelAvailableSlots, broadcastID)
		if err != nil {
			return ledger.CancelResult{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ledger.CancelResult{}, err
		}
		cancelled = int(n)
	}

	if err := tx.Commit(); err != nil {
		return ledger.CancelResult{}, err
	}
	committed = true

	b, err := r.Broadcast(ctx, broadcastID)
	if err != nil {
		return ledger.CancelResult{}, err
	}
	return ledger.CancelResult{Broadcast: b, Cancelled: cancelled}, nil
}

// Discover lists open broadcasts reduced to their claimable future slots.
func (r *BroadcastRepo) Discover(ctx context.Context, now time.Time) ([]model.Broadcast, error) {
	var recs []broadcastRecord
	if err := r.db.SelectContext(ctx, &recs, qBroadcastsOpen, now.UTC()); err != nil {
		return nil, err
	}
	all, err := r.assemble(ctx, recs)
	if err != nil {
		return nil, err
	}
	out := []model.Broadcast{}
	for _, b := range all {
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

// ListByOwner returns every broadcast published by ownerID, oldest first.
func (r *BroadcastRepo) ListByOwner(ctx context.Context, ownerID uint64) ([]model.Broadcast, error) {
	var recs []broadcastRecord
	if err := r.db.SelectContext(ctx, &recs, qBroadcastsByOwner, ownerID); err != nil {
		return nil, err
	}
	return r.assemble(ctx, recs)
}

// ListByConsumer returns the slots consumerID holds, earliest first.
func (r *BroadcastRepo) ListByConsumer(ctx context.Context, consumerID uint64) ([]model.Slot, error) {
	var recs []slotRecord
	if err := r.db.SelectContext(ctx, &recs, qSlotsByConsumer, consumerID); err != nil {
		return nil, err
	}
	return r.attachBookings(ctx, recs)
}

// assemble loads the slots of recs and returns full broadcasts in the
// order given.
func (r *BroadcastRepo) assemble(ctx context.Context, recs []broadcastRecord) ([]model.Broadcast, error) {
	out := make([]model.Broadcast, 0, len(recs))
	if len(recs) == 0 {
		return out, nil
	}
	ids := make([]uint64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	query, args, err := sqlx.In(qSlotsIn, ids)
	if err != nil {
		return nil, err
	}
	var slotRecs []slotRecord
	if err := r.db.SelectContext(ctx, &slotRecs, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	slots, err := r.attachBookings(ctx, slotRecs)
	if err != nil {
		return nil, err
	}
	byBroadcast := make(map[uint64][]model.Slot, len(recs))
	for _, s := range slots {
		byBroadcast[s.BroadcastID] = append(byBroadcast[s.BroadcastID], s)
	}
	for _, rec := range recs {
		b := rec.model()
		if s := byBroadcast[rec.ID]; s != nil {
			b.Slots = s
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *BroadcastRepo) attachBookings(ctx context.Context, recs []slotRecord) ([]model.Slot, error) {
	out := make([]model.Slot, 0, len(recs))
	if len(recs) == 0 {
		return out, nil
	}
	ids := make([]uint64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	query, args, err := sqlx.In(qBookingsIn, ids)
	if err != nil {
		return nil, err
	}
	var bookings []bookingRecord
	if err := r.db.SelectContext(ctx, &bookings, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	consumers := make(map[uint64][]uint64, len(recs))
	for _, b := range bookings {
		consumers[b.SlotID] = append(consumers[b.SlotID], b.ConsumerID)
	}
	for _, rec := range recs {
		s, err := rec.model(consumers[rec.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
