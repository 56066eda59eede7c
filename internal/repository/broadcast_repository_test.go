package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

var repoNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*BroadcastRepo, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewBroadcastRepo(sqlx.NewDb(db, "mysql"), 0)
	repo.now = func() time.Time { return repoNow }
	return repo, mock
}

func broadcastRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "title", "description", "timezone", "status", "created_at", "expires_at"})
}

func slotRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "broadcast_id", "position", "starts_at", "ends_at", "capacity", "status", "version"})
}

func bookingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"slot_id", "consumer_id"})
}

func q(s string) string { return regexp.QuoteMeta(s) }

// expectClaimReads queues the reads Claim performs before it decides.
func expectClaimReads(mock sqlmock.Sqlmock, capacity int, booked ...uint64) {
	expectSlotReads(mock, "ACTIVE", "AVAILABLE", capacity, 3, booked...)
}

// expectSlotReads queues the locking reads of slot 10 in broadcast 1.
func expectSlotReads(mock sqlmock.Sqlmock, broadcastStatus, slotStatus string, capacity int, version uint32, booked ...uint64) {
	start := repoNow.Add(2 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(q(qSlotBroadcastID)).WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"broadcast_id"}).AddRow(1))
	mock.ExpectQuery(q(qBroadcastShare)).WithArgs(1).
		WillReturnRows(broadcastRows().AddRow(1, 7, "Office hours", "", "UTC", broadcastStatus, repoNow, repoNow.Add(ledger.DefaultTTL)))
	mock.ExpectQuery(q(qSlotForUpdate)).WithArgs(10).
		WillReturnRows(slotRows().AddRow(10, 1, 0, start, start.Add(time.Hour), capacity, slotStatus, version))
	rows := bookingRows()
	for _, c := range booked {
		rows.AddRow(10, c)
	}
	mock.ExpectQuery(q(qBookingsForSlotLocked)).WithArgs(10).WillReturnRows(rows)
}

func TestBroadcastRepo_Claim(t *testing.T) {
	repo, mock := newTestRepo(t)
	expectClaimReads(mock, 1)
	mock.ExpectExec(q(qInsertBooking)).WithArgs(10, 1, 42, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q(qUpdateSlot)).WithArgs("BOOKED", 4, 10, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, err := repo.Claim(context.Background(), 10, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SlotBooked, s.Status)
	assert.Equal(t, []uint64{42}, s.BookedBy)
	assert.Equal(t, uint32(4), s.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_ClaimFailures(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		expectClaimReads(mock, 1, 5)
		mock.ExpectRollback()

		_, err := repo.Claim(context.Background(), 10, 42)
		assert.ErrorIs(t, err, ledger.ErrSlotUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	// The slot row already reflects a committed claim while the booking list
	// does not; the status alone must refuse a second booking.
	t.Run("booked row without bookings", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		expectSlotReads(mock, "ACTIVE", "BOOKED", 1, 4)
		mock.ExpectRollback()

		_, err := repo.Claim(context.Background(), 10, 42)
		assert.ErrorIs(t, err, ledger.ErrSlotUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate booking", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		expectClaimReads(mock, 2)
		mock.ExpectExec(q(qInsertBooking)).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1-42'"})
		mock.ExpectRollback()

		_, err := repo.Claim(context.Background(), 10, 42)
		assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version moved", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		expectClaimReads(mock, 2)
		mock.ExpectExec(q(qInsertBooking)).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(q(qUpdateSlot)).WithArgs("AVAILABLE", 4, 10, 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.Claim(context.Background(), 10, 42)
		assert.ErrorIs(t, err, ledger.ErrSlotUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown slot", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q(qSlotBroadcastID)).WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"broadcast_id"}))
		mock.ExpectRollback()

		_, err := repo.Claim(context.Background(), 99, 42)
		assert.ErrorIs(t, err, ledger.ErrSlotNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBroadcastRepo_Release(t *testing.T) {
	repo, mock := newTestRepo(t)
	expectSlotReads(mock, "ACTIVE", "BOOKED", 1, 4, 42)
	mock.ExpectExec(q(qDeleteBooking)).WithArgs(10, 42).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qUpdateSlot)).WithArgs("AVAILABLE", 5, 10, 4).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, err := repo.Release(context.Background(), 10, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SlotAvailable, s.Status)
	assert.Empty(t, s.BookedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_ReleaseNotBooked(t *testing.T) {
	repo, mock := newTestRepo(t)
	expectSlotReads(mock, "ACTIVE", "AVAILABLE", 1, 0)
	mock.ExpectRollback()

	_, err := repo.Release(context.Background(), 10, 42)
	assert.ErrorIs(t, err, ledger.ErrNotBooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_ReleaseInCancelledBroadcast(t *testing.T) {
	repo, mock := newTestRepo(t)
	expectSlotReads(mock, "CANCELLED", "BOOKED", 1, 4, 42)
	mock.ExpectExec(q(qDeleteBooking)).WithArgs(10, 42).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qUpdateSlot)).WithArgs("CANCELLED", 5, 10, 4).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, err := repo.Release(context.Background(), 10, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SlotCancelled, s.Status)
	assert.Empty(t, s.BookedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_Publish(t *testing.T) {
	repo, mock := newTestRepo(t)
	first, err := timeslot.FromMinutes(repoNow.Add(24*time.Hour), 60)
	require.NoError(t, err)
	second := first.Shift(2 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(q(qInsertBroadcast)).
		WithArgs(7, "Office hours", "", "UTC", "ACTIVE", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(q(qInsertSlot)).WithArgs(5, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), 1, "AVAILABLE", 0).
		WillReturnResult(sqlmock.NewResult(100, 1))
	mock.ExpectExec(q(qInsertSlot)).WithArgs(5, 1, sqlmock.AnyArg(), sqlmock.AnyArg(), 2, "AVAILABLE", 0).
		WillReturnResult(sqlmock.NewResult(101, 1))
	mock.ExpectCommit()

	b, err := repo.Publish(context.Background(), model.Broadcast{
		OwnerID: 7,
		Title:   "Office hours",
		Slots: []model.Slot{
			{Interval: second, Capacity: 2},
			{Interval: first, Capacity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.ID)
	require.Len(t, b.Slots, 2)
	assert.Equal(t, uint64(100), b.Slots[0].ID)
	assert.True(t, b.Slots[0].Interval.Equal(first))
	assert.Equal(t, repoNow.Add(ledger.DefaultTTL), b.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_PublishInvalid(t *testing.T) {
	repo, mock := newTestRepo(t)
	_, err := repo.Publish(context.Background(), model.Broadcast{OwnerID: 7, Title: "No slots"})
	assert.ErrorIs(t, err, ledger.ErrInvalidBroadcast)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_CancelBroadcast(t *testing.T) {
	repo, mock := newTestRepo(t)
	start := repoNow.Add(2 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(q(qBroadcastForUpdate)).WithArgs(1).
		WillReturnRows(broadcastRows().AddRow(1, 7, "Office hours", "", "UTC", "ACTIVE", repoNow, repoNow.Add(time.Hour*48)))
	mock.ExpectExec(q(qCancelBroadcast)).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qCancelAvailableSlots)).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(q(qBroadcastByID)).WithArgs(1).
		WillReturnRows(broadcastRows().AddRow(1, 7, "Office hours", "", "UTC", "CANCELLED", repoNow, repoNow.Add(time.Hour*48)))
	mock.ExpectQuery(q("FROM slots WHERE broadcast_id IN (")).WithArgs(1).
		WillReturnRows(slotRows().
			AddRow(10, 1, 0, start, start.Add(time.Hour), 1, "BOOKED", 1).
			AddRow(11, 1, 1, start.Add(2*time.Hour), start.Add(3*time.Hour), 1, "CANCELLED", 1))
	mock.ExpectQuery(q("FROM slot_bookings WHERE slot_id IN (")).WithArgs(10, 11).
		WillReturnRows(bookingRows().AddRow(10, 42))

	res, err := repo.CancelBroadcast(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, model.BroadcastCancelled, res.Broadcast.Status)
	require.Len(t, res.Broadcast.Slots, 2)
	assert.Equal(t, []uint64{42}, res.Broadcast.Slots[0].BookedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_CancelUnknown(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(qBroadcastForUpdate)).WithArgs(9).WillReturnRows(broadcastRows())
	mock.ExpectRollback()

	_, err := repo.CancelBroadcast(context.Background(), 9)
	assert.ErrorIs(t, err, ledger.ErrBroadcastNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_Discover(t *testing.T) {
	repo, mock := newTestRepo(t)
	start := repoNow.Add(2 * time.Hour)
	exp := repoNow.Add(48 * time.Hour)

	mock.ExpectQuery(q(qBroadcastsOpen)).WithArgs(repoNow).
		WillReturnRows(broadcastRows().
			AddRow(1, 7, "Open", "", "UTC", "ACTIVE", repoNow, exp).
			AddRow(2, 8, "Fully booked", "", "UTC", "ACTIVE", repoNow, exp))
	mock.ExpectQuery(q("FROM slots WHERE broadcast_id IN (")).WithArgs(1, 2).
		WillReturnRows(slotRows().
			AddRow(10, 1, 0, repoNow.Add(-time.Hour), repoNow, 1, "AVAILABLE", 0).
			AddRow(11, 1, 1, start, start.Add(time.Hour), 2, "AVAILABLE", 1).
			AddRow(20, 2, 0, start, start.Add(time.Hour), 1, "BOOKED", 1))
	mock.ExpectQuery(q("FROM slot_bookings WHERE slot_id IN (")).WithArgs(10, 11, 20).
		WillReturnRows(bookingRows().AddRow(11, 42).AddRow(20, 43))

	got, err := repo.Discover(context.Background(), repoNow)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
	require.Len(t, got[0].Slots, 1)
	assert.Equal(t, uint64(11), got[0].Slots[0].ID)
	assert.Equal(t, 1, got[0].Slots[0].Spare())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_ListByConsumer(t *testing.T) {
	repo, mock := newTestRepo(t)
	start := repoNow.Add(2 * time.Hour)
	mock.ExpectQuery(q(qSlotsByConsumer)).WithArgs(42).
		WillReturnRows(slotRows().AddRow(11, 1, 1, start, start.Add(time.Hour), 2, "AVAILABLE", 1))
	mock.ExpectQuery(q("FROM slot_bookings WHERE slot_id IN (")).WithArgs(11).
		WillReturnRows(bookingRows().AddRow(11, 42))

	got, err := repo.ListByConsumer(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Holds(42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepo_ListByOwnerEmpty(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(q(qBroadcastsByOwner)).WithArgs(7).WillReturnRows(broadcastRows())

	got, err := repo.ListByOwner(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
