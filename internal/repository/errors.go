// Package repository persists broadcasts, slots and bookings in MySQL.
// BroadcastRepo is the production ledger.Ledger; the booking state machine
// itself lives in package ledger and is only committed here.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is MySQL's ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
