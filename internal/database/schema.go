package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied in order by Migrate.  Every statement is idempotent.
// The two unique keys on slot_bookings enforce one booking per consumer
// per slot and one slot per consumer per broadcast.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS broadcasts (
        id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
        owner_id    BIGINT UNSIGNED NOT NULL,
        title       VARCHAR(200)    NOT NULL,
        description TEXT            NOT NULL,
        timezone    VARCHAR(64)     NOT NULL DEFAULT 'UTC',
        status      ENUM('ACTIVE','CANCELLED') NOT NULL DEFAULT 'ACTIVE',
        created_at  DATETIME        NOT NULL,
        expires_at  DATETIME        NOT NULL,
        PRIMARY KEY (id),
        KEY idx_broadcasts_owner (owner_id),
        KEY idx_broadcasts_open (status, expires_at)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS slots (
        id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
        broadcast_id BIGINT UNSIGNED NOT NULL,
        position     INT             NOT NULL,
        starts_at    DATETIME        NOT NULL,
        ends_at      DATETIME        NOT NULL,
        capacity     INT             NOT NULL DEFAULT 1,
        status       ENUM('AVAILABLE','BOOKED','CANCELLED') NOT NULL DEFAULT 'AVAILABLE',
        version      INT UNSIGNED    NOT NULL DEFAULT 0,
        PRIMARY KEY (id),
        UNIQUE KEY uq_slots_position (broadcast_id, position),
        KEY idx_slots_starts (starts_at),
        CONSTRAINT fk_slots_broadcast FOREIGN KEY (broadcast_id) REFERENCES broadcasts (id) ON DELETE CASCADE,
        CONSTRAINT chk_slots_range CHECK (ends_at > starts_at),
        CONSTRAINT chk_slots_capacity CHECK (capacity >= 1)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS slot_bookings (
        id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
        slot_id      BIGINT UNSIGNED NOT NULL,
        broadcast_id BIGINT UNSIGNED NOT NULL,
        consumer_id  BIGINT UNSIGNED NOT NULL,
        created_at   DATETIME        NOT NULL,
        PRIMARY KEY (id),
        UNIQUE KEY uq_bookings_slot_consumer (slot_id, consumer_id),
        UNIQUE KEY uq_bookings_broadcast_consumer (broadcast_id, consumer_id),
        KEY idx_bookings_consumer (consumer_id),
        CONSTRAINT fk_bookings_slot FOREIGN KEY (slot_id) REFERENCES slots (id) ON DELETE CASCADE
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables the booking ledger needs.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
