package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the tables owned by the booking service.  The showtime,
// movie and user records live in their own services and are referenced by
// id only.
//
// booked_seats.active_flag is 1 for live holds and NULL otherwise; since
// MySQL allows any number of NULLs in a unique key, uq_booked_seats_active
// permits exactly one live hold per seat while keeping released history.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		payment_id   BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		amount_cents BIGINT NOT NULL,
		status       ENUM('pending','completed','failed','refunded') NOT NULL DEFAULT 'pending',
		created_by   BIGINT UNSIGNED NULL,
		is_deleted   TINYINT(1) NOT NULL DEFAULT 0,
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (payment_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bookings (
		booking_id   BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id      BIGINT UNSIGNED NOT NULL,
		showtime_id  BIGINT UNSIGNED NOT NULL,
		payment_id   BIGINT UNSIGNED NULL,
		booking_time DATETIME NOT NULL,
		status       ENUM('pending','confirmed','cancelled','failed') NOT NULL DEFAULT 'pending',
		is_deleted   TINYINT(1) NOT NULL DEFAULT 0,
		created_by   BIGINT UNSIGNED NULL,
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (booking_id),
		UNIQUE KEY uq_bookings_payment (payment_id),
		KEY idx_bookings_user_time (user_id, booking_time),
		KEY idx_bookings_showtime (showtime_id),
		CONSTRAINT fk_bookings_payment FOREIGN KEY (payment_id) REFERENCES payments (payment_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS booked_seats (
		seat_id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		booking_id       BIGINT UNSIGNED NOT NULL,
		showtime_id      BIGINT UNSIGNED NOT NULL,
		seat_row         CHAR(1) NOT NULL,
		seat_col         INT UNSIGNED NOT NULL,
		status           ENUM('on_hold','booked','released') NOT NULL DEFAULT 'on_hold',
		hold_expiry_time DATETIME NULL,
		is_deleted       TINYINT(1) NOT NULL DEFAULT 0,
		created_by       BIGINT UNSIGNED NULL,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		active_flag      TINYINT AS (IF(is_deleted = 0 AND status IN ('on_hold','booked'), 1, NULL)) STORED,
		PRIMARY KEY (seat_id),
		UNIQUE KEY uq_booked_seats_active (showtime_id, seat_row, seat_col, active_flag),
		KEY idx_booked_seats_lookup (showtime_id, seat_row, seat_col, status),
		KEY idx_booked_seats_booking (booking_id),
		KEY idx_booked_seats_expiry (status, hold_expiry_time),
		CONSTRAINT fk_booked_seats_booking FOREIGN KEY (booking_id) REFERENCES bookings (booking_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates any missing tables.  It is safe to run on every boot.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
