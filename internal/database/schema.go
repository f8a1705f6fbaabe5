package database

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// Tables the reservation core reads and writes.  The catalogue tables
// (sessions, seats) are owned by the catalogue service; they are declared
// here only so that a fresh database is usable.  uq_sales_session_seat is
// the last line of defence against a double sale and must never be dropped.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		movie_title VARCHAR(255) NOT NULL,
		room_name   VARCHAR(255) NOT NULL,
		start_time  DATETIME(3)  NOT NULL,
		price_cents INT UNSIGNED NOT NULL,
		created_at  DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seats (
		id          CHAR(36)    NOT NULL PRIMARY KEY,
		session_id  CHAR(36)    NOT NULL,
		seat_number VARCHAR(16) NOT NULL,
		created_at  DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		UNIQUE KEY uq_seats_session_number (session_id, seat_number),
		CONSTRAINT fk_seats_session FOREIGN KEY (session_id) REFERENCES sessions (id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id         CHAR(36)    NOT NULL PRIMARY KEY,
		user_id    CHAR(36)    NOT NULL,
		session_id CHAR(36)    NOT NULL,
		seat_id    CHAR(36)    NOT NULL,
		status     VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		expires_at DATETIME(3) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		KEY ix_reservations_seat_status (session_id, seat_id, status),
		KEY ix_reservations_status_expiry (status, expires_at),
		KEY ix_reservations_user (user_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sales (
		id                CHAR(36)     NOT NULL PRIMARY KEY,
		reservation_id    CHAR(36)     NOT NULL,
		user_id           CHAR(36)     NOT NULL,
		session_id        CHAR(36)     NOT NULL,
		seat_id           CHAR(36)     NOT NULL,
		amount_paid_cents INT UNSIGNED NOT NULL,
		created_at        DATETIME(3)  NOT NULL,
		UNIQUE KEY uq_sales_session_seat (session_id, seat_id),
		UNIQUE KEY uq_sales_reservation (reservation_id),
		KEY ix_sales_user (user_id),
		CONSTRAINT fk_sales_reservation FOREIGN KEY (reservation_id) REFERENCES reservations (id)
	) ENGINE=InnoDB`,
}

// EnsureSchema creates any missing table.  It is idempotent and safe to run
// on every start.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}
