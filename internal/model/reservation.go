package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.  PENDING is the
// only non-terminal state; a reservation never leaves COMPLETED, EXPIRED or
// CANCELLED.
type ReservationStatus string

const (
    ReservationPending   ReservationStatus = "PENDING"
    ReservationCompleted ReservationStatus = "COMPLETED"
    ReservationExpired   ReservationStatus = "EXPIRED"
    ReservationCancelled ReservationStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s ReservationStatus) Terminal() bool {
    return s != ReservationPending
}

// Reservation is a time-bounded claim by a user on one seat of a session.
// At most one PENDING reservation with ExpiresAt in the future may exist per
// (SessionID, SeatID).
//
// Fields:
//  ID        – generated UUID.
//  UserID    – user holding the seat.
//  SessionID – showing the seat belongs to.
//  SeatID    – seat being held.
//  Status    – PENDING, COMPLETED, EXPIRED or CANCELLED.
//  ExpiresAt – end of the hold window (CreatedAt + hold duration).
//  CreatedAt – creation timestamp.
type Reservation struct {
    ID        string            `db:"id" json:"id"`                // reservations.id
    UserID    string            `db:"user_id" json:"userId"`       // reservations.user_id
    SessionID string            `db:"session_id" json:"sessionId"` // reservations.session_id
    SeatID    string            `db:"seat_id" json:"seatId"`       // reservations.seat_id
    Status    ReservationStatus `db:"status" json:"status"`        // reservations.status
    ExpiresAt time.Time         `db:"expires_at" json:"expiresAt"` // reservations.expires_at
    CreatedAt time.Time         `db:"created_at" json:"createdAt"` // reservations.created_at
}

// ExpiredAt reports whether the hold window has passed at now.
func (r Reservation) ExpiredAt(now time.Time) bool {
    return r.ExpiresAt.Before(now)
}
