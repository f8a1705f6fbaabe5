package model

import "time"

// Sale is the immutable record of a paid seat.  It is created exactly once
// from a PENDING reservation and is unique per (SessionID, SeatID).
//
// Fields:
//  ID              – generated UUID.
//  ReservationID   – reservation the sale was confirmed from (1:1).
//  UserID          – buyer.
//  SessionID       – showing.
//  SeatID          – seat sold.
//  AmountPaidCents – session price at confirmation time.
//  CreatedAt       – confirmation timestamp.
type Sale struct {
    ID              string    `db:"id" json:"id"`                           // sales.id
    ReservationID   string    `db:"reservation_id" json:"reservationId"`    // sales.reservation_id
    UserID          string    `db:"user_id" json:"userId"`                  // sales.user_id
    SessionID       string    `db:"session_id" json:"sessionId"`            // sales.session_id
    SeatID          string    `db:"seat_id" json:"seatId"`                  // sales.seat_id
    AmountPaidCents uint32    `db:"amount_paid_cents" json:"amountPaidCents"` // sales.amount_paid_cents
    CreatedAt       time.Time `db:"created_at" json:"createdAt"`            // sales.created_at
}
