package model

import "time"

// Seat is one seat of a session's room.  Seats are uniquely identified by
// their session and seat number.
//
// Fields:
//  ID         – generated UUID.
//  SessionID  – session the seat is sold for.
//  SeatNumber – label printed on the ticket, e.g. "F12".
//  CreatedAt  – creation timestamp.
type Seat struct {
    ID         string    `db:"id"`          // seats.id
    SessionID  string    `db:"session_id"`  // seats.session_id
    SeatNumber string    `db:"seat_number"` // seats.seat_number
    CreatedAt  time.Time `db:"created_at"`  // seats.created_at
}
