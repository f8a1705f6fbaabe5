package model

import "time"

// Session is a single showing of a movie in a room.  The reservation core
// only reads it, to price a sale.
type Session struct {
    ID         string    `db:"id"`          // sessions.id
    MovieTitle string    `db:"movie_title"` // sessions.movie_title
    RoomName   string    `db:"room_name"`   // sessions.room_name
    StartTime  time.Time `db:"start_time"`  // sessions.start_time
    PriceCents uint32    `db:"price_cents"` // sessions.price_cents
    CreatedAt  time.Time `db:"created_at"`  // sessions.created_at
}
