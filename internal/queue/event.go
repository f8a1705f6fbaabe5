// Package queue defines the domain events exchanged over RabbitMQ and the
// machinery that publishes, consumes, retries and dead-letters them.
package queue

import (
    "time"

    "github.com/cockroachdb/errors"
)

// Kind names an event.  It is at the same time the routing key and the name
// of the queue bound to it.
type Kind string

const (
    ReservationCreated Kind = "reservation.created"
    ReservationExpired Kind = "reservation.expired"
    PaymentConfirmed   Kind = "payment.confirmed"
    SeatReleased       Kind = "seat.released"
)

// Kinds lists every event kind; topology and consumers iterate over it.
var Kinds = []Kind{ReservationCreated, ReservationExpired, PaymentConfirmed, SeatReleased}

// Event is implemented only by the four payload types below.
type Event interface {
    Kind() Kind
    Validate() error
}

var errMissingField = errors.New("event is missing a required field")

// ReservationCreatedEvent is published after a reservation commits.
type ReservationCreatedEvent struct {
    ReservationID string    `json:"reservationId"`
    UserID        string    `json:"userId"`
    SessionID     string    `json:"sessionId"`
    SeatID        string    `json:"seatId"`
    ExpiresAt     time.Time `json:"expiresAt"`
}

func (ReservationCreatedEvent) Kind() Kind { return ReservationCreated }

func (e ReservationCreatedEvent) Validate() error {
    return requireFields(e.Kind(), e.ReservationID, e.UserID, e.SessionID, e.SeatID)
}

// ReservationExpiredEvent is emitted by either expiration path once a hold
// window has passed.  It may be delivered more than once.
type ReservationExpiredEvent struct {
    ReservationID string `json:"reservationId"`
    SessionID     string `json:"sessionId"`
    SeatID        string `json:"seatId"`
}

func (ReservationExpiredEvent) Kind() Kind { return ReservationExpired }

func (e ReservationExpiredEvent) Validate() error {
    return requireFields(e.Kind(), e.ReservationID, e.SessionID, e.SeatID)
}

// PaymentConfirmedEvent is published after a sale commits.
type PaymentConfirmedEvent struct {
    SaleID        string `json:"saleId"`
    ReservationID string `json:"reservationId"`
    UserID        string `json:"userId"`
    SessionID     string `json:"sessionId"`
    SeatID        string `json:"seatId"`
}

func (PaymentConfirmedEvent) Kind() Kind { return PaymentConfirmed }

func (e PaymentConfirmedEvent) Validate() error {
    return requireFields(e.Kind(), e.SaleID, e.ReservationID, e.UserID, e.SessionID, e.SeatID)
}

// SeatReleasedEvent tells inventory consumers that a seat is free again.
type SeatReleasedEvent struct {
    SessionID string `json:"sessionId"`
    SeatID    string `json:"seatId"`
}

func (SeatReleasedEvent) Kind() Kind { return SeatReleased }

func (e SeatReleasedEvent) Validate() error {
    return requireFields(e.Kind(), e.SessionID, e.SeatID)
}

func requireFields(kind Kind, fields ...string) error {
    for _, f := range fields {
        if f == "" {
            return errors.Wrapf(errMissingField, "%s", kind)
        }
    }
    return nil
}
