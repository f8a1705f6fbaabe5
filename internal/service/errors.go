package service

import "github.com/cockroachdb/errors"

// Category errors.  Every domain outcome below is marked with exactly one
// of them, so callers can branch on the category with errors.Is while the
// concrete outcome is still available for logging and response codes.
var (
	// ErrConflict: the seat cannot be taken right now or ever.
	ErrConflict = errors.New("conflict")
	// ErrNotFound: the addressed resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRejected: the request is well-formed but not allowed in the
	// resource's current state.
	ErrRejected = errors.New("rejected")
	// ErrInvalidInput: the request itself is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

var (
	// ErrSeatBusy: another request holds the seat lease.  Not retried
	// internally; the client may retry.
	ErrSeatBusy = errors.Mark(errors.New("seat is being reserved by another request"), ErrConflict)
	// ErrAlreadySold: a sale exists for the seat.
	ErrAlreadySold = errors.Mark(errors.New("seat already sold"), ErrConflict)
	// ErrAlreadyReserved: an unexpired PENDING reservation exists for the seat.
	ErrAlreadyReserved = errors.Mark(errors.New("seat already reserved"), ErrConflict)

	ErrReservationNotFound = errors.Mark(errors.New("reservation not found"), ErrNotFound)
	ErrSessionNotFound     = errors.Mark(errors.New("session not found"), ErrNotFound)
	// ErrSeatNotFound: the seat is not part of the session.
	ErrSeatNotFound = errors.Mark(errors.New("seat not found in session"), ErrNotFound)

	// ErrInvalidState: the reservation is no longer PENDING.
	ErrInvalidState = errors.Mark(errors.New("reservation is not pending"), ErrRejected)
	// ErrReservationExpired: the hold window elapsed before confirmation.
	ErrReservationExpired = errors.Mark(errors.New("reservation expired"), ErrRejected)
)

func invalidInput(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}
