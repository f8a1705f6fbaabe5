package repository // repository defines data access for seats

import (
    "context"      // context allows query cancellation and timeouts
    "database/sql" // sql provides DB primitives

    "github.com/cockroachdb/errors"
    "github.com/jmoiron/sqlx"

    "github.com/iliyamo/cinema-ticket-sales/internal/model"
)

// SeatRepo reads the seats table.  The seat inventory is managed by the
// catalogue; reservations only check that a seat belongs to the session.
type SeatRepo struct {
    db *sqlx.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sqlx.DB) *SeatRepo {
    return &SeatRepo{db: db}
}

// GetInSessionTx loads the seat if it belongs to the session.  It returns
// ErrNotFound otherwise.
func (r *SeatRepo) GetInSessionTx(ctx context.Context, tx *sqlx.Tx, sessionID, seatID string) (*model.Seat, error) {
    const q = `SELECT id, session_id, seat_number, created_at
               FROM seats WHERE id = ? AND session_id = ?`
    var s model.Seat
    err := tx.GetContext(ctx, &s, q, seatID, sessionID)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, errors.Wrapf(err, "load seat %s", seatID)
    }
    return &s, nil
}
