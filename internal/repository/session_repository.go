package repository

import (
    "context"
    "database/sql"

    "github.com/cockroachdb/errors"
    "github.com/jmoiron/sqlx"

    "github.com/iliyamo/cinema-ticket-sales/internal/model"
)

// SessionRepo reads the sessions table.  Sessions are owned by the
// catalogue; the reservation core only needs their price.
type SessionRepo struct {
    db *sqlx.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sqlx.DB) *SessionRepo { return &SessionRepo{db: db} }

// PriceTx returns the ticket price of the session in cents.
func (r *SessionRepo) PriceTx(ctx context.Context, tx *sqlx.Tx, sessionID string) (uint32, error) {
    const q = `SELECT id, movie_title, room_name, start_time, price_cents, created_at
               FROM sessions WHERE id = ?`
    var s model.Session
    err := tx.GetContext(ctx, &s, q, sessionID)
    if errors.Is(err, sql.ErrNoRows) {
        return 0, ErrNotFound
    }
    if err != nil {
        return 0, errors.Wrapf(err, "load session %s", sessionID)
    }
    return s.PriceCents, nil
}
