package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/cockroachdb/errors"
    "github.com/jmoiron/sqlx"

    "github.com/iliyamo/cinema-ticket-sales/internal/model"
)

// ReservationRepo provides access to the reservations table.  A reservation
// is a time-limited hold on one seat of one session.  All timestamps are
// stored and compared in UTC; callers pass "now" explicitly so the
// comparison never depends on the database clock.
type ReservationRepo struct {
    db *sqlx.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sqlx.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, user_id, session_id, seat_id, status, expires_at, created_at`

// CreateTx inserts a reservation within the caller's transaction.  The
// record must already carry its id and timestamps.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, res *model.Reservation) error {
    const q = `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
    _, err := tx.ExecContext(ctx, q,
        res.ID, res.UserID, res.SessionID, res.SeatID, res.Status, res.ExpiresAt, res.CreatedAt)
    if err != nil {
        return errors.Wrap(err, "insert reservation")
    }
    return nil
}

// ActiveHoldExistsTx reports whether (sessionID, seatID) has a PENDING
// reservation whose hold has not elapsed at now.  Matching rows are locked,
// so a concurrent transaction checking the same seat waits for this one to
// finish.
func (r *ReservationRepo) ActiveHoldExistsTx(ctx context.Context, tx *sqlx.Tx, sessionID, seatID string, now time.Time) (bool, error) {
    const q = `SELECT id FROM reservations
               WHERE session_id = ? AND seat_id = ? AND status = ? AND expires_at >= ?
               LIMIT 1 FOR UPDATE`
    var id string
    err := tx.GetContext(ctx, &id, q, sessionID, seatID, model.ReservationPending, now)
    if errors.Is(err, sql.ErrNoRows) {
        return false, nil
    }
    if err != nil {
        return false, errors.Wrap(err, "check active hold")
    }
    return true, nil
}

// GetForUpdateTx loads a reservation by id and locks its row until the
// transaction ends.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
    var res model.Reservation
    err := tx.GetContext(ctx, &res, q, id)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, errors.Wrapf(err, "load reservation %s", id)
    }
    return &res, nil
}

// SetStatusTx overwrites the status of a reservation the caller has locked.
func (r *ReservationRepo) SetStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status model.ReservationStatus) error {
    const q = `UPDATE reservations SET status = ? WHERE id = ?`
    res, err := tx.ExecContext(ctx, q, status, id)
    if err != nil {
        return errors.Wrapf(err, "set reservation %s status", id)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return errors.Wrap(err, "rows affected")
    }
    if n == 0 {
        return ErrNotFound
    }
    return nil
}

// ExpirePending moves the reservation to EXPIRED only if it is still
// PENDING and its hold elapsed before now.  The condition lives in the
// UPDATE itself, so concurrent or repeated calls change the row at most
// once; the boolean reports whether this call did.
func (r *ReservationRepo) ExpirePending(ctx context.Context, id string, now time.Time) (bool, error) {
    const q = `UPDATE reservations SET status = ?
               WHERE id = ? AND status = ? AND expires_at < ?`
    res, err := r.db.ExecContext(ctx, q, model.ReservationExpired, id, model.ReservationPending, now)
    if err != nil {
        return false, errors.Wrapf(err, "expire reservation %s", id)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, errors.Wrap(err, "rows affected")
    }
    return n > 0, nil
}

// ListExpiredPending returns PENDING reservations whose hold elapsed before
// now, oldest first.  limit <= 0 means no limit.
func (r *ReservationRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
    q := `SELECT ` + reservationColumns + ` FROM reservations
          WHERE status = ? AND expires_at < ?
          ORDER BY expires_at`
    args := []interface{}{model.ReservationPending, now}
    if limit > 0 {
        q += ` LIMIT ?`
        args = append(args, limit)
    }
    out := []model.Reservation{}
    if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
        return nil, errors.Wrap(err, "list expired reservations")
    }
    return out, nil
}

// ListByUser returns every reservation of a user, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE user_id = ? ORDER BY created_at DESC`
    out := []model.Reservation{}
    if err := r.db.SelectContext(ctx, &out, q, userID); err != nil {
        return nil, errors.Wrapf(err, "list reservations of %s", userID)
    }
    return out, nil
}
