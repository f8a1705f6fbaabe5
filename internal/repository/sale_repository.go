package repository

import (
    "context"
    "database/sql"

    "github.com/cockroachdb/errors"
    "github.com/jmoiron/sqlx"

    "github.com/iliyamo/cinema-ticket-sales/internal/model"
)

// SaleRepo provides access to the sales table.  Sales are immutable: they
// are inserted once and never updated or deleted.
type SaleRepo struct {
    db *sqlx.DB
}

// NewSaleRepo returns a new SaleRepo bound to the given database.
func NewSaleRepo(db *sqlx.DB) *SaleRepo { return &SaleRepo{db: db} }

const saleColumns = `id, reservation_id, user_id, session_id, seat_id, amount_paid_cents, created_at`

// ExistsTx reports whether the seat of the session has been sold.
func (r *SaleRepo) ExistsTx(ctx context.Context, tx *sqlx.Tx, sessionID, seatID string) (bool, error) {
    const q = `SELECT id FROM sales WHERE session_id = ? AND seat_id = ? LIMIT 1`
    var id string
    err := tx.GetContext(ctx, &id, q, sessionID, seatID)
    if errors.Is(err, sql.ErrNoRows) {
        return false, nil
    }
    if err != nil {
        return false, errors.Wrap(err, "check sale")
    }
    return true, nil
}

// CreateTx inserts a sale.  A unique key violation (seat already sold, or
// reservation already paid) is reported as ErrDuplicateSale.
func (r *SaleRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, s *model.Sale) error {
    const q = `INSERT INTO sales (` + saleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
    _, err := tx.ExecContext(ctx, q,
        s.ID, s.ReservationID, s.UserID, s.SessionID, s.SeatID, s.AmountPaidCents, s.CreatedAt)
    if isDuplicateKey(err) {
        return errors.WithStack(ErrDuplicateSale)
    }
    if err != nil {
        return errors.Wrap(err, "insert sale")
    }
    return nil
}

// ListByUser returns the purchase history of a user, newest first.
func (r *SaleRepo) ListByUser(ctx context.Context, userID string) ([]model.Sale, error) {
    const q = `SELECT ` + saleColumns + ` FROM sales WHERE user_id = ? ORDER BY created_at DESC`
    out := []model.Sale{}
    if err := r.db.SelectContext(ctx, &out, q, userID); err != nil {
        return nil, errors.Wrapf(err, "list sales of %s", userID)
    }
    return out, nil
}
