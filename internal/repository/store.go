package repository

import (
    "context"
    "time"

    "github.com/cockroachdb/errors"
    "github.com/jmoiron/sqlx"

    "github.com/iliyamo/cinema-ticket-sales/internal/model"
)

// Tx is the set of operations available inside one database transaction.
// Methods that read rows the caller is about to change lock them.
type Tx interface {
    // SeatInSession reports whether seatID is a seat of sessionID.
    SeatInSession(ctx context.Context, sessionID, seatID string) (bool, error)
    // SeatSold reports whether a sale exists for (sessionID, seatID).
    SeatSold(ctx context.Context, sessionID, seatID string) (bool, error)
    // SeatHeld reports whether a PENDING reservation whose hold has not
    // elapsed at now exists for (sessionID, seatID).
    SeatHeld(ctx context.Context, sessionID, seatID string, now time.Time) (bool, error)
    InsertReservation(ctx context.Context, r *model.Reservation) error
    // ReservationForUpdate loads the reservation and takes a row lock on
    // it.  ErrNotFound when absent.
    ReservationForUpdate(ctx context.Context, id string) (*model.Reservation, error)
    SetReservationStatus(ctx context.Context, id string, status model.ReservationStatus) error
    // SessionPrice returns the ticket price of a session in cents.
    SessionPrice(ctx context.Context, sessionID string) (uint32, error)
    // InsertSale returns ErrDuplicateSale on a unique key violation.
    InsertSale(ctx context.Context, s *model.Sale) error
}

// Store is the persistence surface used by the services.
type Store interface {
    // WithTx runs fn in a transaction, committing when fn returns nil and
    // rolling back otherwise.
    WithTx(ctx context.Context, fn func(Tx) error) error
    // ExpirePending moves a reservation from PENDING to EXPIRED provided its
    // hold elapsed before now.  It reports whether a row changed.
    ExpirePending(ctx context.Context, id string, now time.Time) (bool, error)
    // ListExpiredPending returns up to limit PENDING reservations whose
    // hold elapsed before now, oldest first.
    ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
    ReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error)
    SalesByUser(ctx context.Context, userID string) ([]model.Sale, error)
}

// SQLStore implements Store on MySQL.
type SQLStore struct {
    db           *sqlx.DB
    reservations *ReservationRepo
    sales        *SaleRepo
    sessions     *SessionRepo
    seats        *SeatRepo
}

// NewSQLStore returns a Store bound to db.
func NewSQLStore(db *sqlx.DB) *SQLStore {
    return &SQLStore{
        db:           db,
        reservations: NewReservationRepo(db),
        sales:        NewSaleRepo(db),
        sessions:     NewSessionRepo(db),
        seats:        NewSeatRepo(db),
    }
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
    tx, err := s.db.BeginTxx(ctx, nil)
    if err != nil {
        return errors.Wrap(err, "begin tx")
    }
    defer func() {
        if p := recover(); p != nil {
            _ = tx.Rollback()
            panic(p)
        }
        if err != nil {
            _ = tx.Rollback()
        }
    }()

    if err = fn(&sqlTx{tx: tx, store: s}); err != nil {
        return err
    }
    if err = tx.Commit(); err != nil {
        return errors.Wrap(err, "commit tx")
    }
    return nil
}

func (s *SQLStore) ExpirePending(ctx context.Context, id string, now time.Time) (bool, error) {
    return s.reservations.ExpirePending(ctx, id, now)
}

func (s *SQLStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
    return s.reservations.ListExpiredPending(ctx, now, limit)
}

func (s *SQLStore) ReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
    return s.reservations.ListByUser(ctx, userID)
}

func (s *SQLStore) SalesByUser(ctx context.Context, userID string) ([]model.Sale, error) {
    return s.sales.ListByUser(ctx, userID)
}

// sqlTx binds the repositories to a single *sqlx.Tx.
type sqlTx struct {
    tx    *sqlx.Tx
    store *SQLStore
}

func (t *sqlTx) SeatInSession(ctx context.Context, sessionID, seatID string) (bool, error) {
    _, err := t.store.seats.GetInSessionTx(ctx, t.tx, sessionID, seatID)
    if errors.Is(err, ErrNotFound) {
        return false, nil
    }
    return err == nil, err
}

func (t *sqlTx) SeatSold(ctx context.Context, sessionID, seatID string) (bool, error) {
    return t.store.sales.ExistsTx(ctx, t.tx, sessionID, seatID)
}

func (t *sqlTx) SeatHeld(ctx context.Context, sessionID, seatID string, now time.Time) (bool, error) {
    return t.store.reservations.ActiveHoldExistsTx(ctx, t.tx, sessionID, seatID, now)
}

func (t *sqlTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
    return t.store.reservations.CreateTx(ctx, t.tx, r)
}

func (t *sqlTx) ReservationForUpdate(ctx context.Context, id string) (*model.Reservation, error) {
    return t.store.reservations.GetForUpdateTx(ctx, t.tx, id)
}

func (t *sqlTx) SetReservationStatus(ctx context.Context, id string, status model.ReservationStatus) error {
    return t.store.reservations.SetStatusTx(ctx, t.tx, id, status)
}

func (t *sqlTx) SessionPrice(ctx context.Context, sessionID string) (uint32, error) {
    return t.store.sessions.PriceTx(ctx, t.tx, sessionID)
}

func (t *sqlTx) InsertSale(ctx context.Context, s *model.Sale) error {
    return t.store.sales.CreateTx(ctx, t.tx, s)
}
