// Package testutil provides in-memory stand-ins for the MySQL store and the
// broker publisher, for tests of the services and handlers.
package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/iliyamo/cinema-ticket-sales/internal/model"
	"github.com/iliyamo/cinema-ticket-sales/internal/repository"
)

// MemoryStore implements repository.Store.  Transactions are fully
// serialized and work on a copy of the data that replaces the live data
// only when the transaction function succeeds.  The unique keys of the
// sales table are enforced.
type MemoryStore struct {
	mu           sync.Mutex
	reservations map[string]model.Reservation
	sales        map[string]model.Sale
	prices       map[string]uint32
	seats        map[string]string // seat id -> session id

	// InsertSaleErr, when set, is returned by every InsertSale.
	InsertSaleErr error
}

var _ repository.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations: map[string]model.Reservation{},
		sales:        map[string]model.Sale{},
		prices:       map[string]uint32{},
		seats:        map[string]string{},
	}
}

// AddSeats registers seats of a session.
func (s *MemoryStore) AddSeats(sessionID string, seatIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range seatIDs {
		s.seats[id] = sessionID
	}
}

// SetPrice registers a session and its ticket price.
func (s *MemoryStore) SetPrice(sessionID string, cents uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[sessionID] = cents
}

// PutReservation inserts or overwrites a reservation outside any transaction.
func (s *MemoryStore) PutReservation(r model.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r
}

// PutSale inserts a sale outside any transaction, bypassing unique checks.
func (s *MemoryStore) PutSale(sale model.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales[sale.ID] = sale
}

// Reservation returns a committed reservation.
func (s *MemoryStore) Reservation(id string) (model.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	return r, ok
}

// Reservations returns every committed reservation.
func (s *MemoryStore) Reservations() []model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.reservations))
}

// Sales returns every committed sale.
func (s *MemoryStore) Sales() []model.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.sales))
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		reservations:  maps.Clone(s.reservations),
		sales:         maps.Clone(s.sales),
		prices:        s.prices,
		seats:         s.seats,
		insertSaleErr: s.InsertSaleErr,
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.reservations = tx.reservations
	s.sales = tx.sales
	return nil
}

func (s *MemoryStore) ExpirePending(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok || r.Status != model.ReservationPending || !r.ExpiresAt.Before(now) {
		return false, nil
	}
	r.Status = model.ReservationExpired
	s.reservations[id] = r
	return true, nil
}

func (s *MemoryStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.Status == model.ReservationPending && r.ExpiresAt.Before(now) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int { return a.ExpiresAt.Compare(b.ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ReservationsByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Reservation{}
	for _, r := range s.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SalesByUser(ctx context.Context, userID string) ([]model.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Sale{}
	for _, sale := range s.sales {
		if sale.UserID == userID {
			out = append(out, sale)
		}
	}
	slices.SortFunc(out, func(a, b model.Sale) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

type memTx struct {
	reservations  map[string]model.Reservation
	sales         map[string]model.Sale
	prices        map[string]uint32
	seats         map[string]string
	insertSaleErr error
}

func (t *memTx) SeatInSession(ctx context.Context, sessionID, seatID string) (bool, error) {
	return t.seats[seatID] == sessionID, nil
}

func (t *memTx) SeatSold(ctx context.Context, sessionID, seatID string) (bool, error) {
	for _, sale := range t.sales {
		if sale.SessionID == sessionID && sale.SeatID == seatID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) SeatHeld(ctx context.Context, sessionID, seatID string, now time.Time) (bool, error) {
	for _, r := range t.reservations {
		if r.SessionID == sessionID && r.SeatID == seatID &&
			r.Status == model.ReservationPending && !r.ExpiresAt.Before(now) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if _, ok := t.reservations[r.ID]; ok {
		return errors.Newf("reservation %s exists", r.ID)
	}
	t.reservations[r.ID] = *r
	return nil
}

func (t *memTx) ReservationForUpdate(ctx context.Context, id string) (*model.Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (t *memTx) SetReservationStatus(ctx context.Context, id string, status model.ReservationStatus) error {
	r, ok := t.reservations[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = status
	t.reservations[id] = r
	return nil
}

func (t *memTx) SessionPrice(ctx context.Context, sessionID string) (uint32, error) {
	p, ok := t.prices[sessionID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return p, nil
}

func (t *memTx) InsertSale(ctx context.Context, s *model.Sale) error {
	if t.insertSaleErr != nil {
		return t.insertSaleErr
	}
	for _, sale := range t.sales {
		if sale.ReservationID == s.ReservationID ||
			(sale.SessionID == s.SessionID && sale.SeatID == s.SeatID) {
			return errors.WithStack(repository.ErrDuplicateSale)
		}
	}
	t.sales[s.ID] = *s
	return nil
}
