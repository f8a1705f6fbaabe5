// Package service implements the reservation and sale coordinators and the
// handlers run by the event consumer.
package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-sales/internal/clock"
	"github.com/iliyamo/cinema-ticket-sales/internal/lock"
	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
	"github.com/iliyamo/cinema-ticket-sales/internal/model"
	"github.com/iliyamo/cinema-ticket-sales/internal/queue"
	"github.com/iliyamo/cinema-ticket-sales/internal/repository"
)

// Locker is satisfied by *lock.Manager.
type Locker interface {
	AcquireAll(ctx context.Context, sessionID string, seatIDs []string) ([]*lock.Lease, error)
	ReleaseAll(ctx context.Context, leases []*lock.Lease) error
}

// Publisher is satisfied by *queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

// ExpiryScheduler is satisfied by *expiration.Scheduler.
type ExpiryScheduler interface {
	Schedule(ctx context.Context, r model.Reservation) error
	Cancel(ctx context.Context, r model.Reservation) error
}

// ReservationService creates seat holds.
type ReservationService struct {
	store repository.Store
	locks Locker
	sched ExpiryScheduler
	pub   Publisher
	clock clock.Clock
	hold  time.Duration
}

func NewReservationService(store repository.Store, locks Locker, sched ExpiryScheduler, pub Publisher, clk clock.Clock, hold time.Duration) *ReservationService {
	return &ReservationService{store: store, locks: locks, sched: sched, pub: pub, clock: clk, hold: hold}
}

// Reserve holds one seat for the user for the hold window.
func (s *ReservationService) Reserve(ctx context.Context, userID, sessionID, seatID string) (*model.Reservation, error) {
	out, err := s.ReserveSeats(ctx, userID, sessionID, []string{seatID})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ReserveSeats holds every listed seat of the session, or none of them.
//
// The seat leases are taken first, in seat order, and kept until this call
// returns.  A contended lease fails the whole call with ErrSeatBusy without
// touching the database.  The availability checks and inserts then run in
// one transaction.  Events and expiry timers are emitted only after the
// commit; their failure is logged but does not fail the reservation, since
// the database sweep expires it regardless.
func (s *ReservationService) ReserveSeats(ctx context.Context, userID, sessionID string, seatIDs []string) ([]model.Reservation, error) {
	seats, err := validateReserve(userID, sessionID, seatIDs)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithFields(ctx, logrus.Fields{"user_id": userID, "session_id": sessionID})
	log := logging.FromContext(ctx)

	leases, err := s.locks.AcquireAll(ctx, sessionID, seats)
	if err != nil {
		return nil, errors.Wrap(err, "acquire seat leases")
	}
	if leases == nil {
		log.WithField("seats", seats).Info("reservation rejected: seat busy")
		return nil, ErrSeatBusy
	}
	// Cleanup and after-commit work must outlive a cancelled request.
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := s.locks.ReleaseAll(cleanupCtx, leases); err != nil {
			log.WithError(err).Warn("seat lease release failed; leases will expire on their own")
		}
	}()

	now := s.clock.Now()
	created := make([]model.Reservation, 0, len(seats))
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		for _, seatID := range lock.OrderSeats(seats) {
			exists, err := tx.SeatInSession(ctx, sessionID, seatID)
			if err != nil {
				return err
			}
			if !exists {
				return errors.Wrapf(ErrSeatNotFound, "seat %s", seatID)
			}
			sold, err := tx.SeatSold(ctx, sessionID, seatID)
			if err != nil {
				return err
			}
			if sold {
				return errors.Wrapf(ErrAlreadySold, "seat %s", seatID)
			}
			held, err := tx.SeatHeld(ctx, sessionID, seatID, now)
			if err != nil {
				return err
			}
			if held {
				return errors.Wrapf(ErrAlreadyReserved, "seat %s", seatID)
			}
			r := model.Reservation{
				ID:        uuid.NewString(),
				UserID:    userID,
				SessionID: sessionID,
				SeatID:    seatID,
				Status:    model.ReservationPending,
				ExpiresAt: now.Add(s.hold),
				CreatedAt: now,
			}
			if err := tx.InsertReservation(ctx, &r); err != nil {
				return err
			}
			created = append(created, r)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			log.WithError(err).Info("reservation rejected")
		}
		return nil, err
	}

	for _, r := range created {
		rlog := log.WithFields(logrus.Fields{"reservation_id": r.ID, "seat_id": r.SeatID})
		if err := s.pub.Publish(cleanupCtx, queue.ReservationCreatedEvent{
			ReservationID: r.ID,
			UserID:        r.UserID,
			SessionID:     r.SessionID,
			SeatID:        r.SeatID,
			ExpiresAt:     r.ExpiresAt,
		}); err != nil {
			rlog.WithError(err).Warn("publish reservation.created failed")
		}
		if err := s.sched.Schedule(cleanupCtx, r); err != nil {
			rlog.WithError(err).Warn("expiry timer not armed; the database sweep will expire the hold")
		}
		rlog.WithField("expires_at", r.ExpiresAt).Info("reservation created")
	}
	return created, nil
}

// ListByUser returns the user's reservations, newest first.
func (s *ReservationService) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	if err := validateUUID("userId", userID); err != nil {
		return nil, err
	}
	return s.store.ReservationsByUser(ctx, userID)
}

func validateReserve(userID, sessionID string, seatIDs []string) ([]string, error) {
	if err := validateUUID("userId", userID); err != nil {
		return nil, err
	}
	if err := validateUUID("sessionId", sessionID); err != nil {
		return nil, err
	}
	if len(seatIDs) == 0 {
		return nil, invalidInput("at least one seat is required")
	}
	seen := make(map[string]struct{}, len(seatIDs))
	out := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		if err := validateUUID("seatId", id); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func validateUUID(field, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return invalidInput("%s must be a UUID", field)
	}
	return nil
}
