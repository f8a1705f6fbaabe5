package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-sales/internal/clock"
	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
	"github.com/iliyamo/cinema-ticket-sales/internal/model"
	"github.com/iliyamo/cinema-ticket-sales/internal/queue"
	"github.com/iliyamo/cinema-ticket-sales/internal/repository"
)

// SaleService turns a PENDING reservation into a sale.
type SaleService struct {
	store repository.Store
	sched ExpiryScheduler
	pub   Publisher
	clock clock.Clock
}

func NewSaleService(store repository.Store, sched ExpiryScheduler, pub Publisher, clk clock.Clock) *SaleService {
	return &SaleService{store: store, sched: sched, pub: pub, clock: clk}
}

// ConfirmPayment sells the seat held by the reservation at the session's
// price.
//
// The reservation row is locked for the whole transaction.  A reservation
// found PENDING but past its hold is moved to EXPIRED right here and that
// change is committed before ErrReservationExpired is returned, so the seat
// is released without waiting for the expiration paths.
func (s *SaleService) ConfirmPayment(ctx context.Context, reservationID string) (*model.Sale, error) {
	if err := validateUUID("reservationId", reservationID); err != nil {
		return nil, err
	}
	ctx = logging.WithFields(ctx, logrus.Fields{"reservation_id": reservationID})
	log := logging.FromContext(ctx)

	var (
		sale    *model.Sale
		res     model.Reservation
		expired bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		r, err := tx.ReservationForUpdate(ctx, reservationID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		res = *r
		if r.Status != model.ReservationPending {
			return errors.Wrapf(ErrInvalidState, "status %s", r.Status)
		}

		now := s.clock.Now()
		if r.ExpiredAt(now) {
			expired = true
			return tx.SetReservationStatus(ctx, r.ID, model.ReservationExpired)
		}

		price, err := tx.SessionPrice(ctx, r.SessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		sale = &model.Sale{
			ID:              uuid.NewString(),
			ReservationID:   r.ID,
			UserID:          r.UserID,
			SessionID:       r.SessionID,
			SeatID:          r.SeatID,
			AmountPaidCents: price,
			CreatedAt:       now,
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			if errors.Is(err, repository.ErrDuplicateSale) {
				return ErrAlreadySold
			}
			return err
		}
		return tx.SetReservationStatus(ctx, r.ID, model.ReservationCompleted)
	})
	if err != nil {
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrConflict) {
			log.WithError(err).Info("payment rejected")
		}
		return nil, err
	}

	// The transaction committed; what follows must not depend on the caller
	// staying connected.
	ctx = context.WithoutCancel(ctx)

	if expired {
		log.Info("reservation found past its hold on confirm; expired")
		// Best-effort: if this publish fails the seat.released event is lost,
		// since the reservation is no longer PENDING for any later pass.
		if err := s.pub.Publish(ctx, queue.SeatReleasedEvent{SessionID: res.SessionID, SeatID: res.SeatID}); err != nil {
			log.WithError(err).Warn("publish seat.released failed")
		}
		return nil, ErrReservationExpired
	}

	if err := s.pub.Publish(ctx, queue.PaymentConfirmedEvent{
		SaleID:        sale.ID,
		ReservationID: sale.ReservationID,
		UserID:        sale.UserID,
		SessionID:     sale.SessionID,
		SeatID:        sale.SeatID,
	}); err != nil {
		log.WithError(err).Warn("publish payment.confirmed failed")
	}
	if err := s.sched.Cancel(ctx, res); err != nil {
		log.WithError(err).Debug("expiry timer not cancelled")
	}
	log.WithFields(logrus.Fields{
		"sale_id":      sale.ID,
		"amount_cents": sale.AmountPaidCents,
	}).Info("payment confirmed")
	return sale, nil
}

// ListByUser returns the user's purchases, newest first.
func (s *SaleService) ListByUser(ctx context.Context, userID string) ([]model.Sale, error) {
	if err := validateUUID("userId", userID); err != nil {
		return nil, err
	}
	return s.store.SalesByUser(ctx, userID)
}
