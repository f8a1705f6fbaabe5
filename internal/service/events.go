package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-sales/internal/clock"
	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
	"github.com/iliyamo/cinema-ticket-sales/internal/queue"
	"github.com/iliyamo/cinema-ticket-sales/internal/repository"
)

// ExpiryHandler applies reservation.expired events.
type ExpiryHandler struct {
	store repository.Store
	pub   Publisher
	clock clock.Clock
}

func NewExpiryHandler(store repository.Store, pub Publisher, clk clock.Clock) *ExpiryHandler {
	return &ExpiryHandler{store: store, pub: pub, clock: clk}
}

// Handle moves the reservation to EXPIRED if it is still PENDING and past
// its hold, then announces the seat as released.  Events for reservations
// that were already completed, expired or cancelled, or whose hold has not
// actually elapsed, change nothing; duplicates from the two expiration
// paths are therefore harmless.  A storage error is returned so the
// delivery is retried.
func (h *ExpiryHandler) Handle(ctx context.Context, ev queue.ReservationExpiredEvent) error {
	log := logging.FromContext(ctx).WithField("reservation_id", ev.ReservationID)

	changed, err := h.store.ExpirePending(ctx, ev.ReservationID, h.clock.Now())
	if err != nil {
		return err
	}
	if !changed {
		log.Debug("reservation not pending or not yet elapsed; nothing to expire")
		return nil
	}
	log.Info("reservation expired")

	// Best-effort: a failed publish loses seat.released for good, because a
	// redelivery finds the reservation already EXPIRED and changes nothing.
	if err := h.pub.Publish(ctx, queue.SeatReleasedEvent{SessionID: ev.SessionID, SeatID: ev.SeatID}); err != nil {
		log.WithError(err).Warn("publish seat.released failed")
	}
	return nil
}

// EventHandlers returns the handler set of the consumer: expirations are
// applied, every other event is recorded in the log.
func EventHandlers(expiry *ExpiryHandler) queue.Handlers {
	return queue.Handlers{
		ReservationCreated: func(ctx context.Context, ev queue.ReservationCreatedEvent) error {
			logging.FromContext(ctx).WithFields(logrus.Fields{
				"reservation_id": ev.ReservationID,
				"user_id":        ev.UserID,
				"session_id":     ev.SessionID,
				"seat_id":        ev.SeatID,
				"expires_at":     ev.ExpiresAt,
			}).Info("reservation created")
			return nil
		},
		ReservationExpired: expiry.Handle,
		PaymentConfirmed: func(ctx context.Context, ev queue.PaymentConfirmedEvent) error {
			logging.FromContext(ctx).WithFields(logrus.Fields{
				"sale_id":        ev.SaleID,
				"reservation_id": ev.ReservationID,
				"user_id":        ev.UserID,
				"session_id":     ev.SessionID,
				"seat_id":        ev.SeatID,
			}).Info("payment confirmed")
			return nil
		},
		SeatReleased: func(ctx context.Context, ev queue.SeatReleasedEvent) error {
			logging.FromContext(ctx).WithFields(logrus.Fields{
				"session_id": ev.SessionID,
				"seat_id":    ev.SeatID,
			}).Info("seat released")
			return nil
		},
	}
}
