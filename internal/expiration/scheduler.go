// Package expiration turns elapsed reservation holds into
// reservation.expired events.
//
// Two paths run side by side.  The fast path stores one Redis key per
// reservation with the hold as TTL and listens for the server's expiry
// notifications; it is cheap but not guaranteed (notifications may be
// disabled, and are lost while disconnected).  The fallback sweeps the
// database on a fixed interval and emits an event for every PENDING
// reservation whose hold has elapsed.  Either path may emit the same
// reservation more than once; the consumer's conditional update makes that
// harmless.
package expiration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/cinema-ticket-sales/internal/clock"
	"github.com/iliyamo/cinema-ticket-sales/internal/config"
	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
	"github.com/iliyamo/cinema-ticket-sales/internal/model"
	"github.com/iliyamo/cinema-ticket-sales/internal/queue"
)

const keyPrefix = "reservation:expire:"

// Target identifies the reservation an expiry key stands for.
type Target struct {
	ReservationID string
	SessionID     string
	SeatID        string
}

// BuildKey returns reservation:expire:<reservationId>:<sessionId>:<seatId>.
func BuildKey(t Target) string {
	return keyPrefix + t.ReservationID + ":" + t.SessionID + ":" + t.SeatID
}

// ParseKey is the inverse of BuildKey.  Keys of any other shape, including
// other applications' keys on the same server, yield false.
func ParseKey(key string) (Target, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return Target{}, false
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Target{}, false
	}
	return Target{ReservationID: parts[0], SessionID: parts[1], SeatID: parts[2]}, true
}

// Publisher is satisfied by *queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

// ExpiredLister is the part of repository.Store the sweep reads.
type ExpiredLister interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
}

// Scheduler arms expiry timers and runs both expiration paths.
type Scheduler struct {
	rdb   *redis.Client
	store ExpiredLister
	pub   Publisher
	clock clock.Clock
	cfg   config.HoldConfig
}

func NewScheduler(rdb *redis.Client, store ExpiredLister, pub Publisher, clk clock.Clock, cfg config.HoldConfig) *Scheduler {
	return &Scheduler{rdb: rdb, store: store, pub: pub, clock: clk, cfg: cfg}
}

// Schedule arms the fast-path timer of a freshly created reservation.
func (s *Scheduler) Schedule(ctx context.Context, r model.Reservation) error {
	key := BuildKey(Target{ReservationID: r.ID, SessionID: r.SessionID, SeatID: r.SeatID})
	if err := s.rdb.Set(ctx, key, "1", s.cfg.Duration).Err(); err != nil {
		return errors.Wrapf(err, "schedule expiry %s", key)
	}
	logging.FromContext(ctx).WithFields(logrus.Fields{
		"expire_key": key,
		"ttl":        s.cfg.Duration.String(),
	}).Debug("expiration scheduled")
	return nil
}

// Cancel disarms the timer of a reservation that left PENDING some other
// way.  A missing key is not an error.
func (s *Scheduler) Cancel(ctx context.Context, r model.Reservation) error {
	key := BuildKey(Target{ReservationID: r.ID, SessionID: r.SessionID, SeatID: r.SeatID})
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "cancel expiry %s", key)
	}
	return nil
}

// Run starts the fast-path subscriber (when enabled) and the sweep, and
// blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logging.WithFields(ctx, logrus.Fields{"component": "expiration"})
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.FastPath {
		g.Go(func() error { return s.subscribe(gctx) })
	}
	g.Go(func() error { return s.poll(gctx) })
	return g.Wait()
}

// HandleExpiredKey publishes reservation.expired for a key reported expired
// by Redis.  Unrelated keys are ignored.
func (s *Scheduler) HandleExpiredKey(ctx context.Context, key string) error {
	t, ok := ParseKey(key)
	if !ok {
		return nil
	}
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	logging.FromContext(ctx).WithField("reservation_id", t.ReservationID).
		Info("reservation hold elapsed (timer), publishing reservation.expired")
	return s.publish(ctx, t)
}

// PollOnce publishes reservation.expired for every PENDING reservation whose
// hold elapsed, up to the configured batch size, and returns how many
// events were published.  A failed publish is logged and the sweep goes on;
// the next sweep retries it.
func (s *Scheduler) PollOnce(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredPending(ctx, s.clock.Now(), s.cfg.PollBatch)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, r := range expired {
		rctx := logging.WithCorrelationID(ctx, logging.NewCorrelationID())
		log := logging.FromContext(rctx).WithField("reservation_id", r.ID)
		if err := s.publish(rctx, Target{ReservationID: r.ID, SessionID: r.SessionID, SeatID: r.SeatID}); err != nil {
			// Still PENDING, so the next sweep publishes it again.
			log.WithError(err).Warn("publish from sweep failed")
			continue
		}
		log.Info("reservation hold elapsed (sweep), published reservation.expired")
		published++
	}
	return published, nil
}

func (s *Scheduler) publish(ctx context.Context, t Target) error {
	return s.pub.Publish(ctx, queue.ReservationExpiredEvent{
		ReservationID: t.ReservationID,
		SessionID:     t.SessionID,
		SeatID:        t.SeatID,
	})
}

func (s *Scheduler) poll(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.WithField("interval", s.cfg.PollInterval.String()).Info("expiration sweep started")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.PollOnce(ctx); err != nil {
				log.WithError(err).Warn("expiration sweep failed")
			} else if n > 0 {
				log.WithField("published", n).Debug("expiration sweep done")
			}
		}
	}
}

// ExpiredChannel is the keyevent channel of the client's database.
func (s *Scheduler) ExpiredChannel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", s.rdb.Options().DB)
}

// subscribe listens for expiry notifications until ctx is done.  Failures
// only degrade the fast path: they are logged and the subscription is
// retried with capped backoff while the sweep keeps running.
func (s *Scheduler) subscribe(ctx context.Context) error {
	log := logging.FromContext(ctx)
	if err := s.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		log.WithError(err).Warn("could not enable keyspace notifications; relying on the database sweep")
	} else {
		log.Info("keyspace notifications enabled (Ex)")
	}

	channel := s.ExpiredChannel()
	backoff := time.Second
	for {
		err := s.listen(ctx, channel, func() { backoff = time.Second })
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warnf("expiry subscription lost; resubscribing in %s", backoff)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// listen calls subscribed once the subscription is confirmed.
func (s *Scheduler) listen(ctx context.Context, channel string, subscribed func()) error {
	ps := s.rdb.PSubscribe(ctx, channel)
	defer func() { _ = ps.Close() }()
	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrapf(err, "psubscribe %s", channel)
	}
	logging.FromContext(ctx).WithField("channel", channel).Info("subscribed to key expiry notifications")
	subscribed()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return errors.New("subscription channel closed")
			}
			if err := s.HandleExpiredKey(ctx, m.Payload); err != nil {
				logging.FromContext(ctx).WithError(err).WithField("expire_key", m.Payload).
					Warn("publish from timer failed; the sweep will pick it up")
			}
		}
	}
}
