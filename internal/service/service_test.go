package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/iliyamo/cinema-ticket-sales/internal/clock"
	"github.com/iliyamo/cinema-ticket-sales/internal/config"
	"github.com/iliyamo/cinema-ticket-sales/internal/expiration"
	"github.com/iliyamo/cinema-ticket-sales/internal/lock"
	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
	"github.com/iliyamo/cinema-ticket-sales/internal/model"
	"github.com/iliyamo/cinema-ticket-sales/internal/queue"
	"github.com/iliyamo/cinema-ticket-sales/internal/repository"
	"github.com/iliyamo/cinema-ticket-sales/internal/service"
	"github.com/iliyamo/cinema-ticket-sales/internal/testutil"
)

const priceCents = 1250

var t0 = time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC)

type CoordinatorSuite struct {
	suite.Suite

	ctx       context.Context
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	store     *testutil.MemoryStore
	pub       *testutil.Publisher
	clock     *clock.MockClock
	locks     *lock.Manager
	scheduler *expiration.Scheduler

	reservations *service.ReservationService
	sales        *service.SaleService
	expiry       *service.ExpiryHandler

	user    string
	session string
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	logging.Discard()
	s.ctx = logging.WithCorrelationID(context.Background(), "test-corr")
	s.mr = miniredis.RunT(s.T())
	s.rdb = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = s.rdb.Close() })

	s.store = testutil.NewMemoryStore()
	s.pub = &testutil.Publisher{}
	s.clock = clock.NewMockClock(t0)
	s.locks = lock.NewManager(s.rdb, lock.DefaultTTL)
	s.scheduler = expiration.NewScheduler(s.rdb, s.store, s.pub, s.clock, config.HoldConfig{
		Duration:     30 * time.Second,
		PollInterval: 10 * time.Second,
		PollBatch:    100,
	})

	s.reservations = service.NewReservationService(s.store, s.locks, s.scheduler, s.pub, s.clock, 30*time.Second)
	s.sales = service.NewSaleService(s.store, s.scheduler, s.pub, s.clock)
	s.expiry = service.NewExpiryHandler(s.store, s.pub, s.clock)

	s.user = uuid.NewString()
	s.session = uuid.NewString()
	s.store.SetPrice(s.session, priceCents)
}

// newSeat registers a fresh seat of the suite's session.
func (s *CoordinatorSuite) newSeat() string {
	id := uuid.NewString()
	s.store.AddSeats(s.session, id)
	return id
}

// drainExpired delivers every reservation.expired event published so far to
// the expiry handler, the way the consumer would.
func (s *CoordinatorSuite) drainExpired() {
	for _, ev := range s.pub.OfKind(queue.ReservationExpired) {
		s.Require().NoError(s.expiry.Handle(s.ctx, ev.(queue.ReservationExpiredEvent)))
	}
}

func (s *CoordinatorSuite) TestReserveRejectsSeatOfAnotherSession() {
	other := uuid.NewString()
	foreign := uuid.NewString()
	s.store.AddSeats(other, foreign)

	_, err := s.reservations.ReserveSeats(s.ctx, s.user, s.session, []string{s.newSeat(), foreign})

	s.ErrorIs(err, service.ErrSeatNotFound)
	s.ErrorIs(err, service.ErrNotFound)
	s.Empty(s.store.Reservations())
	s.Empty(s.pub.Events())
}

func (s *CoordinatorSuite) TestReserveCreatesPendingHold() {
	seat := s.newSeat()

	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)

	s.Equal(model.ReservationPending, r.Status)
	s.Equal(t0.Add(30*time.Second), r.ExpiresAt)
	s.Equal(t0, r.CreatedAt)

	stored, ok := s.store.Reservation(r.ID)
	s.Require().True(ok)
	s.Equal(*r, stored)

	created := s.pub.OfKind(queue.ReservationCreated)
	s.Require().Len(created, 1)
	s.Equal(r.ID, created[0].(queue.ReservationCreatedEvent).ReservationID)
	s.Equal("test-corr", s.pub.Events()[0].CorrelationID)

	timer := expiration.BuildKey(expiration.Target{ReservationID: r.ID, SessionID: s.session, SeatID: seat})
	s.True(s.mr.Exists(timer))
	s.Equal(30*time.Second, s.mr.TTL(timer))

	// The lease is released as soon as the call returns.
	s.False(s.mr.Exists(lock.Key(s.session, seat)))
}

func (s *CoordinatorSuite) TestReserveSeatBusyWhenLeaseHeld() {
	seat := s.newSeat()
	lease, err := s.locks.Acquire(s.ctx, s.session, seat)
	s.Require().NoError(err)
	s.Require().NotNil(lease)

	_, err = s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.ErrorIs(err, service.ErrSeatBusy)
	s.ErrorIs(err, service.ErrConflict)
	s.Empty(s.store.Reservations())
	s.Empty(s.pub.Events())
}

func (s *CoordinatorSuite) TestReserveAlreadyReserved() {
	seat := s.newSeat()
	_, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)

	_, err = s.reservations.Reserve(s.ctx, uuid.NewString(), s.session, seat)
	s.ErrorIs(err, service.ErrAlreadyReserved)
	s.NotErrorIs(err, service.ErrAlreadySold)
	s.Len(s.store.Reservations(), 1)
}

func (s *CoordinatorSuite) TestReserveAlreadySoldTakesPrecedence() {
	seat := s.newSeat()
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)
	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.Require().NoError(err)

	_, err = s.reservations.Reserve(s.ctx, uuid.NewString(), s.session, seat)
	s.ErrorIs(err, service.ErrAlreadySold)
	s.NotErrorIs(err, service.ErrAlreadyReserved)
}

func (s *CoordinatorSuite) TestReserveAfterHoldElapsedSucceeds() {
	seat := s.newSeat()
	_, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)

	s.clock.Add(31 * time.Second)

	r, err := s.reservations.Reserve(s.ctx, uuid.NewString(), s.session, seat)
	s.Require().NoError(err)
	s.Equal(model.ReservationPending, r.Status)
}

func (s *CoordinatorSuite) TestReserveValidatesInput() {
	_, err := s.reservations.Reserve(s.ctx, "not-a-uuid", s.session, uuid.NewString())
	s.ErrorIs(err, service.ErrInvalidInput)

	_, err = s.reservations.ReserveSeats(s.ctx, s.user, s.session, nil)
	s.ErrorIs(err, service.ErrInvalidInput)

	_, err = s.reservations.Reserve(s.ctx, s.user, s.session, "A1")
	s.ErrorIs(err, service.ErrInvalidInput)
}

func (s *CoordinatorSuite) TestReserveSeatsIsAllOrNothing() {
	a, b, c := s.newSeat(), s.newSeat(), s.newSeat()
	_, err := s.reservations.Reserve(s.ctx, s.user, s.session, b)
	s.Require().NoError(err)

	_, err = s.reservations.ReserveSeats(s.ctx, uuid.NewString(), s.session, []string{a, b, c})
	s.ErrorIs(err, service.ErrAlreadyReserved)
	s.Len(s.store.Reservations(), 1)
	s.Len(s.pub.OfKind(queue.ReservationCreated), 1)
	for _, seat := range []string{a, b, c} {
		s.False(s.mr.Exists(lock.Key(s.session, seat)))
	}
}

func (s *CoordinatorSuite) TestReserveSeatsDeduplicates() {
	a, b := s.newSeat(), s.newSeat()

	got, err := s.reservations.ReserveSeats(s.ctx, s.user, s.session, []string{b, a, b})
	s.Require().NoError(err)
	s.Len(got, 2)
	s.Equal(lock.OrderSeats([]string{a, b}), []string{got[0].SeatID, got[1].SeatID})
}

func (s *CoordinatorSuite) TestConcurrentReserveHasSingleWinner() {
	seat := s.newSeat()
	const n = 20

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.reservations.Reserve(s.ctx, uuid.NewString(), s.session, seat)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		s.ErrorIs(err, service.ErrConflict)
	}
	s.Equal(1, winners)
	s.Len(s.store.Reservations(), 1)
}

// cancelAfterCommit cancels the caller's context as soon as a transaction
// ends, the way a client hanging up mid-request does.
type cancelAfterCommit struct {
	*testutil.MemoryStore
	cancel context.CancelFunc
}

func (c cancelAfterCommit) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	err := c.MemoryStore.WithTx(ctx, fn)
	c.cancel()
	return err
}

func (s *CoordinatorSuite) TestReserveCleansUpAfterRequestCancelled() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	svc := service.NewReservationService(cancelAfterCommit{s.store, cancel}, s.locks, s.scheduler, s.pub, s.clock, 30*time.Second)
	seat := s.newSeat()

	r, err := svc.Reserve(ctx, s.user, s.session, seat)
	s.Require().NoError(err)
	s.Require().Error(ctx.Err())

	s.False(s.mr.Exists(lock.Key(s.session, seat)))
	s.True(s.mr.Exists(expiration.BuildKey(expiration.Target{ReservationID: r.ID, SessionID: s.session, SeatID: seat})))
	s.Len(s.pub.OfKind(queue.ReservationCreated), 1)
}

func (s *CoordinatorSuite) TestRejectedReserveReleasesLeaseAfterRequestCancelled() {
	seat := s.newSeat()
	_, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	svc := service.NewReservationService(cancelAfterCommit{s.store, cancel}, s.locks, s.scheduler, s.pub, s.clock, 30*time.Second)

	_, err = svc.Reserve(ctx, uuid.NewString(), s.session, seat)
	s.ErrorIs(err, service.ErrAlreadyReserved)
	s.False(s.mr.Exists(lock.Key(s.session, seat)))
}

func (s *CoordinatorSuite) TestConfirmPaymentFinishesAfterRequestCancelled() {
	seat := s.newSeat()
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)
	timer := expiration.BuildKey(expiration.Target{ReservationID: r.ID, SessionID: s.session, SeatID: seat})
	s.Require().True(s.mr.Exists(timer))

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	svc := service.NewSaleService(cancelAfterCommit{s.store, cancel}, s.scheduler, s.pub, s.clock)

	_, err = svc.ConfirmPayment(ctx, r.ID)
	s.Require().NoError(err)

	s.False(s.mr.Exists(timer))
	confirmed := s.pub.OfKind(queue.PaymentConfirmed)
	s.Require().Len(confirmed, 1)
	s.Equal(r.ID, confirmed[0].(queue.PaymentConfirmedEvent).ReservationID)
}

func (s *CoordinatorSuite) TestExpiryKeepsTransitionWhenSeatReleasedIsLost() {
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, s.newSeat())
	s.Require().NoError(err)
	s.clock.Add(31 * time.Second)
	s.pub.Err = errors.New("broker down")

	ev := queue.ReservationExpiredEvent{ReservationID: r.ID, SessionID: r.SessionID, SeatID: r.SeatID}
	s.Require().NoError(s.expiry.Handle(s.ctx, ev))
	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationExpired, stored.Status)

	// A redelivery finds nothing left to do, so the lost event stays lost.
	s.pub.Err = nil
	s.Require().NoError(s.expiry.Handle(s.ctx, ev))
	s.Empty(s.pub.OfKind(queue.SeatReleased))
}

func (s *CoordinatorSuite) TestConfirmPaymentCreatesSaleAtSessionPrice() {
	seat := s.newSeat()
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)
	s.clock.Add(5 * time.Second)

	sale, err := s.sales.ConfirmPayment(s.ctx, r.ID)
	s.Require().NoError(err)

	s.Equal(uint32(priceCents), sale.AmountPaidCents)
	s.Equal(r.ID, sale.ReservationID)
	s.Equal(s.user, sale.UserID)
	s.Equal(seat, sale.SeatID)
	s.Equal(t0.Add(5*time.Second), sale.CreatedAt)

	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationCompleted, stored.Status)

	confirmed := s.pub.OfKind(queue.PaymentConfirmed)
	s.Require().Len(confirmed, 1)
	s.Equal(sale.ID, confirmed[0].(queue.PaymentConfirmedEvent).SaleID)

	timer := expiration.BuildKey(expiration.Target{ReservationID: r.ID, SessionID: s.session, SeatID: seat})
	s.False(s.mr.Exists(timer))
}

func (s *CoordinatorSuite) TestConfirmPaymentTwiceIsInvalidState() {
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, s.newSeat())
	s.Require().NoError(err)
	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.Require().NoError(err)

	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.ErrorIs(err, service.ErrInvalidState)
	s.Len(s.store.Sales(), 1)
}

func (s *CoordinatorSuite) TestConfirmPaymentNotFound() {
	_, err := s.sales.ConfirmPayment(s.ctx, uuid.NewString())
	s.ErrorIs(err, service.ErrReservationNotFound)
	s.ErrorIs(err, service.ErrNotFound)
}

func (s *CoordinatorSuite) TestConfirmPaymentPastHoldExpiresAndCommits() {
	seat := s.newSeat()
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)
	s.clock.Add(31 * time.Second)

	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.ErrorIs(err, service.ErrReservationExpired)

	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationExpired, stored.Status)
	s.Empty(s.store.Sales())

	released := s.pub.OfKind(queue.SeatReleased)
	s.Require().Len(released, 1)
	s.Equal(queue.SeatReleasedEvent{SessionID: s.session, SeatID: seat}, released[0])

	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.ErrorIs(err, service.ErrInvalidState)
}

func (s *CoordinatorSuite) TestConfirmPaymentDuplicateSaleIsAlreadySold() {
	seat := s.newSeat()
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)
	s.store.PutSale(model.Sale{ID: uuid.NewString(), ReservationID: uuid.NewString(), SessionID: s.session, SeatID: seat})

	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.ErrorIs(err, service.ErrAlreadySold)

	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationPending, stored.Status)
	s.Empty(s.pub.OfKind(queue.PaymentConfirmed))
}

func (s *CoordinatorSuite) TestConfirmPaymentStoreFailureRollsBack() {
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, s.newSeat())
	s.Require().NoError(err)
	s.store.InsertSaleErr = errors.New("disk full")

	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.Require().Error(err)
	s.NotErrorIs(err, service.ErrConflict)

	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationPending, stored.Status)
}

func (s *CoordinatorSuite) TestExpiryIsIdempotent() {
	seat := s.newSeat()
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)
	s.clock.Add(31 * time.Second)

	ev := queue.ReservationExpiredEvent{ReservationID: r.ID, SessionID: s.session, SeatID: seat}
	s.Require().NoError(s.expiry.Handle(s.ctx, ev))
	s.Require().NoError(s.expiry.Handle(s.ctx, ev))

	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationExpired, stored.Status)
	s.Len(s.pub.OfKind(queue.SeatReleased), 1)
}

func (s *CoordinatorSuite) TestExpiryIgnoresCompletedAndUnelapsed() {
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, s.newSeat())
	s.Require().NoError(err)

	early := queue.ReservationExpiredEvent{ReservationID: r.ID, SessionID: r.SessionID, SeatID: r.SeatID}
	s.Require().NoError(s.expiry.Handle(s.ctx, early))
	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationPending, stored.Status)

	_, err = s.sales.ConfirmPayment(s.ctx, r.ID)
	s.Require().NoError(err)
	s.clock.Add(time.Minute)
	s.Require().NoError(s.expiry.Handle(s.ctx, early))
	stored, _ = s.store.Reservation(r.ID)
	s.Equal(model.ReservationCompleted, stored.Status)
	s.Empty(s.pub.OfKind(queue.SeatReleased))
}

// The fast path is off here: only the database sweep produces events.
func (s *CoordinatorSuite) TestSweepExpiresWithinOnePollInterval() {
	seat := s.newSeat()
	r, err := s.reservations.Reserve(s.ctx, s.user, s.session, seat)
	s.Require().NoError(err)

	s.clock.Add(29 * time.Second)
	n, err := s.scheduler.PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	// First sweep after the hold elapsed, at most one interval late.
	s.clock.Add(10 * time.Second)
	n, err = s.scheduler.PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.drainExpired()

	stored, _ := s.store.Reservation(r.ID)
	s.Equal(model.ReservationExpired, stored.Status)

	n, err = s.scheduler.PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	again, err := s.reservations.Reserve(s.ctx, uuid.NewString(), s.session, seat)
	s.Require().NoError(err)
	s.NotEqual(r.ID, again.ID)
}

func (s *CoordinatorSuite) TestListByUser() {
	other := uuid.NewString()
	r1, err := s.reservations.Reserve(s.ctx, s.user, s.session, s.newSeat())
	s.Require().NoError(err)
	s.clock.Add(time.Second)
	r2, err := s.reservations.Reserve(s.ctx, s.user, s.session, s.newSeat())
	s.Require().NoError(err)
	_, err = s.reservations.Reserve(s.ctx, other, s.session, s.newSeat())
	s.Require().NoError(err)
	_, err = s.sales.ConfirmPayment(s.ctx, r1.ID)
	s.Require().NoError(err)

	got, err := s.reservations.ListByUser(s.ctx, s.user)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(r2.ID, got[0].ID)

	sales, err := s.sales.ListByUser(s.ctx, s.user)
	s.Require().NoError(err)
	s.Require().Len(sales, 1)
	s.Equal(r1.ID, sales[0].ReservationID)

	_, err = s.sales.ListByUser(s.ctx, "bob")
	s.ErrorIs(err, service.ErrInvalidInput)
}

func TestReserveSucceedsWhenPublishFails(t *testing.T) {
	logging.Discard()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := testutil.NewMemoryStore()
	pub := &testutil.Publisher{Err: errors.New("broker down")}
	clk := clock.NewMockClock(t0)
	sched := expiration.NewScheduler(rdb, store, pub, clk, config.HoldConfig{Duration: 30 * time.Second, PollBatch: 10})
	svc := service.NewReservationService(store, lock.NewManager(rdb, 0), sched, pub, clk, 30*time.Second)

	session, seat := uuid.NewString(), uuid.NewString()
	store.AddSeats(session, seat)

	r, err := svc.Reserve(context.Background(), uuid.NewString(), session, seat)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, r.Status)
}

func TestEventHandlersCoverEveryKind(t *testing.T) {
	h := service.EventHandlers(service.NewExpiryHandler(testutil.NewMemoryStore(), &testutil.Publisher{}, clock.NewMockClock(t0)))
	assert.NotPanics(t, func() {
		queue.NewConsumer("", queue.Topology{}, queue.DefaultMaxRetries, h, nil)
	})
}
