// Package lock provides short-lived, auto-expiring seat leases on Redis.
//
// A lease is advisory: it keeps two in-flight requests for the same
// (session, seat) from reaching the database at the same time, while the
// database transaction that follows remains the final arbiter.  Every lease
// carries a TTL, so a crashed holder can starve a seat for at most one hold
// window.
package lock

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
)

const (
	// DefaultTTL matches the reservation hold window.
	DefaultTTL = 30 * time.Second

	leaseValue = "locked"
)

// Lease is the handle of an acquired lock.  It has no identity beyond its
// key.
type Lease struct {
	Key string
}

// Manager acquires and releases seat leases.
type Manager struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewManager returns a Manager whose leases live for ttl (DefaultTTL when
// ttl is not positive).
func NewManager(rdb redis.Cmdable, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{rdb: rdb, ttl: ttl}
}

// Key returns the Redis key guarding (sessionID, seatID).
func Key(sessionID, seatID string) string {
	return "lock:session:" + sessionID + ":seat:" + seatID
}

// Acquire atomically creates the lease key if it is absent.  Contention is
// an expected outcome, reported as a nil lease with a nil error; the error is
// reserved for store failures.
func (m *Manager) Acquire(ctx context.Context, sessionID, seatID string) (*Lease, error) {
	key := Key(sessionID, seatID)
	ok, err := m.rdb.SetNX(ctx, key, leaseValue, m.ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lease %s", key)
	}
	log := logging.FromContext(ctx).WithField("lock_key", key)
	if !ok {
		log.Warn("lease already held")
		return nil, nil
	}
	log.Debug("lease acquired")
	return &Lease{Key: key}, nil
}

// Release deletes the lease.  Releasing a nil lease or one that already
// expired is a no-op.
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if err := m.rdb.Del(ctx, lease.Key).Err(); err != nil {
		return errors.Wrapf(err, "release lease %s", lease.Key)
	}
	logging.FromContext(ctx).WithField("lock_key", lease.Key).Debug("lease released")
	return nil
}

// AcquireAll takes a lease on every seat, in OrderSeats order, or on none.
// If any seat is contended the leases taken so far are released and a nil
// slice is returned with a nil error.
func (m *Manager) AcquireAll(ctx context.Context, sessionID string, seatIDs []string) ([]*Lease, error) {
	ordered := OrderSeats(seatIDs)
	leases := make([]*Lease, 0, len(ordered))
	for _, seatID := range ordered {
		lease, err := m.Acquire(ctx, sessionID, seatID)
		if err == nil && lease != nil {
			leases = append(leases, lease)
			continue
		}
		if relErr := m.ReleaseAll(context.WithoutCancel(ctx), leases); relErr != nil {
			logging.FromContext(ctx).WithError(relErr).Warn("rollback of partial leases failed")
		}
		if err != nil {
			return nil, err
		}
		logging.FromContext(ctx).WithFields(logrus.Fields{
			"session_id": sessionID,
			"seat_id":    seatID,
			"held":       len(leases),
		}).Debug("seat set contended")
		return nil, nil
	}
	return leases, nil
}

// ReleaseAll releases leases in reverse acquisition order and reports every
// failure.
func (m *Manager) ReleaseAll(ctx context.Context, leases []*Lease) error {
	var errs error
	for i := len(leases) - 1; i >= 0; i-- {
		errs = errors.CombineErrors(errs, m.Release(ctx, leases[i]))
	}
	return errs
}

// OrderSeats returns a lexicographically sorted copy of seatIDs.  Callers
// that lock several seats must lock them in this order; two callers with
// overlapping seat sets then always contend on the same first seat instead of
// waiting on each other.
func OrderSeats(seatIDs []string) []string {
	out := slices.Clone(seatIDs)
	slices.Sort(out)
	return out
}
