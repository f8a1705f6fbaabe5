package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-ticket-sales/internal/lock"
)

func newManager(t *testing.T) (*lock.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return lock.NewManager(rdb, lock.DefaultTTL), mr
}

func TestAcquireSetsKeyWithTTL(t *testing.T) {
	m, mr := newManager(t)

	lease, err := m.Acquire(context.Background(), "s1", "A1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	assert.Equal(t, "lock:session:s1:seat:A1", lease.Key)
	got, err := mr.Get(lease.Key)
	require.NoError(t, err)
	assert.Equal(t, "locked", got)
	assert.Equal(t, 30*time.Second, mr.TTL(lease.Key))
}

func TestAcquireContendedReturnsNoLease(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "s1", "A1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.Acquire(ctx, "s1", "A1")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestLeaseExpiresWithoutRelease(t *testing.T) {
	m, mr := newManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "s1", "A1")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	lease, err := m.Acquire(ctx, "s1", "A1")
	require.NoError(t, err)
	assert.NotNil(t, lease)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, mr := newManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "s1", "A1")
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, lease))
	assert.False(t, mr.Exists(lease.Key))
	require.NoError(t, m.Release(ctx, lease))
	require.NoError(t, m.Release(ctx, nil))

	again, err := m.Acquire(ctx, "s1", "A1")
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestAcquireStoreFailureIsAnError(t *testing.T) {
	m, mr := newManager(t)
	mr.SetError("LOADING")

	lease, err := m.Acquire(context.Background(), "s1", "A1")
	assert.Error(t, err)
	assert.Nil(t, lease)
}

func TestOrderSeatsDoesNotMutateInput(t *testing.T) {
	in := []string{"B2", "A1", "B1"}

	out := lock.OrderSeats(in)

	assert.Equal(t, []string{"A1", "B1", "B2"}, out)
	assert.Equal(t, []string{"B2", "A1", "B1"}, in)
}

func TestOrderSeatsSameOrderForOverlappingSets(t *testing.T) {
	assert.Equal(t, lock.OrderSeats([]string{"A", "B"}), lock.OrderSeats([]string{"B", "A"}))
}

func TestAcquireAllReleasesPartialOnContention(t *testing.T) {
	m, mr := newManager(t)
	ctx := context.Background()

	blocker, err := m.Acquire(ctx, "s1", "B")
	require.NoError(t, err)
	require.NotNil(t, blocker)

	leases, err := m.AcquireAll(ctx, "s1", []string{"C", "A", "B"})
	require.NoError(t, err)
	assert.Nil(t, leases)

	// A was taken before B was found busy and must have been given back.
	assert.False(t, mr.Exists(lock.Key("s1", "A")))
	assert.False(t, mr.Exists(lock.Key("s1", "C")))
	assert.True(t, mr.Exists(lock.Key("s1", "B")))
}

func TestAcquireAllOppositeOrdersNeverDeadlock(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	sets := [][]string{{"A", "B"}, {"B", "A"}}
	results := make([][]*lock.Lease, len(sets))

	var wg sync.WaitGroup
	for i, seats := range sets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			leases, err := m.AcquireAll(ctx, "s1", seats)
			assert.NoError(t, err)
			results[i] = leases
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("AcquireAll did not return")
	}

	winners := 0
	for _, leases := range results {
		if leases == nil {
			continue
		}
		winners++
		require.Len(t, leases, 2)
		assert.Equal(t, lock.Key("s1", "A"), leases[0].Key)
		assert.Equal(t, lock.Key("s1", "B"), leases[1].Key)
	}
	assert.Equal(t, 1, winners)
}
