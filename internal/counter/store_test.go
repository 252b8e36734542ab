package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

// backends returns a fresh instance of every Store implementation sharing one clock
func backends(t *testing.T, clock *fakeClock) map[string]Store {
	client, _ := setupTestRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(clock.Now),
		"redis":  NewRedisStore(client, "test", clock.Now),
	}
}

func TestStore_InflightCounting(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := store.GetInflight(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)

			for i := 1; i <= 3; i++ {
				n, err = store.IncrInflight(ctx, "k1")
				require.NoError(t, err)
				assert.Equal(t, int64(i), n)
			}

			n, err = store.DecrInflight(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			n, err = store.GetInflight(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			// other credentials are independent
			n, err = store.GetInflight(ctx, "k2")
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)
		})
	}
}

func TestStore_DecrClampsAtZero(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.IncrInflight(ctx, "k1")
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				n, err := store.DecrInflight(ctx, "k1")
				require.NoError(t, err)
				assert.Equal(t, int64(0), n)
			}

			// decrement of a never-seen credential
			n, err := store.DecrInflight(ctx, "never-seen")
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)

			// counting resumes from zero, not from a negative value
			n, err = store.IncrInflight(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestStore_CooldownAbsentIsPast(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			until, err := store.GetCooldown(context.Background(), "k1")
			require.NoError(t, err)
			assert.True(t, until.Before(clock.Now()), "absent cooldown should be in the past")
		})
	}
}

func TestStore_CooldownRoundTrip(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deadline := clock.Now().Add(time.Minute)

			require.NoError(t, store.SetCooldown(ctx, "k1", deadline))

			until, err := store.GetCooldown(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, deadline.UnixMilli(), until.UnixMilli())
			assert.True(t, clock.Now().Before(until))
		})
	}
}

func TestMemoryStore_CooldownComputedFromClock(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.SetCooldown(ctx, "k1", clock.Now().Add(60*time.Second)))

	clock.Advance(59 * time.Second)
	until, err := store.GetCooldown(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, until.IsZero(), "still cooling down")

	clock.Advance(2 * time.Second)
	until, err = store.GetCooldown(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, until.IsZero(), "cooldown should be over")

	// the entry itself is kept
	assert.Equal(t, 1, store.Len())
}

func TestRedisStore_CooldownExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	clock := newFakeClock()
	store := NewRedisStore(client, "", clock.Now)
	ctx := context.Background()

	require.NoError(t, store.SetCooldown(ctx, "k1", clock.Now().Add(60*time.Second)))
	assert.True(t, mr.Exists("lease:cooldown:k1"))

	ttl := mr.TTL("lease:cooldown:k1")
	assert.Equal(t, 60*time.Second, ttl)

	mr.FastForward(61 * time.Second)
	assert.False(t, mr.Exists("lease:cooldown:k1"))

	until, err := store.GetCooldown(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}

func TestRedisStore_PastDeadlineClearsMarker(t *testing.T) {
	client, mr := setupTestRedis(t)
	clock := newFakeClock()
	store := NewRedisStore(client, "", clock.Now)
	ctx := context.Background()

	require.NoError(t, store.SetCooldown(ctx, "k1", clock.Now().Add(time.Minute)))
	require.NoError(t, store.SetCooldown(ctx, "k1", clock.Now().Add(-time.Second)))

	assert.False(t, mr.Exists("lease:cooldown:k1"))
}

func TestRedisStore_SharedAcrossInstances(t *testing.T) {
	client, mr := setupTestRedis(t)
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()

	a := NewRedisStore(client, "", nil)
	b := NewRedisStore(other, "", nil)
	ctx := context.Background()

	_, err := a.IncrInflight(ctx, "k1")
	require.NoError(t, err)
	n, err := b.IncrInflight(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = a.GetInflight(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisStore_ConcurrentIncrDecr(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, "", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.IncrInflight(ctx, "k1")
			_, _ = store.DecrInflight(ctx, "k1")
		}()
	}
	wg.Wait()

	n, err := store.GetInflight(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisStore_Unavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, "", nil)
	mr.Close()

	_, err := store.IncrInflight(context.Background(), "k1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = store.GetCooldown(context.Background(), "k1")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNew_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("no address uses memory", func(t *testing.T) {
		store, backend, err := New(ctx, Config{}, nil)
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, backend)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("reachable redis", func(t *testing.T) {
		_, mr := setupTestRedis(t)
		store, backend, err := New(ctx, Config{RedisAddr: mr.Addr()}, nil)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, BackendRedis, backend)
		assert.IsType(t, &RedisStore{}, store)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		_, mr := setupTestRedis(t)
		addr := mr.Addr()
		mr.Close()

		store, backend, err := New(ctx, Config{RedisAddr: addr}, nil)
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, backend)
		assert.IsType(t, &MemoryStore{}, store)
	})
}
