package counter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces lease counters in a shared Redis
const DefaultKeyPrefix = "lease"

// decrClampScript decrements and clamps at zero in one atomic step
var decrClampScript = redis.NewScript(`
	local v = redis.call('DECR', KEYS[1])
	if v < 0 then
		redis.call('SET', KEYS[1], 0)
		return 0
	end
	return v
`)

// RedisStore implements Store on a shared Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed counter store.
// now is used to turn a deadline into an expiry; nil means time.Now.
func NewRedisStore(client *redis.Client, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

func (s *RedisStore) cooldownKey(id string) string {
	return s.prefix + ":cooldown:" + id
}

func (s *RedisStore) inflightKey(id string) string {
	return s.prefix + ":inflight:" + id
}

// GetCooldown returns the stored deadline, or the zero time once the marker has expired
func (s *RedisStore) GetCooldown(ctx context.Context, id string) (time.Time, error) {
	ms, err := s.client.Get(ctx, s.cooldownKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, unavailable("get cooldown", err)
	}
	return time.UnixMilli(ms), nil
}

// SetCooldown stores the deadline with an expiry equal to the remaining duration
func (s *RedisStore) SetCooldown(ctx context.Context, id string, until time.Time) error {
	remaining := until.Sub(s.now())
	if remaining < time.Millisecond {
		if err := s.client.Del(ctx, s.cooldownKey(id)).Err(); err != nil {
			return unavailable("clear cooldown", err)
		}
		return nil
	}

	value := strconv.FormatInt(until.UnixMilli(), 10)
	if err := s.client.Set(ctx, s.cooldownKey(id), value, remaining).Err(); err != nil {
		return unavailable("set cooldown", err)
	}
	return nil
}

// IncrInflight atomically increments the inflight counter
func (s *RedisStore) IncrInflight(ctx context.Context, id string) (int64, error) {
	n, err := s.client.Incr(ctx, s.inflightKey(id)).Result()
	if err != nil {
		return 0, unavailable("increment inflight", err)
	}
	return n, nil
}

// DecrInflight atomically decrements the inflight counter, clamped at zero
func (s *RedisStore) DecrInflight(ctx context.Context, id string) (int64, error) {
	n, err := decrClampScript.Run(ctx, s.client, []string{s.inflightKey(id)}).Int64()
	if err != nil {
		return 0, unavailable("decrement inflight", err)
	}
	return n, nil
}

// GetInflight returns the inflight counter, 0 when unset
func (s *RedisStore) GetInflight(ctx context.Context, id string) (int64, error) {
	n, err := s.client.Get(ctx, s.inflightKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get inflight", err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Close shuts down the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
