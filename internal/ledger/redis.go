package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_keypool/internal/models"
)

// DefaultRetention keeps a day's counter around long enough to cover time zone skew
const DefaultRetention = 48 * time.Hour

// addUsageScript increments the day counter and refreshes its expiry atomically
var addUsageScript = redis.NewScript(`
	local key = KEYS[1]
	local tokens = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local total = redis.call('INCRBY', key, tokens)
	redis.call('EXPIRE', key, ttl)
	return total
`)

// RedisLedger tracks daily usage in Redis
type RedisLedger struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisLedger creates a Redis-backed ledger. now nil means time.Now.
func NewRedisLedger(client *redis.Client, now func() time.Time) *RedisLedger {
	if now == nil {
		now = time.Now
	}
	return &RedisLedger{
		client:    client,
		retention: DefaultRetention,
		now:       now,
	}
}

// dailyKey generates the Redis key for a user's daily usage
func (l *RedisLedger) dailyKey(userID, day string) string {
	return fmt.Sprintf("usage:%s:%s", userID, day)
}

// TokensUsedToday returns the user's tokens for the current UTC day
func (l *RedisLedger) TokensUsedToday(ctx context.Context, userID string) (int64, error) {
	key := l.dailyKey(userID, models.DayKey(l.now()))

	val, err := l.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get daily usage: %w", ErrUnavailable, err)
	}
	return val, nil
}

// RecordUsage adds tokens to the current UTC day
func (l *RedisLedger) RecordUsage(ctx context.Context, userID string, tokens int64) error {
	return l.AddTokens(ctx, userID, models.DayKey(l.now()), tokens)
}

// AddTokens adds tokens to an explicit day
func (l *RedisLedger) AddTokens(ctx context.Context, userID, day string, tokens int64) error {
	if err := validateTokens(tokens); err != nil {
		return err
	}
	if tokens == 0 {
		return nil
	}

	ttl := int(l.retention / time.Second)
	if err := addUsageScript.Run(ctx, l.client, []string{l.dailyKey(userID, day)}, tokens, ttl).Err(); err != nil {
		return fmt.Errorf("%w: failed to add usage: %w", ErrUnavailable, err)
	}
	return nil
}
