// Package counter holds the per-credential lease state shared by every coordinator:
// a cooldown deadline and an inflight lease count.
//
// Two backends implement Store:
//
//  1. RedisStore - every call is one round trip; cooldown markers carry a native
//     expiry and INCR/DECR are atomic, so counts are correct across processes.
//  2. MemoryStore - a hash table inside the process. Counts are only correct within
//     that one process. It is a degraded mode for single-instance deployments and
//     must not back a horizontally scaled deployment.
//
// New picks the backend once at startup.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_keypool/internal/utils"
)

// ErrUnavailable wraps failures talking to the counter backend
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the counter contract the lease coordinator depends on.
type Store interface {
	// GetCooldown returns the deadline until which the credential is skipped.
	// An absent marker returns the zero time, which is always in the past.
	GetCooldown(ctx context.Context, id string) (time.Time, error)

	// SetCooldown marks the credential as cooling down until the given instant
	SetCooldown(ctx context.Context, id string, until time.Time) error

	// IncrInflight adds one outstanding lease and returns the new count
	IncrInflight(ctx context.Context, id string) (int64, error)

	// DecrInflight removes one outstanding lease, never going below zero
	DecrInflight(ctx context.Context, id string) (int64, error)

	// GetInflight returns the number of outstanding leases
	GetInflight(ctx context.Context, id string) (int64, error)

	// Close releases backend resources
	Close() error
}

// Backend names a Store implementation
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Config selects and configures the backend
type Config struct {
	// RedisAddr empty means no distributed store is configured
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KeyPrefix namespaces the Redis keys
	KeyPrefix string

	// Client, when set, is used instead of dialing RedisAddr
	Client *redis.Client

	// Now is the clock used to evaluate deadlines; nil means time.Now
	Now func() time.Time
}

// New selects the counter backend once.
// A configured and reachable Redis wins; anything else falls back to the in-process store.
func New(ctx context.Context, cfg Config, logger *utils.Logger) (Store, Backend, error) {
	if logger == nil {
		logger = utils.NopLogger()
	}

	client := cfg.Client
	if client == nil && cfg.RedisAddr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	if client == nil {
		logger.Warn("No distributed counter store configured, using in-process counters",
			"constraint", "single-instance deployments only")
		return NewMemoryStore(cfg.Now), BackendMemory, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, falling back to in-process counters",
			"addr", cfg.RedisAddr, "error", err,
			"constraint", "single-instance deployments only")
		if cfg.Client == nil {
			_ = client.Close()
		}
		return NewMemoryStore(cfg.Now), BackendMemory, nil
	}

	logger.Info("Using Redis counter store", "addr", client.Options().Addr)
	return NewRedisStore(client, cfg.KeyPrefix, cfg.Now), BackendRedis, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrUnavailable, op, err)
}
