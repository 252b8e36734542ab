package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"llm_keypool/internal/config"
	"llm_keypool/internal/counter"
	"llm_keypool/internal/lease"
	"llm_keypool/internal/ledger"
	"llm_keypool/internal/metrics"
	"llm_keypool/internal/queue"
	"llm_keypool/internal/storage"
	"llm_keypool/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	DB          *storage.DB
	Redis       *storage.RedisClient // nil when no distributed store is in use
	Counters    counter.Store
	Backend     counter.Backend
	Catalog     lease.Catalog
	Usage       ledger.Ledger
	Recorder    *ledger.Recorder // nil unless USAGE_ASYNC
	Coordinator *lease.Coordinator
	Metrics     *metrics.Collector
	Health      *HealthHandler
}

// NewDependencies connects to the backing services and wires the coordinator
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	utils.SetDefaultLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger := utils.NewLogger("keypool")

	deps := &Dependencies{
		Metrics: metrics.NewCollector(),
		Health:  NewHealthHandler(0),
	}

	// Initialize database
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.DB = db
	deps.Health.Register("postgres", db.Health)

	// Initialize Redis client. An unreachable Redis degrades counters to the
	// in-process store instead of failing startup.
	if cfg.Redis.Enabled() {
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Address = cfg.Redis.Address
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		rc, err := storage.NewRedisClient(ctx, redisCfg)
		if err != nil {
			logger.Warn("Redis unavailable", "addr", cfg.Redis.Address, "error", err)
		} else {
			deps.Redis = rc
			deps.Health.Register("redis", rc.Health)
		}
	}

	var redisClient *redis.Client
	if deps.Redis != nil {
		redisClient = deps.Redis.Client()
	}

	counterCfg := counter.Config{Client: redisClient}
	deps.Counters, deps.Backend, err = counter.New(ctx, counterCfg, utils.NewLogger("counter"))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize counter store: %w", err)
	}

	codec, err := newCodec(cfg.Secrets)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize secret codec: %w", err)
	}

	// Credential catalog, optionally cached
	repo := db.NewCredentialRepository()
	deps.Catalog = repo
	if cfg.Catalog.CacheTTL > 0 {
		deps.Catalog = storage.NewCachedCatalog(repo, cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL, nil)
	}

	backend, err := newLedgerBackend(cfg.Usage.Backend, db, redisClient)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Usage = backend

	if cfg.Usage.Async {
		recorder, err := newRecorder(cfg.Usage, backend, redisClient)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to initialize usage recorder: %w", err)
		}
		recorder.Start(context.WithoutCancel(ctx))
		deps.Recorder = recorder
		deps.Usage = recorder
	}

	deps.Coordinator, err = lease.NewCoordinator(lease.Config{
		Catalog:         deps.Catalog,
		Usage:           deps.Usage,
		Secrets:         codec,
		Store:           deps.Counters,
		Resolver:        lease.NewResolver(deps.Catalog, cfg.EnvironmentKeys),
		DefaultCooldown: cfg.Lease.DefaultCooldown,
		Logger:          utils.NewLogger("lease"),
		Observer:        deps.Metrics,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize lease coordinator: %w", err)
	}

	logger.Info("Dependencies ready",
		"counters", deps.Backend,
		"usage_backend", cfg.Usage.Backend,
		"usage_async", cfg.Usage.Async,
		"catalog_cache_ttl", cfg.Catalog.CacheTTL,
		"environment_keys", len(cfg.EnvironmentKeys))

	return deps, nil
}

// Router builds the HTTP router on these dependencies
func (d *Dependencies) Router(jwtSecret []byte) http.Handler {
	return NewRouter(RouterConfig{
		Handlers:  NewHandlers(d.Coordinator, d.Usage, d.Metrics, utils.NewLogger("httpapi")),
		Health:    d.Health,
		Metrics:   d.Metrics,
		JWTSecret: jwtSecret,
	})
}

// Close stops the usage worker and closes every connection
func (d *Dependencies) Close() {
	if d.Recorder != nil {
		if err := d.Recorder.Stop(); err != nil {
			log.Printf("Failed to stop usage recorder: %v", err)
		}
	}
	// The Redis counter store shares the client closed below
	if d.Counters != nil && d.Backend == counter.BackendMemory {
		_ = d.Counters.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			log.Printf("Failed to close Redis: %v", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}
}

func newCodec(cfg config.SecretsConfig) (*storage.Codec, error) {
	if cfg.Key != "" {
		return storage.NewCodecFromBase64(cfg.Key)
	}
	return storage.NewCodecFromPassphrase(cfg.Passphrase)
}

func newLedgerBackend(name string, db *storage.DB, client *redis.Client) (ledger.Backend, error) {
	switch name {
	case "postgres":
		return storage.NewUsageRepository(db, nil), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("usage backend redis requires a reachable Redis")
		}
		return ledger.NewRedisLedger(client, nil), nil
	case "memory":
		return ledger.NewMemoryLedger(nil), nil
	default:
		return nil, fmt.Errorf("unknown usage backend %q", name)
	}
}

func newRecorder(cfg config.UsageConfig, backend ledger.Backend, client *redis.Client) (*ledger.Recorder, error) {
	queueCfg := queue.DefaultConfig("usage")
	queueCfg.BatchSize = cfg.BatchSize
	queueCfg.BatchTimeout = cfg.BatchTimeout
	queueCfg.MaxRetries = cfg.MaxRetries

	var (
		q   queue.Queue
		dlq queue.DeadLetterQueue
		err error
	)
	if client != nil {
		q, err = queue.NewRedisQueue(client, queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		dlq, err = queue.NewRedisDeadLetterQueue(client, queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage DLQ: %w", err)
		}
	} else {
		q = queue.NewMemoryQueue(queueCfg)
		dlq = queue.NewMemoryDeadLetterQueue()
	}

	return ledger.NewRecorder(ledger.RecorderConfig{
		Backend: backend,
		Queue:   q,
		DLQ:     dlq,
		Queuing: queueCfg,
		Logger:  utils.NewLogger("usage-worker"),
	})
}
