package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"llm_keypool/internal/models"
)

// Config holds configuration for the key pool service.
type Config struct {
	HTTPPort  string
	JWTSecret []byte
	LogLevel  string
	Database  DatabaseConfig
	Redis     RedisConfig
	Secrets   SecretsConfig
	Catalog   CatalogConfig
	Lease     LeaseConfig
	Usage     UsageConfig

	// EnvironmentKeys are the last-resort plaintext keys per provider, read
	// from <PROVIDER>_API_KEY
	EnvironmentKeys map[models.Provider]string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings.
// An empty Address selects the in-process counter store.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether a distributed store is configured
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// SecretsConfig holds the secret codec key material. Key wins over Passphrase.
type SecretsConfig struct {
	Key        string // base64, 16/24/32 bytes
	Passphrase string
}

// CatalogConfig holds the credential catalog cache settings
type CatalogConfig struct {
	CacheSize int
	CacheTTL  time.Duration // 0 disables the cache
}

// LeaseConfig holds coordinator settings
type LeaseConfig struct {
	DefaultCooldown time.Duration
}

// UsageConfig holds usage ledger settings
type UsageConfig struct {
	Backend      string // postgres, redis or memory
	Async        bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// environmentKeyVar returns the variable holding a provider's fallback key, e.g. OPENAI_API_KEY
func environmentKeyVar(p models.Provider) string {
	return strings.ToUpper(string(p)) + "_API_KEY"
}

// LoadDotEnv loads a .env file into the environment when one exists.
// Variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Secrets: SecretsConfig{
			Key:        getEnvString("ENCRYPTION_KEY", ""),
			Passphrase: getEnvString("ENCRYPTION_PASSPHRASE", ""),
		},
		Catalog: CatalogConfig{
			CacheSize: getEnvInt("CATALOG_CACHE_SIZE", 1000),
			CacheTTL:  getEnvDuration("CATALOG_CACHE_TTL", 5*time.Second),
		},
		Lease: LeaseConfig{
			DefaultCooldown: getEnvDuration("LEASE_DEFAULT_COOLDOWN", 60*time.Second),
		},
		Usage: UsageConfig{
			Backend:      getEnvString("USAGE_BACKEND", "postgres"),
			Async:        getEnvBool("USAGE_ASYNC", false),
			BatchSize:    getEnvInt("USAGE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_BATCH_TIMEOUT", 2*time.Second),
			MaxRetries:   getEnvInt("USAGE_MAX_RETRIES", 3),
		},
		EnvironmentKeys: make(map[models.Provider]string),
	}

	for _, p := range models.Providers() {
		if key := os.Getenv(environmentKeyVar(p)); key != "" {
			cfg.EnvironmentKeys[p] = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks settings that would otherwise fail late
func (c *Config) Validate() error {
	if c.Secrets.Key == "" && c.Secrets.Passphrase == "" {
		return fmt.Errorf("ENCRYPTION_KEY or ENCRYPTION_PASSPHRASE is required")
	}
	if c.Secrets.Key != "" {
		key, err := base64.StdEncoding.DecodeString(c.Secrets.Key)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY must be base64: %w", err)
		}
		if n := len(key); n != 16 && n != 24 && n != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must decode to 16, 24, or 32 bytes, got %d", n)
		}
	}
	if c.Lease.DefaultCooldown <= 0 {
		return fmt.Errorf("LEASE_DEFAULT_COOLDOWN must be positive")
	}
	switch c.Usage.Backend {
	case "postgres", "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("USAGE_BACKEND=redis requires REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("unknown USAGE_BACKEND %q", c.Usage.Backend)
	}
	if c.Usage.BatchSize <= 0 {
		return fmt.Errorf("USAGE_BATCH_SIZE must be positive")
	}
	return nil
}
