package di

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/cache"
)

// Transport selects how a container broadcasts mutation events.
type Transport string

const (
	// TransportNone keeps the cache local.
	TransportNone Transport = "none"
	// TransportMemory uses a process-local storage; pair it with WithStorage
	// to connect several containers.
	TransportMemory Transport = "memory"
	// TransportRedisStorage runs the write-then-delete protocol over redis.
	TransportRedisStorage Transport = "redis-storage"
	// TransportRedisPubSub publishes events directly on a redis channel.
	TransportRedisPubSub Transport = "redis-pubsub"
)

// SyncConfig configures cross-instance invalidation.
type SyncConfig struct {
	Transport    Transport
	Key          string
	RemoveDelay  time.Duration
	RedisAddr    string
	RedisPrefix  string
	RedisChannel string
}

func (c SyncConfig) usesRedis() bool {
	return c.Transport == TransportRedisStorage || c.Transport == TransportRedisPubSub
}

// Validate checks the transport and the settings it needs.
func (c SyncConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Transport, validation.Required, validation.In(TransportNone, TransportMemory, TransportRedisStorage, TransportRedisPubSub)),
		validation.Field(&c.RemoveDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.RedisAddr, validation.When(c.usesRedis(), validation.Required)),
	)
}

// Config is the container configuration.
type Config struct {
	Cache    cache.Config
	Sync     SyncConfig
	LogLevel string
}

// DefaultConfig returns a local only configuration.
func DefaultConfig() Config {
	return Config{
		Cache: cache.DefaultConfig(),
		Sync: SyncConfig{
			Transport:    TransportNone,
			Key:          broadcast.DefaultKey,
			RemoveDelay:  broadcast.DefaultRemoveDelay,
			RedisAddr:    "localhost:6379",
			RedisPrefix:  broadcast.DefaultRedisPrefix,
			RedisChannel: broadcast.DefaultRedisChannel,
		},
		LogLevel: "info",
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Cache),
		validation.Field(&c.Sync),
		validation.Field(&c.LogLevel, validation.By(func(any) error {
			if c.LogLevel == "" {
				return nil
			}
			_, err := zapcore.ParseLevel(c.LogLevel)
			return err
		})),
	)
}

// LoadConfig starts from DefaultConfig and applies environment variables.
// The given env files (".env" when none) are loaded first if they exist;
// variables already set in the environment win.
//
// Environment Variables:
//   - CACHE_DEFAULT_TTL: default entry TTL, e.g. "5m"
//   - CACHE_MAX_ENTRIES: optional entry bound (default: 0, unbounded)
//   - CACHE_PATTERN_MODE: "segments" or "substring"
//   - CACHE_SYNC_TRANSPORT: "none", "memory", "redis-storage" or "redis-pubsub"
//   - CACHE_SYNC_KEY: signaling storage key
//   - CACHE_SYNC_REMOVE_DELAY: delay before the signaling item is removed
//   - REDIS_ADDRESS: redis server address (default: localhost:6379)
//   - CACHE_REDIS_PREFIX: prefix for redis storage items
//   - CACHE_REDIS_CHANNEL: redis pub/sub channel for events
//   - LOG_LEVEL: logging level (default: info)
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("di: load env: %w", err)
	}

	cfg := DefaultConfig()
	var err error

	if cfg.Cache.DefaultTTL, err = getDurationEnv("CACHE_DEFAULT_TTL", cfg.Cache.DefaultTTL); err != nil {
		return Config{}, err
	}
	if cfg.Cache.MaxEntries, err = getIntEnv("CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries); err != nil {
		return Config{}, err
	}
	cfg.Cache.PatternMode = cache.PatternMode(getEnv("CACHE_PATTERN_MODE", string(cfg.Cache.PatternMode)))

	cfg.Sync.Transport = Transport(getEnv("CACHE_SYNC_TRANSPORT", string(cfg.Sync.Transport)))
	cfg.Sync.Key = getEnv("CACHE_SYNC_KEY", cfg.Sync.Key)
	if cfg.Sync.RemoveDelay, err = getDurationEnv("CACHE_SYNC_REMOVE_DELAY", cfg.Sync.RemoveDelay); err != nil {
		return Config{}, err
	}
	cfg.Sync.RedisAddr = getEnv("REDIS_ADDRESS", cfg.Sync.RedisAddr)
	cfg.Sync.RedisPrefix = getEnv("CACHE_REDIS_PREFIX", cfg.Sync.RedisPrefix)
	cfg.Sync.RedisChannel = getEnv("CACHE_REDIS_CHANNEL", cfg.Sync.RedisChannel)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("di: %s: %w", key, err)
	}
	return d, nil
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("di: %s: %w", key, err)
	}
	return n, nil
}
