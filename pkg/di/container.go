package di

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/cache"
	"github.com/goliatone/go-coherent-cache/domaincache"
	"github.com/goliatone/go-coherent-cache/repositorycache"
	"github.com/goliatone/go-coherent-cache/reviewcache"
)

const redisPingTimeout = 5 * time.Second

// Container wires one cache instance: a Manager plus the Channel it uses to
// reach the other instances. Build one per process (or per simulated tab in
// tests) at bootstrap and hand its facades to whoever needs them.
type Container struct {
	config  Config
	logger  *zap.Logger
	manager *cache.Manager
	channel broadcast.Channel

	storage   broadcast.Storage
	redis     redis.UniversalClient
	ownsRedis bool
}

// Option configures a Container.
type Option func(*Container)

// WithStorage sets the signaling storage for the memory and redis-storage
// transports. Containers sharing a MemoryStorage see each other's mutations.
func WithStorage(s broadcast.Storage) Option {
	return func(c *Container) {
		c.storage = s
	}
}

// WithRedisClient reuses client for the redis transports. The container
// does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *Container) {
		c.redis = client
	}
}

// WithLogger replaces the logger built from Config.LogLevel.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// NewContainer creates a container from config. An unreachable transport is
// logged and replaced by a local only channel: the cache keeps working, only
// cross-instance invalidation is lost.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("di: invalid config: %w", err)
	}

	c := &Container{config: config}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		logger, err := NewLogger(config.LogLevel)
		if err != nil {
			return nil, err
		}
		c.logger = logger
	}

	cacheConfig := config.Cache
	if cacheConfig.Logger == nil {
		cacheConfig.Logger = c.logger.Named("cache")
	}
	manager, err := cache.New(cacheConfig)
	if err != nil {
		return nil, err
	}
	c.manager = manager
	c.config.Cache = cacheConfig

	channel, err := c.buildChannel()
	if err != nil {
		c.logger.Warn("mutation transport unavailable, caching locally only",
			zap.String("transport", string(config.Sync.Transport)),
			zap.Error(err),
		)
		channel = broadcast.Noop{ID: uuid.NewString()}
	}
	c.channel = channel

	return c, nil
}

// NewContainerWithDefaults creates a container using DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

func (c *Container) buildChannel() (broadcast.Channel, error) {
	sync := c.config.Sync
	logger := c.logger.Named("broadcast")

	storageConfig := broadcast.StorageConfig{
		Key:         sync.Key,
		RemoveDelay: sync.RemoveDelay,
		Logger:      logger,
	}

	switch sync.Transport {
	case TransportMemory:
		if c.storage == nil {
			c.storage = broadcast.NewMemoryStorage()
		}
		return broadcast.NewStorageChannel(c.storage, storageConfig), nil

	case TransportRedisStorage:
		if c.storage == nil {
			client, err := c.redisClient()
			if err != nil {
				return nil, err
			}
			c.storage = broadcast.NewRedisStorage(client, broadcast.RedisStorageConfig{
				Prefix: sync.RedisPrefix,
				Logger: logger,
			})
		}
		return broadcast.NewStorageChannel(c.storage, storageConfig), nil

	case TransportRedisPubSub:
		client, err := c.redisClient()
		if err != nil {
			return nil, err
		}
		return broadcast.NewRedisChannel(client, broadcast.RedisChannelConfig{
			Channel: sync.RedisChannel,
			Logger:  logger,
		}), nil
	}

	return broadcast.Noop{ID: uuid.NewString()}, nil
}

func (c *Container) redisClient() (redis.UniversalClient, error) {
	if c.redis != nil {
		return c.redis, nil
	}

	client := redis.NewClient(&redis.Options{Addr: c.config.Sync.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.redis = client
	c.ownsRedis = true
	return client, nil
}

// Manager returns the container's cache manager.
func (c *Container) Manager() *cache.Manager {
	return c.manager
}

// Channel returns the mutation channel; a broadcast.Noop when sync is off.
func (c *Container) Channel() broadcast.Channel {
	return c.channel
}

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// NewReviewCache creates a review facade connected to the container channel.
// Close it when its consumer goes away.
func (c *Container) NewReviewCache() (*reviewcache.Cache, error) {
	return reviewcache.New(c.manager,
		domaincache.WithChannel(c.channel),
		domaincache.WithLogger(c.logger),
	)
}

// NewCachedRepository wraps base with a cached repository connected to the
// container channel.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewCachedRepository[User](container, baseUserRepository)
func NewCachedRepository[T any](c *Container, base repository.Repository[T], opts ...repositorycache.Option) (*repositorycache.CachedRepository[T], error) {
	opts = append([]repositorycache.Option{
		repositorycache.WithChannel(c.channel),
		repositorycache.WithLogger(c.logger),
	}, opts...)
	return repositorycache.New(base, c.manager, opts...)
}

// Close stops the channel and releases the redis client if the container
// created it. Facades built from the container should be closed first.
func (c *Container) Close() error {
	err := c.channel.Close()
	if c.ownsRedis {
		if cerr := c.redis.Close(); err == nil {
			err = cerr
		}
	}
	_ = c.logger.Sync()
	return err
}
