package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	DefaultRedisPrefix        = "coherent-cache:"
	DefaultRedisStorageEvents = "coherent-cache:storage"

	subscribeTimeout = 5 * time.Second
)

// RedisStorageConfig configures a RedisStorage.
type RedisStorageConfig struct {
	// Prefix namespaces item keys in redis. Default: DefaultRedisPrefix.
	Prefix string
	// Events is the pub/sub channel changes are announced on.
	// Default: DefaultRedisStorageEvents.
	Events string
	Logger *zap.Logger
}

func (c RedisStorageConfig) withDefaults() RedisStorageConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultRedisPrefix
	}
	if c.Events == "" {
		c.Events = DefaultRedisStorageEvents
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// RedisStorage is a Storage shared between processes. Items are redis
// strings; every real change is published as a JSON StorageEvent so watchers
// in any process see it. Unlike MemoryStorage, watchers run on a background
// goroutine.
type RedisStorage struct {
	client redis.UniversalClient
	cfg    RedisStorageConfig
	logger *zap.Logger
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage wraps client.
func NewRedisStorage(client redis.UniversalClient, cfg RedisStorageConfig) *RedisStorage {
	cfg = cfg.withDefaults()
	return &RedisStorage{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("storage", "redis"), zap.String("events", cfg.Events)),
	}
}

// GetItem reads the prefixed key; redis.Nil reports an absent item.
func (s *RedisStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.cfg.Prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis storage: get %s: %w", key, err)
	}
	return value, true, nil
}

// SetItem writes the prefixed key and announces the change unless the value
// was already stored.
func (s *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	old, err := s.client.GetSet(ctx, s.cfg.Prefix+key, value).Result()
	existed := true
	if errors.Is(err, redis.Nil) {
		existed = false
	} else if err != nil {
		return fmt.Errorf("redis storage: set %s: %w", key, err)
	}

	if existed && old == value {
		return nil
	}

	event := StorageEvent{Key: key, NewValue: &value}
	if existed {
		event.OldValue = &old
	}
	return s.announce(ctx, event)
}

// RemoveItem deletes the prefixed key and announces the removal when it existed.
func (s *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	old, err := s.client.GetDel(ctx, s.cfg.Prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis storage: remove %s: %w", key, err)
	}
	return s.announce(ctx, StorageEvent{Key: key, OldValue: &old})
}

// Watch subscribes to change announcements. It returns once the subscription
// is confirmed by the server.
func (s *RedisStorage) Watch(fn func(StorageEvent)) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	pubsub := s.client.Subscribe(ctx, s.cfg.Events)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis storage: subscribe %s: %w", s.cfg.Events, err)
	}

	var (
		wg         sync.WaitGroup
		quit       = make(chan struct{})
		delivering atomic.Bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range pubsub.Channel() {
			var event StorageEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("malformed storage event", zap.Error(err))
				continue
			}

			delivering.Store(true)
			select {
			case <-quit:
				delivering.Store(false)
				return
			default:
			}
			fn(event)
			delivering.Store(false)
		}
	}()

	// stop waits for the receive loop to exit, except while a delivery is in
	// progress: a watcher that stops from inside fn (a handler closing its
	// channel) would otherwise wait on itself. At most that one delivery can
	// finish after stop returns.
	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			if err := pubsub.Close(); err != nil {
				s.logger.Debug("closing storage subscription", zap.Error(err))
			}
			if !delivering.Load() {
				wg.Wait()
			}
		})
	}, nil
}

func (s *RedisStorage) announce(ctx context.Context, event StorageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis storage: encode event: %w", err)
	}
	if err := s.client.Publish(ctx, s.cfg.Events, data).Err(); err != nil {
		return fmt.Errorf("redis storage: announce %s: %w", event.Key, err)
	}
	return nil
}
