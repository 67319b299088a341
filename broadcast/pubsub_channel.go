package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel RedisChannel publishes on.
const DefaultRedisChannel = "coherent-cache:mutations"

// RedisChannelConfig configures a RedisChannel.
type RedisChannelConfig struct {
	// Channel is the redis pub/sub channel. Default: DefaultRedisChannel.
	Channel string
	// Codec defaults to MsgpackCodec.
	Codec      Codec
	Origin     string
	DeliverOwn bool
	Logger     *zap.Logger
}

func (c RedisChannelConfig) withDefaults() RedisChannelConfig {
	if c.Channel == "" {
		c.Channel = DefaultRedisChannel
	}
	if c.Codec == nil {
		c.Codec = MsgpackCodec{}
	}
	if c.Origin == "" {
		c.Origin = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// RedisChannel publishes mutation events straight onto a redis pub/sub
// channel. There is no mailbox item, so nothing needs removing and
// back-to-back events cannot overwrite each other.
type RedisChannel struct {
	client     redis.UniversalClient
	cfg        RedisChannelConfig
	logger     *zap.Logger
	dispatcher *dispatcher

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
	wg     sync.WaitGroup

	dispatching atomic.Bool
}

var _ Channel = (*RedisChannel)(nil)

// NewRedisChannel creates a channel over client. A nil client yields a
// channel whose operations report ErrUnavailable.
func NewRedisChannel(client redis.UniversalClient, cfg RedisChannelConfig) *RedisChannel {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With(zap.String("channel", "redis"), zap.String("name", cfg.Channel))

	return &RedisChannel{
		client:     client,
		cfg:        cfg,
		logger:     logger,
		dispatcher: newDispatcher(cfg.Origin, !cfg.DeliverOwn, logger),
	}
}

// Origin returns the id stamped on events published by this channel.
func (c *RedisChannel) Origin() string {
	return c.cfg.Origin
}

// Publish stamps, validates and encodes event, then publishes it on the redis
// channel. Redis errors are wrapped in ErrUnavailable.
func (c *RedisChannel) Publish(ctx context.Context, event MutationEvent) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.client == nil {
		return ErrUnavailable
	}

	event = stamp(event, c.cfg.Origin)
	if err := event.Validate(); err != nil {
		c.logger.Warn("refusing to broadcast invalid mutation event", zap.Error(err))
		return fmt.Errorf("broadcast: invalid event: %w", err)
	}

	data, err := c.cfg.Codec.Encode(event)
	if err != nil {
		c.logger.Warn("mutation event serialization failed", zap.Error(err), zap.String("event_id", event.ID))
		return err
	}

	if err := c.client.Publish(ctx, c.cfg.Channel, data).Err(); err != nil {
		c.logger.Warn("redis publish failed", zap.Error(err), zap.String("event_id", event.ID))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Subscribe registers h, opening the redis subscription on first use.
func (c *RedisChannel) Subscribe(h Handler) (func(), error) {
	if h == nil {
		return func() {}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.client == nil {
		return nil, ErrUnavailable
	}

	if c.pubsub == nil {
		if err := c.listen(); err != nil {
			c.logger.Warn("redis subscribe failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	return c.dispatcher.add(h), nil
}

// Close ends the subscription. It waits for the receive loop unless called
// from a handler, which would otherwise wait on itself.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pubsub := c.pubsub
	c.pubsub = nil
	c.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	if !c.dispatching.Load() {
		c.wg.Wait()
	}
	return err
}

// listen must be called with c.mu held.
func (c *RedisChannel) listen() error {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	pubsub := c.client.Subscribe(ctx, c.cfg.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	c.pubsub = pubsub

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range pubsub.Channel() {
			c.dispatching.Store(true)
			if c.isClosed() {
				c.dispatching.Store(false)
				return
			}
			c.receive([]byte(msg.Payload))
			c.dispatching.Store(false)
		}
	}()
	return nil
}

func (c *RedisChannel) receive(data []byte) {
	event, err := c.cfg.Codec.Decode(data)
	if err != nil {
		c.logger.Warn("mutation event deserialization failed", zap.Error(err))
		return
	}
	if err := event.Validate(); err != nil {
		c.logger.Warn("ignoring invalid mutation event", zap.Error(err), zap.String("event_id", event.ID))
		return
	}
	c.dispatcher.dispatch(context.Background(), event)
}

func (c *RedisChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
