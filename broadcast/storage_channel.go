package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultKey is the well-known storage item used as a one-slot mailbox.
	DefaultKey = "app_cache_mutation"

	// DefaultRemoveDelay is how long a published event stays in the mailbox.
	DefaultRemoveDelay = 100 * time.Millisecond

	removeTimeout = 5 * time.Second
)

// StorageConfig configures a StorageChannel.
type StorageConfig struct {
	// Key is the storage item events are written to. Default: DefaultKey.
	Key string

	// RemoveDelay is the pause between writing an event and removing it.
	// Default: DefaultRemoveDelay.
	RemoveDelay time.Duration

	// Codec encodes events into item values. Default: JSONCodec.
	Codec Codec

	// Origin identifies this instance. Default: a random UUID.
	Origin string

	// DeliverOwn delivers events published by this instance to its own
	// handlers too. Off by default: publishers apply their invalidation
	// synchronously before broadcasting.
	DeliverOwn bool

	Logger *zap.Logger
}

func (c StorageConfig) withDefaults() StorageConfig {
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.RemoveDelay <= 0 {
		c.RemoveDelay = DefaultRemoveDelay
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Origin == "" {
		c.Origin = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// StorageChannel broadcasts mutation events through a shared Storage using
// the write-then-delete pattern: each event is written under one well-known
// key and removed shortly after, so the next write is always an
// absent-to-present transition that watchers are guaranteed to see.
//
// Delivery is best effort and unordered. The mailbox holds a single event,
// so back-to-back publishes may overwrite each other before slow receivers
// read the item; receivers only ever act on change notifications, which
// carry the value that was written.
type StorageChannel struct {
	storage    Storage
	cfg        StorageConfig
	logger     *zap.Logger
	dispatcher *dispatcher

	mu        sync.Mutex
	stopWatch func()
	closed    bool

	done    chan struct{}
	pending sync.WaitGroup
}

var _ Channel = (*StorageChannel)(nil)

// NewStorageChannel creates a channel over storage. A nil storage yields a
// channel whose operations report ErrUnavailable.
func NewStorageChannel(storage Storage, cfg StorageConfig) *StorageChannel {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With(zap.String("channel", "storage"), zap.String("key", cfg.Key))

	return &StorageChannel{
		storage:    storage,
		cfg:        cfg,
		logger:     logger,
		dispatcher: newDispatcher(cfg.Origin, !cfg.DeliverOwn, logger),
		done:       make(chan struct{}),
	}
}

// Origin returns the id stamped on events published by this channel.
func (c *StorageChannel) Origin() string {
	return c.cfg.Origin
}

// Key returns the storage item used as the mailbox.
func (c *StorageChannel) Key() string {
	return c.cfg.Key
}

// Publish writes event to the mailbox and schedules its removal.
func (c *StorageChannel) Publish(ctx context.Context, event MutationEvent) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.storage == nil {
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

	if err := c.storage.SetItem(ctx, c.cfg.Key, string(data)); err != nil {
		c.logger.Warn("signaling storage write failed", zap.Error(err), zap.String("event_id", event.ID))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.scheduleRemove()
	return nil
}

// Subscribe registers h. The storage is watched from the first subscription
// until Close.
func (c *StorageChannel) Subscribe(h Handler) (func(), error) {
	if h == nil {
		return func() {}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.storage == nil {
		return nil, ErrUnavailable
	}

	if c.stopWatch == nil {
		stop, err := c.storage.Watch(c.onStorageEvent)
		if err != nil {
			c.logger.Warn("signaling storage watch failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		c.stopWatch = stop
	}

	return c.dispatcher.add(h), nil
}

// Close stops watching the storage and removes any event still in the
// mailbox without waiting for its delay. A Publish racing with Close removes
// its own item before returning, so no event outlives both calls.
func (c *StorageChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop := c.stopWatch
	c.stopWatch = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}

	close(c.done)
	c.pending.Wait()
	return nil
}

func (c *StorageChannel) onStorageEvent(ev StorageEvent) {
	if ev.Key != c.cfg.Key || ev.NewValue == nil {
		return
	}

	event, err := c.cfg.Codec.Decode([]byte(*ev.NewValue))
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

// scheduleRemove registers the delayed removal with Close. When Close won
// the race against an in-flight write, the item is removed right away.
func (c *StorageChannel) scheduleRemove() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.remove()
		return
	}
	c.pending.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.pending.Done()

		timer := time.NewTimer(c.cfg.RemoveDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-c.done:
		}
		c.remove()
	}()
}

func (c *StorageChannel) remove() {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := c.storage.RemoveItem(ctx, c.cfg.Key); err != nil {
		c.logger.Warn("signaling storage remove failed", zap.Error(err))
	}
}

func (c *StorageChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// stamp fills in the fields a publisher owns.
func stamp(event MutationEvent, origin string) MutationEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Origin == "" {
		event.Origin = origin
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	return event
}
