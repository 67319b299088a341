package domaincache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/cache"
)

// ErrNilManager is returned by New when no cache manager is given.
var ErrNilManager = errors.New("domaincache: manager cannot be nil")

// Stats is a snapshot of a facade's counters. Hits and Misses are local to
// the facade; Size is the size of the shared manager.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Option configures a Facade.
type Option func(*options)

type options struct {
	channel broadcast.Channel
	logger  *zap.Logger
}

// WithChannel connects the facade to a broadcast channel. Mutations received
// on it are applied locally and Broadcast publishes on it.
func WithChannel(ch broadcast.Channel) Option {
	return func(o *options) {
		o.channel = ch
	}
}

// WithLogger sets the logger used for broadcast failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Facade is a typed, statistics tracked view of a shared cache Manager for
// one Domain. Facades are cheap; create one per consumer and Close it when
// the consumer goes away.
type Facade[T any] struct {
	manager *cache.Manager
	domain  Domain
	channel broadcast.Channel
	logger  *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	size   atomic.Int64

	closed             atomic.Bool
	closeOnce          sync.Once
	unsubscribeManager func()
	unsubscribeChannel func()
}

// New creates a facade over manager for domain and subscribes it to the
// manager and, when configured, the channel.
func New[T any](manager *cache.Manager, domain Domain, opts ...Option) (*Facade[T], error) {
	if manager == nil {
		return nil, ErrNilManager
	}
	if err := domain.Validate(); err != nil {
		return nil, fmt.Errorf("domaincache: invalid domain: %w", err)
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	f := &Facade[T]{
		manager: manager,
		domain:  domain,
		channel: o.channel,
		logger:  o.logger.With(zap.String("domain", domain.Collection)),
	}

	f.size.Store(int64(manager.Size()))
	f.unsubscribeManager = manager.Subscribe(func(string) {
		f.size.Store(int64(manager.Size()))
	})

	if f.channel != nil {
		unsubscribe, err := f.channel.Subscribe(f.onRemoteMutation)
		if err != nil {
			// local caching keeps working without cross-instance invalidation
			f.logger.Warn("mutation channel subscribe failed", zap.Error(err))
		} else {
			f.unsubscribeChannel = unsubscribe
		}
	}

	return f, nil
}

// Domain returns the facade's key layout.
func (f *Facade[T]) Domain() Domain {
	return f.domain
}

// Manager returns the shared manager behind the facade.
func (f *Facade[T]) Manager() *cache.Manager {
	return f.manager
}

// Cache stores data under key, with ttl[0] when given and the manager default otherwise.
func (f *Facade[T]) Cache(key string, data T, ttl ...time.Duration) {
	if len(ttl) > 0 {
		f.manager.SetWithTTL(key, data, ttl[0])
		return
	}
	f.manager.Set(key, data)
}

// Get returns the cached value for key and counts a hit or a miss. A value
// of another type counts as a miss.
func (f *Facade[T]) Get(key string) (T, bool) {
	value, ok := cache.GetAs[T](f.manager, key)
	f.record(ok)
	return value, ok
}

// Has reports whether key holds a live entry, without counting a read.
func (f *Facade[T]) Has(key string) bool {
	return f.manager.Has(key)
}

// Invalidate removes key and reports whether it was cached.
func (f *Facade[T]) Invalidate(key string) bool {
	return f.manager.Delete(key)
}

// InvalidatePattern removes every key matching pattern.
func (f *Facade[T]) InvalidatePattern(pattern string) int {
	return f.manager.InvalidatePattern(pattern)
}

// InvalidateScope removes every listing of scope.
func (f *Facade[T]) InvalidateScope(scope string) int {
	return f.manager.InvalidatePattern(f.domain.ScopePattern(scope))
}

// Clear empties the shared manager and resets this facade's counters.
func (f *Facade[T]) Clear() {
	f.manager.Clear()
	f.hits.Store(0)
	f.misses.Store(0)
}

// Refresh restarts the lifetime of a live entry.
func (f *Facade[T]) Refresh(key string) bool {
	return f.manager.Refresh(key)
}

// UpdateTTL sets a new TTL counted from the entry creation time.
func (f *Facade[T]) UpdateTTL(key string, ttl time.Duration) bool {
	return f.manager.UpdateTTL(key, ttl)
}

// Stats returns the current counters.
func (f *Facade[T]) Stats() Stats {
	return Stats{
		Hits:   f.hits.Load(),
		Misses: f.misses.Load(),
		Size:   int(f.size.Load()),
	}
}

// GetOrFetch reads key through the cache, counting a hit or a miss, and
// calls fetch on a miss. See cache.GetOrFetch.
func (f *Facade[T]) GetOrFetch(ctx context.Context, key string, fetch cache.FetchFn[T]) (T, error) {
	if value, ok := cache.GetAs[T](f.manager, key); ok {
		f.record(true)
		return value, nil
	}
	f.record(false)
	return cache.GetOrFetch(ctx, f.manager, key, fetch)
}

// ApplyMutation invalidates the local entries made stale by event and
// returns how many were removed.
func (f *Facade[T]) ApplyMutation(event broadcast.MutationEvent) int {
	removed := 0
	for _, pattern := range f.domain.Invalidations(event) {
		removed += f.manager.InvalidatePattern(pattern)
	}
	return removed
}

// Broadcast publishes event to other instances, stamped with the facade
// domain when it carries none. Failures are logged and never returned: a lost
// broadcast only leaves other instances stale until their entries expire.
func (f *Facade[T]) Broadcast(ctx context.Context, event broadcast.MutationEvent) {
	if f.channel == nil || f.closed.Load() {
		return
	}
	event = f.stamp(event)

	if err := f.channel.Publish(ctx, event); err != nil {
		f.logger.Warn("mutation broadcast failed",
			zap.Error(err),
			zap.String("type", string(event.Type)),
			zap.String("id", event.Payload.ID()),
		)
	}
}

// Mutated must be called after every successful write of a record in the
// domain. It invalidates locally and then broadcasts, so both this instance
// and other instances stop serving the stale entries.
func (f *Facade[T]) Mutated(ctx context.Context, event broadcast.MutationEvent) int {
	event = f.stamp(event)
	removed := f.ApplyMutation(event)
	f.Broadcast(ctx, event)
	return removed
}

func (f *Facade[T]) stamp(event broadcast.MutationEvent) broadcast.MutationEvent {
	if event.Domain == "" {
		event.Domain = f.domain.Collection
	}
	return event
}

// Close removes the facade's listeners. It is safe to call more than once.
// The shared manager and the channel stay open.
func (f *Facade[T]) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		if f.unsubscribeManager != nil {
			f.unsubscribeManager()
		}
		if f.unsubscribeChannel != nil {
			f.unsubscribeChannel()
		}
	})
	return nil
}

func (f *Facade[T]) onRemoteMutation(_ context.Context, event broadcast.MutationEvent) {
	if f.closed.Load() || !f.domain.Owns(event) {
		return
	}

	removed := f.ApplyMutation(event)
	f.logger.Debug("applied remote mutation",
		zap.String("type", string(event.Type)),
		zap.String("id", event.Payload.ID()),
		zap.String("origin", event.Origin),
		zap.Int("removed", removed),
	)
}

func (f *Facade[T]) record(hit bool) {
	// reads sweep expired entries without notifying listeners
	f.size.Store(int64(f.manager.Size()))
	if hit {
		f.hits.Add(1)
		return
	}
	f.misses.Add(1)
}
