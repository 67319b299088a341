package reviewcache

import (
	"context"
	"time"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/cache"
	"github.com/goliatone/go-coherent-cache/domaincache"
)

// Cache is the review view of a shared cache manager. Listings and single
// reviews share one Domain, so a mutation invalidates both.
type Cache struct {
	lists *domaincache.Facade[[]Review]
	items *domaincache.Facade[Review]
}

// New creates a review cache over manager. Pass domaincache.WithChannel to
// take part in cross-instance invalidation.
func New(manager *cache.Manager, opts ...domaincache.Option) (*Cache, error) {
	lists, err := domaincache.New[[]Review](manager, Domain, opts...)
	if err != nil {
		return nil, err
	}

	// one channel subscription is enough, both facades share the domain rules
	itemOpts := append(append([]domaincache.Option(nil), opts...), domaincache.WithChannel(nil))
	items, err := domaincache.New[Review](manager, Domain, itemOpts...)
	if err != nil {
		_ = lists.Close()
		return nil, err
	}

	return &Cache{lists: lists, items: items}, nil
}

// CacheReviews stores a listing under key.
func (c *Cache) CacheReviews(key string, reviews []Review, ttl ...time.Duration) {
	c.lists.Cache(key, reviews, ttl...)
}

// GetCachedReviews returns the listing stored under key and counts a hit or a miss.
func (c *Cache) GetCachedReviews(key string) ([]Review, bool) {
	return c.lists.Get(key)
}

// LoadReviews reads a listing through the cache, calling fetch on a miss.
func (c *Cache) LoadReviews(ctx context.Context, key string, fetch cache.FetchFn[[]Review]) ([]Review, error) {
	return c.lists.GetOrFetch(ctx, key, fetch)
}

// CacheReview stores a single review under EntityKey(r.ID).
func (c *Cache) CacheReview(r Review, ttl ...time.Duration) {
	c.items.Cache(EntityKey(r.ID), r, ttl...)
}

// GetCachedReview returns the review stored for id.
func (c *Cache) GetCachedReview(id string) (Review, bool) {
	return c.items.Get(EntityKey(id))
}

// HasCache reports whether a live listing is stored under key.
func (c *Cache) HasCache(key string) bool {
	return c.lists.Has(key)
}

// InvalidateCache removes one listing and reports whether it was cached.
func (c *Cache) InvalidateCache(key string) bool {
	return c.lists.Invalidate(key)
}

// InvalidatePattern removes every key matching pattern.
func (c *Cache) InvalidatePattern(pattern string) int {
	return c.lists.InvalidatePattern(pattern)
}

// InvalidateUserCache removes every listing of reviews about userID.
func (c *Cache) InvalidateUserCache(userID string) int {
	return c.lists.InvalidateScope(userID)
}

// ClearCache empties the shared manager and resets the statistics.
func (c *Cache) ClearCache() {
	c.lists.Clear()
	c.items.Clear()
}

// RefreshCache restarts the lifetime of the entry under key.
func (c *Cache) RefreshCache(key string) bool {
	return c.lists.Refresh(key)
}

// UpdateCacheTTL sets a new TTL for key, counted from its creation time.
func (c *Cache) UpdateCacheTTL(key string, ttl time.Duration) bool {
	return c.lists.UpdateTTL(key, ttl)
}

// BroadcastMutation announces event to other instances without touching the
// local cache.
func (c *Cache) BroadcastMutation(ctx context.Context, event broadcast.MutationEvent) {
	c.lists.Broadcast(ctx, event)
}

// Mutated invalidates locally and broadcasts. Call it after every successful
// review write.
func (c *Cache) Mutated(ctx context.Context, event broadcast.MutationEvent) int {
	return c.lists.Mutated(ctx, event)
}

// Stats adds up listing and single review reads.
func (c *Cache) Stats() domaincache.Stats {
	lists, items := c.lists.Stats(), c.items.Stats()
	return domaincache.Stats{
		Hits:   lists.Hits + items.Hits,
		Misses: lists.Misses + items.Misses,
		Size:   lists.Size,
	}
}

// Close detaches the cache from the manager and the channel.
func (c *Cache) Close() error {
	_ = c.items.Close()
	return c.lists.Close()
}
