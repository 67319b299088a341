// Package cache provides a TTL keyed cache manager with pattern invalidation
// and mutation listeners.
//
// # Overview
//
// The package exports:
//
//   - Manager: an in-memory key/value cache with per-entry TTLs, pattern
//     invalidation and a listener list notified on every mutation
//   - KeySerializer: builds namespaced cache keys ("reviews:user-42:page:2")
//   - GetAs and GetOrFetch: type-safe reads and read-through fetching
//
// Expiry is lazy. There is no background timer: an expired entry is treated
// as absent by every read and is removed the next time it is read, when it is
// deleted explicitly, or when the cache is cleared. Size therefore counts
// entries that have expired but were not swept yet.
//
// # Basic Usage
//
//	m, err := cache.New(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	key := cache.Key("reviews", userID)
//	if reviews, ok := cache.GetAs[[]Review](m, key); ok {
//		return reviews, nil
//	}
//
//	reviews, err := api.ListReviews(ctx, userID)
//	if err != nil {
//		return nil, err
//	}
//	m.SetWithTTL(key, reviews, time.Minute)
//
// Or, with read-through fetching:
//
//	reviews, err := cache.GetOrFetch(ctx, m, key, func(ctx context.Context) ([]Review, error) {
//		return api.ListReviews(ctx, userID)
//	})
//
// # Key Namespacing
//
// Keys are opaque strings, conventionally "<entity>:<scope>[:qualifier]".
// Namespacing is a caller convention and the only thing pattern invalidation
// relies on. The default serializer writes scalar parts verbatim and folds
// composite parts (filters, criteria structs, maps) into a single xxhash
// digest segment.
//
// # Pattern Invalidation
//
// InvalidatePattern removes every key matching a pattern. In the default
// MatchSegments mode a pattern matches keys equal to it or extending it by
// whole segments, so "reviews:u1" removes "reviews:u1" and "reviews:u1:page2"
// and leaves "reviews:u10" alone. MatchSubstring keeps the plain
// strings.Contains behaviour for callers that depend on it.
//
// # Listeners
//
// Subscribe registers a Listener called with the affected key after Set,
// SetWithTTL, Delete (when something was removed) and capacity evictions, and
// with AllKeys after Clear. A panicking listener is recovered and logged; the
// remaining listeners and the mutation itself are unaffected.
//
// # Shared Instance
//
// Instance returns a process-wide manager created with the first
// configuration it sees. A later call passing a configuration gets the same
// manager and ErrAlreadyConfigured. New plus explicit wiring (see pkg/di) is
// preferred for anything that needs independent instances, tests included.
//
// # See Also
//
// For cross-instance invalidation see the broadcast package. For a domain
// scoped view with hit/miss statistics see domaincache and reviewcache.
package cache
