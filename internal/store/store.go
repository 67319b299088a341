package store

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Config holds the configuration for the TTL store.
type Config struct {
	// DefaultTTL is applied by Set when no explicit TTL is given.
	// Must be greater than 0.
	DefaultTTL time.Duration

	// MaxEntries bounds the number of stored entries. Zero disables the bound.
	// When the bound is reached, expired entries are swept first and then the
	// entry with the oldest creation time is evicted.
	MaxEntries int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		MaxEntries: 0,
		Now:        time.Now,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return &ConfigError{Field: "DefaultTTL", Message: "must be greater than 0"}
	}

	if c.MaxEntries < 0 {
		return &ConfigError{Field: "MaxEntries", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Item is a stored value along with its lifetime bookkeeping.
type Item struct {
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
	// TTL is the lifetime the item was stored with, used by Refresh.
	TTL time.Duration
}

// Expired reports whether the item is logically absent at now.
func (i Item) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Store is an in-memory key/value map with lazily enforced TTLs.
// There is no background sweeper: expired entries are removed when they
// are read, when a matching key is deleted, or when the store is cleared.
type Store struct {
	items *xsync.MapOf[string, Item]
	cfg   Config
	now   func() time.Time
}

// New creates a Store from the provided configuration.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		items: xsync.NewMapOf[string, Item](),
		cfg:   cfg,
		now:   now,
	}, nil
}

// DefaultTTL returns the TTL applied by Set.
func (s *Store) DefaultTTL() time.Duration {
	return s.cfg.DefaultTTL
}

// Set stores value under key using the default TTL.
// It returns the keys evicted to honour MaxEntries, if any.
func (s *Store) Set(key string, value any) []string {
	return s.SetWithTTL(key, value, s.cfg.DefaultTTL)
}

// SetWithTTL stores value under key, overwriting any existing entry.
// A non-positive ttl produces an entry that is already expired.
func (s *Store) SetWithTTL(key string, value any, ttl time.Duration) []string {
	now := s.now()
	item := Item{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(max(ttl, 0)),
		TTL:       ttl,
	}

	var evicted []string
	if s.cfg.MaxEntries > 0 {
		if _, exists := s.items.Load(key); !exists {
			evicted = s.makeRoom(now)
		}
	}

	s.items.Store(key, item)
	return evicted
}

// Get returns the live value stored under key.
// Expired entries are reported as a miss and removed.
func (s *Store) Get(key string) (any, bool) {
	item, ok := s.items.Load(key)
	if !ok {
		return nil, false
	}

	now := s.now()
	if item.Expired(now) {
		s.sweep(key, now)
		return nil, false
	}

	return item.Value, true
}

// Has reports whether a live entry exists for key. It never mutates the store.
func (s *Store) Has(key string) bool {
	item, ok := s.items.Load(key)
	return ok && !item.Expired(s.now())
}

// Entry returns the live item stored under key without mutating the store.
func (s *Store) Entry(key string) (Item, bool) {
	item, ok := s.items.Load(key)
	if !ok || item.Expired(s.now()) {
		return Item{}, false
	}
	return item, true
}

// Delete removes key and reports whether an entry was stored.
func (s *Store) Delete(key string) bool {
	_, loaded := s.items.LoadAndDelete(key)
	return loaded
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.items.Clear()
}

// Len returns the number of stored entries, including entries that have
// expired but were not swept yet.
func (s *Store) Len() int {
	return s.items.Size()
}

// Keys returns a snapshot of all stored keys.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.items.Size())
	s.items.Range(func(key string, _ Item) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Refresh restarts the lifetime of a live entry from now, using the TTL the
// entry was stored with (or the default TTL when that was not positive).
func (s *Store) Refresh(key string) bool {
	now := s.now()
	refreshed := false

	s.items.Compute(key, func(old Item, loaded bool) (Item, bool) {
		if !loaded {
			return old, true
		}
		if old.Expired(now) {
			return old, true
		}

		ttl := old.TTL
		if ttl <= 0 {
			ttl = s.cfg.DefaultTTL
		}
		old.CreatedAt = now
		old.ExpiresAt = now.Add(ttl)
		old.TTL = ttl
		refreshed = true
		return old, false
	})

	return refreshed
}

// UpdateTTL recomputes ExpiresAt as CreatedAt+ttl for a live entry.
// Expired entries are swept and reported as absent.
func (s *Store) UpdateTTL(key string, ttl time.Duration) bool {
	now := s.now()
	updated := false

	s.items.Compute(key, func(old Item, loaded bool) (Item, bool) {
		if !loaded || old.Expired(now) {
			return old, true
		}

		old.ExpiresAt = old.CreatedAt.Add(max(ttl, 0))
		old.TTL = ttl
		updated = true
		return old, false
	})

	return updated
}

// sweep deletes key only if it is still expired, so a concurrent fresh Set wins.
func (s *Store) sweep(key string, now time.Time) {
	s.items.Compute(key, func(old Item, loaded bool) (Item, bool) {
		if !loaded {
			return old, true
		}
		return old, old.Expired(now)
	})
}

// makeRoom frees at least one slot when the store is at capacity.
func (s *Store) makeRoom(now time.Time) []string {
	if s.items.Size() < s.cfg.MaxEntries {
		return nil
	}

	var evicted []string
	type aged struct {
		key       string
		createdAt time.Time
	}
	var live []aged

	s.items.Range(func(key string, item Item) bool {
		if item.Expired(now) {
			if _, ok := s.items.LoadAndDelete(key); ok {
				evicted = append(evicted, key)
			}
			return true
		}
		live = append(live, aged{key: key, createdAt: item.CreatedAt})
		return true
	})

	overflow := len(live) - s.cfg.MaxEntries + 1
	if overflow <= 0 {
		return evicted
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].createdAt.Before(live[j].createdAt)
	})
	for _, entry := range live[:overflow] {
		if _, ok := s.items.LoadAndDelete(entry.key); ok {
			evicted = append(evicted, entry.key)
		}
	}

	return evicted
}
