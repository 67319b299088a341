package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-coherent-cache/internal/store"
)

// AllKeys is the key listeners receive when the whole cache is cleared.
const AllKeys = "*"

// Listener is notified with the affected key after every cache mutation.
type Listener func(key string)

// Entry describes a live cached value and its lifetime.
type Entry struct {
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
}

type subscription struct {
	id uint64
	fn Listener
}

// Manager wraps the TTL store with pattern invalidation and mutation listeners.
// It is safe for concurrent use. Listeners run synchronously on the goroutine
// that performed the mutation, after the mutation has been applied.
type Manager struct {
	store  *store.Store
	cfg    Config
	mode   PatternMode
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []subscription
	nextID    uint64

	fetches singleflight.Group
}

// New creates a Manager using the provided configuration.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cache: invalid config: %w", err)
	}

	s, err := store.New(cfg.toInternal())
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:  s,
		cfg:    cfg,
		mode:   cfg.patternMode(),
		logger: cfg.logger(),
	}, nil
}

var shared struct {
	once    sync.Once
	manager *Manager
	err     error
}

// Instance returns the process-wide shared Manager, creating it on the first
// call with cfg[0] or DefaultConfig. Later calls that pass a configuration get
// the existing manager back together with ErrAlreadyConfigured: the first
// configuration always wins.
//
// Prefer New and explicit wiring (see pkg/di); Instance exists for callers that
// need a single cache per process without a bootstrap step.
func Instance(cfg ...Config) (*Manager, error) {
	created := false
	shared.once.Do(func() {
		created = true
		c := DefaultConfig()
		if len(cfg) > 0 {
			c = cfg[0]
		}
		shared.manager, shared.err = New(c)
	})

	if shared.err != nil {
		return nil, shared.err
	}
	if !created && len(cfg) > 0 {
		return shared.manager, ErrAlreadyConfigured
	}
	return shared.manager, nil
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// DefaultTTL returns the TTL applied by Set.
func (m *Manager) DefaultTTL() time.Duration {
	return m.store.DefaultTTL()
}

// Set stores value under key with the default TTL and notifies listeners.
func (m *Manager) Set(key string, value any) {
	evicted := m.store.Set(key, value)
	m.notify(evicted...)
	m.notify(key)
}

// SetWithTTL stores value under key with an explicit TTL and notifies listeners.
// A non-positive ttl stores an entry that is already expired.
func (m *Manager) SetWithTTL(key string, value any, ttl time.Duration) {
	evicted := m.store.SetWithTTL(key, value, ttl)
	m.notify(evicted...)
	m.notify(key)
}

// Get returns the live value stored under key. It never fails: anything but
// a live entry is a miss.
func (m *Manager) Get(key string) (any, bool) {
	return m.store.Get(key)
}

// Has reports whether a live entry exists for key.
func (m *Manager) Has(key string) bool {
	return m.store.Has(key)
}

// Entry returns the live entry stored under key.
func (m *Manager) Entry(key string) (Entry, bool) {
	item, ok := m.store.Entry(key)
	if !ok {
		return Entry{}, false
	}
	return Entry{Value: item.Value, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}, true
}

// Delete removes key. Listeners are only notified when an entry was removed.
func (m *Manager) Delete(key string) bool {
	if !m.store.Delete(key) {
		return false
	}
	m.notify(key)
	return true
}

// Clear removes every entry and notifies listeners with AllKeys.
func (m *Manager) Clear() {
	m.store.Clear()
	m.notify(AllKeys)
}

// Refresh restarts the lifetime of a live entry.
func (m *Manager) Refresh(key string) bool {
	return m.store.Refresh(key)
}

// UpdateTTL sets a new TTL, counted from the entry creation time.
func (m *Manager) UpdateTTL(key string, ttl time.Duration) bool {
	return m.store.UpdateTTL(key, ttl)
}

// Size returns the number of stored entries, including expired entries that
// were not swept yet.
func (m *Manager) Size() int {
	return m.store.Len()
}

// Keys returns a snapshot of the stored keys.
func (m *Manager) Keys() []string {
	return m.store.Keys()
}

// InvalidatePattern deletes every key matching pattern and returns how many
// were removed. Listeners are notified once per removed key.
func (m *Manager) InvalidatePattern(pattern string) int {
	if pattern == "" {
		return 0
	}

	removed := 0
	for _, key := range m.store.Keys() {
		if !m.matches(key, pattern) {
			continue
		}
		if m.Delete(key) {
			removed++
		}
	}
	return removed
}

// InvalidateKeys deletes the given keys and returns how many were removed.
func (m *Manager) InvalidateKeys(keys ...string) int {
	removed := 0
	for _, key := range keys {
		if m.Delete(key) {
			removed++
		}
	}
	return removed
}

// Subscribe registers l for mutation notifications and returns a function
// that removes it. Calling the returned function more than once is safe.
func (m *Manager) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: l})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(id) })
	}
}

func (m *Manager) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.listeners {
		if sub.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) matches(key, pattern string) bool {
	if m.mode == MatchSubstring {
		return strings.Contains(key, pattern)
	}
	return MatchesSegments(key, pattern)
}

func (m *Manager) notify(keys ...string) {
	if len(keys) == 0 {
		return
	}

	m.mu.RLock()
	if len(m.listeners) == 0 {
		m.mu.RUnlock()
		return
	}
	listeners := make([]subscription, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, key := range keys {
		for _, sub := range listeners {
			m.call(sub, key)
		}
	}
}

func (m *Manager) call(sub subscription, key string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("cache listener panicked",
				zap.Uint64("listener", sub.id),
				zap.String("key", key),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(key)
}

// MatchesSegments reports whether key equals pattern or extends it by whole
// KeySeparator delimited segments. A pattern ending in KeySeparator matches
// any key it prefixes.
func MatchesSegments(key, pattern string) bool {
	if pattern == "" {
		return false
	}
	if key == pattern {
		return true
	}
	if strings.HasSuffix(pattern, KeySeparator) {
		return strings.HasPrefix(key, pattern)
	}
	return strings.HasPrefix(key, pattern+KeySeparator)
}
