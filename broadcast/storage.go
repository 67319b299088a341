package broadcast

import (
	"context"
	"sync"
)

// StorageEvent describes a change to one storage item. A nil NewValue means
// the item was removed.
type StorageEvent struct {
	Key      string  `json:"key"`
	OldValue *string `json:"old_value,omitempty"`
	NewValue *string `json:"new_value,omitempty"`
}

// Storage is a shared, persistent key/value store used purely as a signaling
// transport. Watchers are told about changes made by any client of the store.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	// Watch calls fn for every change until stop is called.
	Watch(fn func(StorageEvent)) (stop func(), err error)
}

// MemoryStorage is a process-local Storage shared by reference between cache
// instances. Watchers run synchronously on the writing goroutine, after the
// write is visible. Writing an item's current value again and removing an
// absent item produce no event.
type MemoryStorage struct {
	mu       sync.Mutex
	items    map[string]string
	watchers map[uint64]func(StorageEvent)
	nextID   uint64
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items:    make(map[string]string),
		watchers: make(map[uint64]func(StorageEvent)),
	}
}

// GetItem returns the value stored under key.
func (s *MemoryStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	return value, ok, nil
}

// SetItem stores value under key and notifies watchers when it changed.
func (s *MemoryStorage) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	old, existed := s.items[key]
	if existed && old == value {
		s.mu.Unlock()
		return nil
	}
	s.items[key] = value
	watchers := s.snapshot()
	s.mu.Unlock()

	event := StorageEvent{Key: key, NewValue: &value}
	if existed {
		event.OldValue = &old
	}
	for _, fn := range watchers {
		fn(event)
	}
	return nil
}

// RemoveItem deletes key and notifies watchers when it existed.
func (s *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	old, existed := s.items[key]
	if !existed {
		s.mu.Unlock()
		return nil
	}
	delete(s.items, key)
	watchers := s.snapshot()
	s.mu.Unlock()

	event := StorageEvent{Key: key, OldValue: &old}
	for _, fn := range watchers {
		fn(event)
	}
	return nil
}

// Watch registers fn for every later change. The returned stop is idempotent.
func (s *MemoryStorage) Watch(fn func(StorageEvent)) (func(), error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *MemoryStorage) snapshot() []func(StorageEvent) {
	watchers := make([]func(StorageEvent), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	return watchers
}
