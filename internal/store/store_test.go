package store

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-coherent-cache/pkg/testsupport"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *testsupport.Clock) {
	t.Helper()

	clock := testsupport.NewClock(time.Time{})
	cfg.Now = clock.Now
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultTTL != 5*time.Minute {
		t.Errorf("expected DefaultTTL to be 5 minutes, got %v", cfg.DefaultTTL)
	}

	if cfg.MaxEntries != 0 {
		t.Errorf("expected MaxEntries to be 0, got %d", cfg.MaxEntries)
	}

	if cfg.Now == nil {
		t.Error("expected Now to be set")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
		errorMsg  string
	}{
		{
			name: "valid default config",
			cfg:  DefaultConfig(),
		},
		{
			name:      "invalid TTL - zero",
			cfg:       Config{DefaultTTL: 0},
			wantError: true,
			errorMsg:  "must be greater than 0",
		},
		{
			name:      "invalid TTL - negative",
			cfg:       Config{DefaultTTL: -time.Second},
			wantError: true,
			errorMsg:  "must be greater than 0",
		},
		{
			name:      "invalid max entries",
			cfg:       Config{DefaultTTL: time.Minute, MaxEntries: -1},
			wantError: true,
			errorMsg:  "must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantError {
				if err != nil {
					t.Errorf("expected no error but got: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatal("expected validation error but got none")
			}

			configErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if !strings.Contains(configErr.Message, tt.errorMsg) {
				t.Errorf("expected error message to contain %q, got %q", tt.errorMsg, configErr.Message)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected New() to fail with an empty config")
	}
}

func TestStore_TTLCorrectness(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	s.SetWithTTL("reviews:u1", "v", 10*time.Second)

	value, ok := s.Get("reviews:u1")
	if !ok || value != "v" {
		t.Fatalf("expected immediate hit with 'v', got %v (ok=%v)", value, ok)
	}

	clock.Advance(9 * time.Second)
	if !s.Has("reviews:u1") {
		t.Error("expected entry to still be live before expiresAt")
	}

	clock.Advance(time.Second)
	if s.Has("reviews:u1") {
		t.Error("expected Has to be false at expiresAt")
	}
	if _, ok := s.Get("reviews:u1"); ok {
		t.Error("expected Get to miss at expiresAt")
	}
}

func TestStore_DefaultTTLApplied(t *testing.T) {
	s, clock := newTestStore(t, Config{DefaultTTL: time.Minute})

	s.Set("k", 1)
	item, ok := s.Entry("k")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if got := item.ExpiresAt.Sub(item.CreatedAt); got != time.Minute {
		t.Errorf("expected lifetime of 1m, got %v", got)
	}

	clock.Advance(time.Minute)
	if s.Has("k") {
		t.Error("expected entry to expire after default TTL")
	}
}

func TestStore_ZeroTTLExpiresImmediately(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	s.SetWithTTL("k", "v", 0)
	if s.Has("k") {
		t.Error("expected zero TTL entry to be expired immediately")
	}
	if s.Len() != 1 {
		t.Errorf("expected unswept entry to be counted, got %d", s.Len())
	}
	if _, ok := s.Get("k"); ok {
		t.Error("expected zero TTL entry to miss")
	}
}

func TestStore_LazySweepAndLen(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	s.SetWithTTL("a", 1, time.Second)
	s.SetWithTTL("b", 2, time.Hour)
	clock.Advance(2 * time.Second)

	if s.Len() != 2 {
		t.Fatalf("expected Len to include expired entries, got %d", s.Len())
	}

	// Has never mutates
	s.Has("a")
	if s.Len() != 2 {
		t.Errorf("expected Has to leave the entry in place, got Len %d", s.Len())
	}

	s.Get("a")
	if s.Len() != 1 {
		t.Errorf("expected Get to sweep the expired entry, got Len %d", s.Len())
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	s.SetWithTTL("k", "old", time.Second)
	clock.Advance(500 * time.Millisecond)
	s.SetWithTTL("k", "new", time.Minute)
	clock.Advance(time.Second)

	value, ok := s.Get("k")
	if !ok || value != "new" {
		t.Errorf("expected overwritten value 'new', got %v (ok=%v)", value, ok)
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	s.Set("k", "v")
	if !s.Delete("k") {
		t.Error("expected Delete to report an existing entry")
	}
	if s.Delete("k") {
		t.Error("expected second Delete to report false")
	}
	if s.Delete("never-set") {
		t.Error("expected Delete of unknown key to report false")
	}
}

func TestStore_Clear(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	s.Set("a", 1)
	s.Set("b", 2)
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("expected empty store after Clear, got %d", s.Len())
	}
}

func TestStore_Keys(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	s.Set("reviews:u1", 1)
	s.Set("reviews:u2", 2)

	keys := s.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "reviews:u1" || keys[1] != "reviews:u2" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestStore_Refresh(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	s.SetWithTTL("k", "v", 10*time.Second)
	clock.Advance(8 * time.Second)

	if !s.Refresh("k") {
		t.Fatal("expected Refresh of a live entry to succeed")
	}

	clock.Advance(8 * time.Second)
	if !s.Has("k") {
		t.Error("expected refreshed entry to live a full TTL from the refresh")
	}

	clock.Advance(2 * time.Second)
	if s.Has("k") {
		t.Error("expected refreshed entry to expire after its TTL")
	}

	if s.Refresh("k") {
		t.Error("expected Refresh of an expired entry to fail")
	}
	if s.Len() != 0 {
		t.Errorf("expected Refresh to sweep the expired entry, got Len %d", s.Len())
	}
	if s.Refresh("missing") {
		t.Error("expected Refresh of a missing entry to fail")
	}
}

func TestStore_RefreshFallsBackToDefaultTTL(t *testing.T) {
	s, clock := newTestStore(t, Config{DefaultTTL: time.Minute})

	s.SetWithTTL("k2", "v", -1)
	if s.Refresh("k2") {
		t.Error("expected Refresh of an already expired entry to fail")
	}

	s.SetWithTTL("k3", "v", time.Second)
	item, _ := s.Entry("k3")
	item.TTL = 0
	s.items.Store("k3", item)
	if !s.Refresh("k3") {
		t.Fatal("expected Refresh to succeed")
	}
	clock.Advance(59 * time.Second)
	if !s.Has("k3") {
		t.Error("expected default TTL to be used when the item TTL is not positive")
	}
}

func TestStore_UpdateTTL(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	s.SetWithTTL("k", "v", 10*time.Second)
	clock.Advance(5 * time.Second)

	if !s.UpdateTTL("k", 30*time.Second) {
		t.Fatal("expected UpdateTTL of a live entry to succeed")
	}

	item, ok := s.Entry("k")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if got := item.ExpiresAt.Sub(item.CreatedAt); got != 30*time.Second {
		t.Errorf("expected expiresAt = createdAt + 30s, got +%v", got)
	}

	clock.Advance(24 * time.Second)
	if !s.Has("k") {
		t.Error("expected entry to be live before the new expiry")
	}
	clock.Advance(time.Second)
	if s.Has("k") {
		t.Error("expected entry to expire at createdAt + new TTL")
	}

	if s.UpdateTTL("missing", time.Minute) {
		t.Error("expected UpdateTTL of a missing entry to fail")
	}
	if s.UpdateTTL("k", time.Hour) {
		t.Error("expected UpdateTTL of an expired entry to fail")
	}
}

func TestStore_UpdateTTLShrinkExpires(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	s.SetWithTTL("k", "v", time.Minute)
	clock.Advance(10 * time.Second)

	if !s.UpdateTTL("k", 5*time.Second) {
		t.Fatal("expected UpdateTTL to succeed")
	}
	if s.Has("k") {
		t.Error("expected shrinking TTL below elapsed time to expire the entry")
	}
}

func TestStore_MaxEntries(t *testing.T) {
	s, clock := newTestStore(t, Config{DefaultTTL: time.Minute, MaxEntries: 2})

	s.Set("a", 1)
	clock.Advance(time.Millisecond)
	s.Set("b", 2)
	clock.Advance(time.Millisecond)

	evicted := s.Set("c", 3)
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected oldest entry 'a' to be evicted, got %v", evicted)
	}
	if s.Len() != 2 {
		t.Errorf("expected Len 2, got %d", s.Len())
	}

	// Overwriting an existing key never evicts
	if evicted := s.Set("c", 4); len(evicted) != 0 {
		t.Errorf("expected no eviction on overwrite, got %v", evicted)
	}
}

func TestStore_MaxEntriesSweepsExpiredFirst(t *testing.T) {
	s, clock := newTestStore(t, Config{DefaultTTL: time.Minute, MaxEntries: 2})

	s.Set("old-but-live", 1)
	s.SetWithTTL("short", 2, time.Second)
	clock.Advance(2 * time.Second)

	evicted := s.Set("new", 3)
	if len(evicted) != 1 || evicted[0] != "short" {
		t.Fatalf("expected only the expired entry to be evicted, got %v", evicted)
	}
	if !s.Has("old-but-live") {
		t.Error("expected the live entry to survive")
	}
}
