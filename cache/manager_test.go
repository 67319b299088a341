package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-coherent-cache/pkg/testsupport"
)

func newTestManager(t *testing.T, mutate ...func(*Config)) (*Manager, *testsupport.Clock) {
	t.Helper()

	clock := testsupport.NewClock(time.Time{})
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	for _, fn := range mutate {
		fn(&cfg)
	}

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return m, clock
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
		field     string
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "missing TTL", cfg: Config{}, wantError: true, field: "DefaultTTL"},
		{name: "sub millisecond TTL", cfg: Config{DefaultTTL: time.Microsecond}, wantError: true, field: "DefaultTTL"},
		{name: "negative max entries", cfg: Config{DefaultTTL: time.Minute, MaxEntries: -5}, wantError: true, field: "MaxEntries"},
		{name: "unknown pattern mode", cfg: Config{DefaultTTL: time.Minute, PatternMode: "regex"}, wantError: true, field: "PatternMode"},
		{name: "empty pattern mode is allowed", cfg: Config{DefaultTTL: time.Minute}},
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
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error to mention %s, got %v", tt.field, err)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected New() to reject an empty config")
	}
}

func TestManager_TTLCorrectness(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetWithTTL("k", "v", 30*time.Second)
	if value, ok := m.Get("k"); !ok || value != "v" {
		t.Fatalf("expected hit with 'v', got %v (ok=%v)", value, ok)
	}

	clock.Advance(31 * time.Second)
	if _, ok := m.Get("k"); ok {
		t.Error("expected miss after expiry")
	}
	if m.Has("k") {
		t.Error("expected Has to be false after expiry")
	}
}

func TestManager_Entry(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetWithTTL("k", 1, time.Minute)
	entry, ok := m.Entry("k")
	if !ok {
		t.Fatal("expected entry")
	}
	if !entry.CreatedAt.Equal(clock.Now()) || !entry.ExpiresAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("unexpected lifetime: %+v", entry)
	}
}

func TestManager_PatternInvalidation(t *testing.T) {
	m, _ := newTestManager(t)

	m.Set("reviews:u1", 1)
	m.Set("reviews:u1:page2", 2)
	m.Set("reviews:u2", 3)
	m.Set("reviews:u10", 4)

	removed := m.InvalidatePattern("reviews:u1")
	if removed != 2 {
		t.Errorf("expected 2 removed keys, got %d", removed)
	}

	keys := m.Keys()
	sort.Strings(keys)
	want := []string{"reviews:u10", "reviews:u2"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("expected remaining keys %v, got %v", want, keys)
	}
}

func TestManager_PatternInvalidationSubstringMode(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) { c.PatternMode = MatchSubstring })

	m.Set("reviews:u1", 1)
	m.Set("reviews:u10", 2)
	m.Set("archived:reviews:u1", 3)

	if removed := m.InvalidatePattern("reviews:u1"); removed != 3 {
		t.Errorf("expected substring mode to remove 3 keys, got %d", removed)
	}
}

func TestManager_InvalidationIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	var rec testsupport.Recorder
	m.Subscribe(rec.Listen)

	if m.Delete("absent") {
		t.Error("expected Delete of absent key to report false")
	}
	if removed := m.InvalidatePattern("reviews:nobody"); removed != 0 {
		t.Errorf("expected no removals, got %d", removed)
	}
	if removed := m.InvalidatePattern(""); removed != 0 {
		t.Errorf("expected empty pattern to match nothing, got %d", removed)
	}
	if removed := m.InvalidateKeys("a", "b"); removed != 0 {
		t.Errorf("expected no removals, got %d", removed)
	}

	if rec.Len() != 0 {
		t.Errorf("expected zero notifications, got %v", rec.Keys())
	}
}

func TestManager_NotifiesOnMutations(t *testing.T) {
	m, _ := newTestManager(t)
	var rec testsupport.Recorder
	m.Subscribe(rec.Listen)

	m.Set("a", 1)
	m.SetWithTTL("b", 2, time.Minute)
	m.Delete("a")
	m.Clear()

	want := []string{"a", "b", "a", AllKeys}
	got := rec.Keys()
	if len(got) != len(want) {
		t.Fatalf("expected notifications %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestManager_ReadsDoNotNotify(t *testing.T) {
	m, _ := newTestManager(t)
	m.Set("a", 1)

	var rec testsupport.Recorder
	m.Subscribe(rec.Listen)

	m.Get("a")
	m.Has("a")
	m.Size()
	m.Refresh("a")
	m.UpdateTTL("a", time.Hour)

	if rec.Len() != 0 {
		t.Errorf("expected no notifications from reads, got %v", rec.Keys())
	}
}

func TestManager_PatternNotifiesOncePerKey(t *testing.T) {
	m, _ := newTestManager(t)
	m.Set("reviews:u1", 1)
	m.Set("reviews:u1:page2", 2)

	var rec testsupport.Recorder
	m.Subscribe(rec.Listen)

	m.InvalidatePattern("reviews:u1")

	got := rec.Keys()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "reviews:u1" || got[1] != "reviews:u1:page2" {
		t.Errorf("expected one notification per removed key, got %v", got)
	}
}

func TestManager_ListenerIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m, _ := newTestManager(t, func(c *Config) { c.Logger = zap.New(core) })

	m.Subscribe(func(key string) { panic("listener A failed") })
	var rec testsupport.Recorder
	m.Subscribe(rec.Listen)

	m.Set("reviews:u1", []string{"r1"})

	if got := rec.Keys(); len(got) != 1 || got[0] != "reviews:u1" {
		t.Errorf("expected second listener to receive the notification, got %v", got)
	}
	if !m.Has("reviews:u1") {
		t.Error("expected the mutation to complete despite the panicking listener")
	}
	if logs.FilterMessage("cache listener panicked").Len() != 1 {
		t.Errorf("expected the panic to be logged once, got %d entries", logs.Len())
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	m, _ := newTestManager(t)

	var a, b testsupport.Recorder
	unsubscribeA := m.Subscribe(a.Listen)
	m.Subscribe(b.Listen)

	m.Set("k1", 1)
	unsubscribeA()
	unsubscribeA()
	m.Set("k2", 2)

	if a.Len() != 1 {
		t.Errorf("expected unsubscribed listener to get 1 notification, got %d", a.Len())
	}
	if b.Len() != 2 {
		t.Errorf("expected remaining listener to get 2 notifications, got %d", b.Len())
	}

	noop := m.Subscribe(nil)
	noop()
}

func TestManager_ListenerMayReadCache(t *testing.T) {
	m, _ := newTestManager(t)

	var sizes []int
	m.Subscribe(func(key string) {
		sizes = append(sizes, m.Size())
	})

	m.Set("a", 1)
	m.Set("b", 2)
	m.Delete("a")

	want := []int{1, 2, 1}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("notification %d: expected size %d, got %d", i, want[i], sizes[i])
		}
	}
}

func TestManager_SizeCountsUnsweptEntries(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetWithTTL("a", 1, time.Second)
	m.SetWithTTL("b", 2, time.Hour)
	clock.Advance(time.Minute)

	if m.Size() != 2 {
		t.Errorf("expected Size to include the expired entry, got %d", m.Size())
	}
	m.Get("a")
	if m.Size() != 1 {
		t.Errorf("expected Size 1 after lazy sweep, got %d", m.Size())
	}
}

func TestManager_RefreshAndUpdateTTL(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetWithTTL("k", 1, 10*time.Second)
	clock.Advance(9 * time.Second)
	if !m.Refresh("k") {
		t.Fatal("expected Refresh to succeed")
	}
	clock.Advance(9 * time.Second)
	if !m.Has("k") {
		t.Error("expected refreshed entry to be live")
	}

	if !m.UpdateTTL("k", time.Hour) {
		t.Fatal("expected UpdateTTL to succeed")
	}
	clock.Advance(30 * time.Minute)
	if !m.Has("k") {
		t.Error("expected entry to be live under the new TTL")
	}

	if m.Refresh("missing") || m.UpdateTTL("missing", time.Second) {
		t.Error("expected Refresh/UpdateTTL on missing keys to fail")
	}
}

func TestManager_EvictionsNotify(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) { c.MaxEntries = 1 })
	var rec testsupport.Recorder
	m.Subscribe(rec.Listen)

	m.Set("a", 1)
	clock.Advance(time.Millisecond)
	m.Set("b", 2)

	got := rec.Keys()
	want := []string{"a", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected notifications %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if m.Has("a") {
		t.Error("expected 'a' to be evicted")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m, _ := newTestManager(t)
	var notified atomic.Int64
	m.Subscribe(func(string) { notified.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key("reviews", "u1", i)
			m.Set(key, i)
			m.Get(key)
			m.InvalidatePattern("reviews:u1")
		}(i)
	}
	wg.Wait()

	if m.Size() != 0 {
		t.Errorf("expected every key to be invalidated, got Size %d", m.Size())
	}
	if notified.Load() < 16 {
		t.Errorf("expected at least 16 notifications, got %d", notified.Load())
	}
}

func TestInstance_FirstConfigWins(t *testing.T) {
	first := DefaultConfig()
	first.DefaultTTL = 42 * time.Second

	m1, err := Instance(first)
	if err != nil {
		// another test in this binary may have created the shared manager
		if !errors.Is(err, ErrAlreadyConfigured) {
			t.Fatalf("Instance() failed: %v", err)
		}
	}

	m2, err := Instance()
	if err != nil {
		t.Fatalf("Instance() without config should not fail, got %v", err)
	}
	if m1 != m2 {
		t.Error("expected Instance to return the same manager")
	}

	second := DefaultConfig()
	second.DefaultTTL = time.Hour
	m3, err := Instance(second)
	if !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("expected ErrAlreadyConfigured, got %v", err)
	}
	if m3 != m1 {
		t.Error("expected the existing manager to be returned with the error")
	}
	if m3.DefaultTTL() != 42*time.Second {
		t.Errorf("expected the first configuration to be kept, got TTL %v", m3.DefaultTTL())
	}
}

func TestGetAs(t *testing.T) {
	m, _ := newTestManager(t)
	m.Set("k", []string{"r1", "r2"})

	got, ok := GetAs[[]string](m, "k")
	if !ok || len(got) != 2 {
		t.Errorf("expected typed hit, got %v (ok=%v)", got, ok)
	}

	if _, ok := GetAs[int](m, "k"); ok {
		t.Error("expected a type mismatch to be a miss")
	}
	if _, ok := GetAs[int](m, "missing"); ok {
		t.Error("expected a missing key to be a miss")
	}
}

func TestGetOrFetch_CachesResult(t *testing.T) {
	m, _ := newTestManager(t)
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrFetch(context.Background(), m, "k", fetch)
		if err != nil {
			t.Fatalf("GetOrFetch() failed: %v", err)
		}
		if got != "fresh" {
			t.Errorf("expected 'fresh', got %q", got)
		}
	}
	if calls != 1 {
		t.Errorf("expected one fetch, got %d", calls)
	}
}

func TestGetOrFetch_ErrorIsNotCached(t *testing.T) {
	m, _ := newTestManager(t)
	boom := errors.New("boom")

	_, err := GetOrFetch(context.Background(), m, "k", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fetch error, got %v", err)
	}
	if m.Has("k") {
		t.Error("expected nothing to be cached after a failed fetch")
	}
}

func TestGetOrFetch_InvalidResultType(t *testing.T) {
	m, _ := newTestManager(t)
	m.Set("k", "wrong-type")

	result, err := GetOrFetch(context.Background(), m, "k", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType but got: %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value (0) but got: %v", result)
	}
}

func TestGetOrFetch_NilInterfaceResult(t *testing.T) {
	m, _ := newTestManager(t)

	type SomeInterface interface {
		DoSomething() string
	}

	result, err := GetOrFetch(context.Background(), m, "k", func(ctx context.Context) (SomeInterface, error) {
		return nil, nil
	})
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_NilFetchFn(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := GetOrFetch[int](context.Background(), m, "k", nil); !errors.Is(err, ErrNilFetchFn) {
		t.Errorf("expected ErrNilFetchFn, got %v", err)
	}
}

func TestGetOrFetch_CanceledContext(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GetOrFetch(ctx, m, "k", func(ctx context.Context) (int, error) {
		t.Error("fetch must not run with a canceled context")
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGetOrFetch_CoalescesConcurrentMisses(t *testing.T) {
	m, _ := newTestManager(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrFetch(context.Background(), m, "k", fetch)
			if err != nil {
				t.Errorf("GetOrFetch() failed: %v", err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected a single fetch, got %d", calls.Load())
	}
	for i, v := range results {
		if v != 7 {
			t.Errorf("result %d: expected 7, got %d", i, v)
		}
	}
}
