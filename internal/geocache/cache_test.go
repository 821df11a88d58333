package geocache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimap/optimap/internal/geocache"
)

// mockStore is an in-memory Store for testing the persistence path.
type mockStore struct {
	mu      sync.Mutex
	entries map[string]storedEntry
	loadErr error
	saveErr error
	saves   int
	loads   int
}

type storedEntry struct {
	coord      geocache.Coordinate
	geocodedAt time.Time
}

func newMockStore() *mockStore {
	return &mockStore{entries: map[string]storedEntry{}}
}

func (m *mockStore) Load(_ context.Context, key string) (geocache.Coordinate, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return geocache.Coordinate{}, time.Time{}, m.loadErr
	}
	ent, ok := m.entries[key]
	if !ok {
		return geocache.Coordinate{}, time.Time{}, geocache.ErrNotFound
	}
	return ent.coord, ent.geocodedAt, nil
}

func (m *mockStore) Save(_ context.Context, key string, coord geocache.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries[key] = storedEntry{coord: coord, geocodedAt: time.Now()}
	return nil
}

func newTestCache(cfg geocache.Config) *geocache.Cache {
	cfg.Logger = zerolog.Nop()
	return geocache.New(cfg)
}

func TestCache_SetAndGet(t *testing.T) {
	cache := newTestCache(geocache.Config{})
	ctx := context.Background()

	cache.Set(ctx, "123 Main Street, Brooklyn", geocache.Coordinate{Lat: 40.6782, Lon: -73.9442})

	coord, ok := cache.Get(ctx, "123 Main Street, Brooklyn")
	require.True(t, ok)
	assert.InDelta(t, 40.6782, coord.Lat, 1e-9)
	assert.InDelta(t, -73.9442, coord.Lon, 1e-9)
}

func TestCache_NormalizedVariantsShareEntry(t *testing.T) {
	cache := newTestCache(geocache.Config{})
	ctx := context.Background()

	cache.Set(ctx, "123 Main Street", geocache.Coordinate{Lat: 1, Lon: 2})

	for _, variant := range []string{"123 main st", "123 MAIN STREET", " 123  Main  St. "} {
		coord, ok := cache.Get(ctx, variant)
		require.True(t, ok, "variant %q should hit", variant)
		assert.Equal(t, geocache.Coordinate{Lat: 1, Lon: 2}, coord)
	}

	assert.Equal(t, 1, cache.Len())
}

func TestCache_MissReturnsFalse(t *testing.T) {
	cache := newTestCache(geocache.Config{})

	_, ok := cache.Get(context.Background(), "nowhere in particular")
	assert.False(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	cache := newTestCache(geocache.Config{MaxEntries: 2})
	ctx := context.Background()

	cache.Set(ctx, "first address", geocache.Coordinate{Lat: 1})
	cache.Set(ctx, "second address", geocache.Coordinate{Lat: 2})

	// Touch "first" so "second" becomes least recently used.
	_, ok := cache.Get(ctx, "first address")
	require.True(t, ok)

	cache.Set(ctx, "third address", geocache.Coordinate{Lat: 3})

	assert.Equal(t, 2, cache.Len())
	assert.True(t, cache.Contains("first address"))
	assert.False(t, cache.Contains("second address"), "least recently used entry should be evicted")
	assert.True(t, cache.Contains("third address"))
}

func TestCache_SetRefreshesRecency(t *testing.T) {
	cache := newTestCache(geocache.Config{MaxEntries: 2})
	ctx := context.Background()

	cache.Set(ctx, "first address", geocache.Coordinate{Lat: 1})
	cache.Set(ctx, "second address", geocache.Coordinate{Lat: 2})

	// Overwriting "first" refreshes it, so "second" is evicted next.
	cache.Set(ctx, "first address", geocache.Coordinate{Lat: 10})
	cache.Set(ctx, "third address", geocache.Coordinate{Lat: 3})

	coord, ok := cache.Get(ctx, "first address")
	require.True(t, ok)
	assert.Equal(t, float64(10), coord.Lat, "overwrite should replace the value")
	assert.False(t, cache.Contains("second address"))
}

func TestCache_ExpiryBehavesAsMiss(t *testing.T) {
	cache := newTestCache(geocache.Config{TTL: 20 * time.Millisecond})
	ctx := context.Background()

	cache.Set(ctx, "short lived", geocache.Coordinate{Lat: 1})

	_, ok := cache.Get(ctx, "short lived")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	_, ok = cache.Get(ctx, "short lived")
	assert.False(t, ok, "expired entry should read as a miss")
	assert.Equal(t, 0, cache.Len(), "expired entry should be dropped")
}

func TestCache_Stats(t *testing.T) {
	cache := newTestCache(geocache.Config{MaxEntries: 100, TTL: 30 * 24 * time.Hour})
	ctx := context.Background()

	cache.Set(ctx, "known address", geocache.Coordinate{Lat: 1})

	_, _ = cache.Get(ctx, "known address")   // hit
	_, _ = cache.Get(ctx, "known address")   // hit
	_, _ = cache.Get(ctx, "unknown address") // miss

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 100, stats.MaxEntries)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(3), stats.TotalRequests)
	assert.InDelta(t, 66.67, stats.HitRatePercent, 0.001, "hit rate should round to two decimals")
	assert.InDelta(t, 30, stats.TTLDays, 0.001)
}

func TestCache_StatsEmpty(t *testing.T) {
	cache := newTestCache(geocache.Config{})

	stats := cache.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.HitRatePercent)
}

func TestCache_ClearResetsEntriesAndCounters(t *testing.T) {
	cache := newTestCache(geocache.Config{})
	ctx := context.Background()

	cache.Set(ctx, "some address", geocache.Coordinate{Lat: 1})
	_, _ = cache.Get(ctx, "some address")
	_, _ = cache.Get(ctx, "missing address")

	cache.Clear()

	assert.Equal(t, 0, cache.Len())
	stats := cache.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.TotalRequests)
}

func TestCache_BlankAddressIgnored(t *testing.T) {
	cache := newTestCache(geocache.Config{})
	ctx := context.Background()

	cache.Set(ctx, "   ", geocache.Coordinate{Lat: 1})
	assert.Equal(t, 0, cache.Len(), "blank address should not be cached")

	_, ok := cache.Get(ctx, "")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, " , . ")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Zero(t, stats.TotalRequests, "blank lookups should not count")
}

func TestCache_StoreWriteThrough(t *testing.T) {
	store := newMockStore()
	cache := newTestCache(geocache.Config{Store: store})
	ctx := context.Background()

	cache.Set(ctx, "123 Main Street", geocache.Coordinate{Lat: 40.7, Lon: -74.0})

	assert.Equal(t, 1, store.saves)
	_, _, err := store.Load(ctx, "123 main st")
	assert.NoError(t, err, "store should hold the normalized key")
}

func TestCache_StoreWarmsColdMiss(t *testing.T) {
	store := newMockStore()
	store.entries["123 main st"] = storedEntry{
		coord:      geocache.Coordinate{Lat: 40.7, Lon: -74.0},
		geocodedAt: time.Now(),
	}

	cache := newTestCache(geocache.Config{Store: store})
	ctx := context.Background()

	coord, ok := cache.Get(ctx, "123 Main Street")
	require.True(t, ok, "cold miss should be served from the store")
	assert.Equal(t, geocache.Coordinate{Lat: 40.7, Lon: -74.0}, coord)
	assert.Equal(t, 1, cache.Len(), "store hit should fill the memory cache")

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Zero(t, stats.Misses)

	// Second lookup is served from memory.
	_, ok = cache.Get(ctx, "123 Main Street")
	require.True(t, ok)
	assert.Equal(t, 1, store.loads)
}

func TestCache_StoreEntryPastTTLIsMiss(t *testing.T) {
	store := newMockStore()
	store.entries["old address"] = storedEntry{
		coord:      geocache.Coordinate{Lat: 1},
		geocodedAt: time.Now().Add(-48 * time.Hour),
	}

	cache := newTestCache(geocache.Config{Store: store, TTL: 24 * time.Hour})

	_, ok := cache.Get(context.Background(), "old address")
	assert.False(t, ok, "stale store entry should not be served")
}

func TestCache_StoreErrorsDegradeToMemoryOnly(t *testing.T) {
	store := newMockStore()
	store.loadErr = errors.New("connection refused")
	store.saveErr = errors.New("connection refused")

	cache := newTestCache(geocache.Config{Store: store})
	ctx := context.Background()

	cache.Set(ctx, "123 Main Street", geocache.Coordinate{Lat: 40.7})

	coord, ok := cache.Get(ctx, "123 Main Street")
	require.True(t, ok, "memory entry should survive store failures")
	assert.Equal(t, float64(40.7), coord.Lat)

	_, ok = cache.Get(ctx, "never seen address")
	assert.False(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := newTestCache(geocache.Config{MaxEntries: 50})
	ctx := context.Background()

	addresses := []string{
		"1 First Ave", "2 Second Ave", "3 Third Ave", "4 Fourth Ave", "5 Fifth Ave",
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				addr := addresses[(n+j)%len(addresses)]
				cache.Set(ctx, addr, geocache.Coordinate{Lat: float64(n), Lon: float64(j)})
				_, _ = cache.Get(ctx, addr)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, len(addresses), cache.Len())
}
