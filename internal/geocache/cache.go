// Package geocache caches geocoded addresses under normalized keys with
// LRU eviction, per-entry expiry, and hit/miss statistics.
package geocache

import (
	"container/list"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default cache bounds.
const (
	DefaultMaxEntries = 10000
	DefaultTTL        = 30 * 24 * time.Hour
)

// Coordinate is a geographic point stored in the cache.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Config holds configuration for the address cache.
type Config struct {
	// MaxEntries bounds the number of cached addresses.
	// Default: 10000
	MaxEntries int

	// TTL is how long an entry stays valid after insertion.
	// Default: 30 days
	TTL time.Duration

	// Store, when set, persists entries across restarts. A lookup that
	// misses in memory consults the store before reporting a miss; store
	// failures degrade to memory-only behavior and never fail a lookup.
	Store Store

	// Logger for cache operations.
	Logger zerolog.Logger
}

// Cache maps normalized address text to coordinates. Bounded in size
// (least-recently-used entries evicted first) and in time (entries
// expire after the configured TTL; an expired entry reads as a miss and
// is dropped). Safe for concurrent use.
type Cache struct {
	maxEntries int
	ttl        time.Duration
	store      Store
	logger     zerolog.Logger

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element
	hits    uint64
	misses  uint64
}

type entry struct {
	key       string
	coord     Coordinate
	expiresAt time.Time
}

// New creates an address cache.
func New(cfg Config) *Cache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		store:      cfg.Store,
		logger:     cfg.Logger,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Get looks up coordinates for an address. The address is normalized
// first, so variants covered by NormalizeAddress share one entry. A
// lookup refreshes the entry's recency. Blank addresses return absent
// without touching the hit/miss counters.
func (c *Cache) Get(ctx context.Context, address string) (Coordinate, bool) {
	key := NormalizeAddress(address)
	if key == "" {
		return Coordinate{}, false
	}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		if time.Now().Before(ent.expiresAt) {
			c.order.MoveToFront(el)
			c.hits++
			coord := ent.coord
			c.mu.Unlock()
			c.logger.Debug().Str("address_key", key).Msg("geocode cache hit")
			return coord, true
		}
		c.order.Remove(el)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if coord, ok := c.loadFromStore(ctx, key); ok {
		c.mu.Lock()
		c.hits++
		c.insertLocked(key, coord)
		c.mu.Unlock()
		c.logger.Debug().Str("address_key", key).Msg("geocode cache warmed from store")
		return coord, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	c.logger.Debug().Str("address_key", key).Msg("geocode cache miss")
	return Coordinate{}, false
}

// Set stores coordinates for an address under its normalized key,
// overwriting any previous value and refreshing expiry and recency.
// Blank addresses are ignored.
func (c *Cache) Set(ctx context.Context, address string, coord Coordinate) {
	key := NormalizeAddress(address)
	if key == "" {
		c.logger.Warn().Msg("ignoring cache set for empty address")
		return
	}

	c.mu.Lock()
	c.insertLocked(key, coord)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(ctx, key, coord); err != nil {
			c.logger.Warn().Err(err).Str("address_key", key).Msg("geocode store save failed")
		}
	}
}

func (c *Cache) insertLocked(key string, coord Coordinate) {
	expiresAt := time.Now().Add(c.ttl)

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		ent.coord = coord
		ent.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, coord: coord, expiresAt: expiresAt})
	c.entries[key] = el

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*entry)
		c.order.Remove(oldest)
		delete(c.entries, evicted.key)
		c.logger.Debug().Str("address_key", evicted.key).Msg("evicted least recently used cache entry")
	}
}

func (c *Cache) loadFromStore(ctx context.Context, key string) (Coordinate, bool) {
	if c.store == nil {
		return Coordinate{}, false
	}

	coord, geocodedAt, err := c.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn().Err(err).Str("address_key", key).Msg("geocode store lookup failed")
		}
		return Coordinate{}, false
	}

	if time.Since(geocodedAt) >= c.ttl {
		return Coordinate{}, false
	}

	return coord, true
}

// Clear drops all entries and resets the hit/miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.hits = 0
	c.misses = 0
	c.logger.Info().Msg("geocode cache cleared")
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Contains reports whether an address has a live cache entry, without
// touching recency or the counters.
func (c *Cache) Contains(address string) bool {
	key := NormalizeAddress(address)
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	return time.Now().Before(el.Value.(*entry).expiresAt)
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size           int
	MaxEntries     int
	Hits           uint64
	Misses         uint64
	HitRatePercent float64
	TotalRequests  uint64
	TTLDays        float64
}

// Stats returns a snapshot of the cache counters. HitRatePercent is
// rounded to two decimals and 0 when nothing has been looked up yet.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = math.Round(float64(c.hits)/float64(total)*100*100) / 100
	}

	return Stats{
		Size:           c.order.Len(),
		MaxEntries:     c.maxEntries,
		Hits:           c.hits,
		Misses:         c.misses,
		HitRatePercent: hitRate,
		TotalRequests:  total,
		TTLDays:        c.ttl.Hours() / 24,
	}
}
