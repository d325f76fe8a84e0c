package geocode

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/anupcshan/daytrace/internal/geo"
)

// Entry is one cache value. Cache files hold either a GeoResult object or,
// for water checks (and entries from old versions), a bare boolean.
type Entry struct {
	Result *GeoResult
	Water  *bool
}

// ResultEntry wraps r as a cache entry.
func ResultEntry(r GeoResult) Entry { return Entry{Result: &r} }

// WaterEntry wraps a water flag as a cache entry.
func WaterEntry(w bool) Entry { return Entry{Water: &w} }

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Result != nil {
		return json.Marshal(e.Result)
	}
	if e.Water != nil {
		return json.Marshal(*e.Water)
	}
	return []byte("null"), nil
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		w := data[0] == 't'
		*e = Entry{Water: &w}
		return nil
	case len(data) > 0 && data[0] == '{':
		var r GeoResult
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		*e = Entry{Result: &r}
		return nil
	}
	return fmt.Errorf("unexpected cache value %s", data)
}

// asResult interprets an entry as a geocoding result. Bare booleans from
// old cache files become water-only results.
func (e Entry) asResult() (GeoResult, bool) {
	switch {
	case e.Result != nil:
		return *e.Result, true
	case e.Water != nil:
		return GeoResult{IsWater: *e.Water}, true
	}
	return GeoResult{}, false
}

func (e Entry) asWater() (bool, bool) {
	switch {
	case e.Water != nil:
		return *e.Water, true
	case e.Result != nil:
		return e.Result.IsWater, true
	}
	return false, false
}

// Cache maps rounded coordinates to geocoding results. Entries are never
// overwritten once added; only Clear removes them. New entries are written
// through to the Store on Persist.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	pending map[string]Entry
	store   Store
}

// NewCache returns an empty cache that is not backed by any store.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry), pending: make(map[string]Entry)}
}

// OpenCache loads every entry from store.
func OpenCache(ctx context.Context, store Store) (*Cache, error) {
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load geocode cache: %w", err)
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return &Cache{entries: entries, pending: make(map[string]Entry), store: store}, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get returns the raw entry stored under key.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Lookup finds a geocoding result for coord, trying the precise key before
// the fallback key.
func (c *Cache) Lookup(coord geo.Coord) (GeoResult, bool) {
	for _, key := range []string{Key(coord, PreciseDecimals), Key(coord, FallbackDecimals)} {
		if e, ok := c.Get(key); ok {
			if r, ok := e.asResult(); ok {
				return r, true
			}
		}
	}
	return GeoResult{}, false
}

// LookupWater finds a cached water flag for coord.
func (c *Cache) LookupWater(coord geo.Coord) (bool, bool) {
	for _, key := range []string{WaterKey(coord, PreciseDecimals), WaterKey(coord, FallbackDecimals)} {
		if e, ok := c.Get(key); ok {
			if w, ok := e.asWater(); ok {
				return w, true
			}
		}
	}
	return false, false
}

// Add stores e under key unless the key already exists. It reports whether
// the entry was added.
func (c *Cache) Add(key string, e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = e
	c.pending[key] = e
	return true
}

// Persist writes entries added since the last Persist to the store.
func (c *Cache) Persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]Entry)
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := c.store.Save(ctx, pending); err != nil {
		// Put them back so the next Persist retries.
		c.mu.Lock()
		for k, v := range pending {
			c.pending[k] = v
		}
		c.mu.Unlock()
		return fmt.Errorf("persist geocode cache: %w", err)
	}
	return nil
}

// Clear removes every entry from memory and from the store.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.pending = make(map[string]Entry)
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// Close releases the store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// CacheSummary counts cached entries by kind.
type CacheSummary struct {
	Entries    int `json:"entries"`
	Places     int `json:"places"`
	Water      int `json:"water"`
	Unresolved int `json:"unresolved"`
	WaterFlags int `json:"water_flags"`
}

// Summary counts the cached entries. Water covers bodies of water and
// open-water answers; Unresolved are sentinels stored for lookups that
// produced no usable answer.
func (c *Cache) Summary() CacheSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := CacheSummary{Entries: len(c.entries)}
	for _, e := range c.entries {
		switch {
		case e.Result == nil:
			s.WaterFlags++
		case *e.Result == OpenWater():
			s.Water++
		case e.Result.IsWater && e.Result.City == "Unknown":
			s.Unresolved++
		case e.Result.IsWater:
			s.Water++
		default:
			s.Places++
		}
	}
	return s
}
