package geocode

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupcshan/daytrace/internal/geo"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		coord    geo.Coord
		decimals int
		want     string
	}{
		{"typical", geo.Coord{Lat: 40.7128, Lon: -74.0060}, PreciseDecimals, "40.7128,-74.006"},
		{"rounds", geo.Coord{Lat: 40.712845, Lon: -74.006012}, PreciseDecimals, "40.71285,-74.00601"},
		{"whole numbers keep decimal point", geo.Coord{Lat: 40, Lon: -3}, PreciseDecimals, "40.0,-3.0"},
		{"tiny magnitude uses exponent", geo.Coord{Lat: 0.00001, Lon: 0}, PreciseDecimals, "1e-05,0.0"},
		{"fallback precision", geo.Coord{Lat: 40.71284, Lon: -74.00601}, FallbackDecimals, "40.7128,-74.006"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.coord, tt.decimals))
		})
	}

	assert.Equal(t, "water:40.0,-3.0", WaterKey(geo.Coord{Lat: 40, Lon: -3}, PreciseDecimals))
}

func TestEntryJSON(t *testing.T) {
	input := `{
		"40.7128,-74.006": {"state": "New York", "city": "New York", "country": "United States", "place": "city hall", "is_water": false},
		"water:40.7128,-74.006": false,
		"41.0,-70.0": true
	}`

	var entries map[string]Entry
	require.NoError(t, json.Unmarshal([]byte(input), &entries))
	require.Len(t, entries, 3)

	r, ok := entries["40.7128,-74.006"].asResult()
	require.True(t, ok)
	assert.Equal(t, "New York", r.State)
	assert.Equal(t, "city hall", r.Place)

	w, ok := entries["water:40.7128,-74.006"].asWater()
	require.True(t, ok)
	assert.False(t, w)

	out, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))

	var bad Entry
	assert.Error(t, json.Unmarshal([]byte(`"text"`), &bad))
}

func TestCacheLookup(t *testing.T) {
	c := NewCache()
	coord := geo.Coord{Lat: 40.71284, Lon: -74.00601}

	_, ok := c.Lookup(coord)
	assert.False(t, ok)

	// Entry written by an older version at 4 decimals.
	c.Add(Key(coord, FallbackDecimals), ResultEntry(GeoResult{City: "New York"}))
	r, ok := c.Lookup(coord)
	require.True(t, ok)
	assert.Equal(t, "New York", r.City)

	// A bare boolean under a plain key reads as a water-only result.
	legacy := geo.Coord{Lat: 41, Lon: -70}
	c.Add(Key(legacy, PreciseDecimals), WaterEntry(true))
	r, ok = c.Lookup(legacy)
	require.True(t, ok)
	assert.Equal(t, GeoResult{IsWater: true}, r)

	// Water lookups fall back to full results.
	w, ok := c.LookupWater(coord)
	require.True(t, ok)
	assert.False(t, w)
}

func TestCacheAddNeverOverwrites(t *testing.T) {
	c := NewCache()
	assert.True(t, c.Add("k", ResultEntry(GeoResult{City: "first"})))
	assert.False(t, c.Add("k", ResultEntry(GeoResult{City: "second"})))

	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "first", e.Result.City)
	assert.Equal(t, 1, c.Len())
}

func openStores(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"json": func() Store {
			return NewFileStore(filepath.Join(dir, "geocache.json"))
		},
		"sqlite": func() Store {
			s, err := OpenSQLiteStore(filepath.Join(dir, "geocache.db"))
			require.NoError(t, err)
			return s
		},
		"badger": func() Store {
			s, err := OpenBadgerStore(filepath.Join(dir, "badger"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()

	for name, open := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			store := open()

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, loaded)

			require.NoError(t, store.Save(ctx, map[string]Entry{
				"40.0,-3.0":       ResultEntry(GeoResult{State: "Madrid", City: "Madrid", Country: "Spain", Place: "sol"}),
				"water:40.0,-3.0": WaterEntry(false),
			}))
			// Existing keys are never replaced.
			require.NoError(t, store.Save(ctx, map[string]Entry{
				"40.0,-3.0": ResultEntry(GeoResult{City: "Elsewhere"}),
				"1e-05,0.0": ResultEntry(OpenWater()),
			}))
			require.NoError(t, store.Close())

			store = open()
			defer store.Close()

			loaded, err = store.Load(ctx)
			require.NoError(t, err)
			require.Len(t, loaded, 3)
			assert.Equal(t, "Madrid", loaded["40.0,-3.0"].Result.City)
			require.NotNil(t, loaded["water:40.0,-3.0"].Water)
			assert.False(t, *loaded["water:40.0,-3.0"].Water)
			assert.Equal(t, "open water", loaded["1e-05,0.0"].Result.Place)

			require.NoError(t, store.Clear(ctx))
			loaded, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, loaded)
		})
	}
}

func TestInMemoryBadgerStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerStore("")
	require.NoError(t, err)

	cache, err := OpenCache(ctx, store)
	require.NoError(t, err)
	defer cache.Close()

	cache.Add("40.0,-3.0", ResultEntry(GeoResult{City: "Madrid"}))
	require.NoError(t, cache.Persist(ctx))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestCachePersistOnlyWritesNewEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geocache.json")

	cache, err := OpenCache(ctx, NewFileStore(path))
	require.NoError(t, err)
	cache.Add("a", WaterEntry(true))
	require.NoError(t, cache.Persist(ctx))

	// A second process adds its own entry to the same file.
	other, err := OpenCache(ctx, NewFileStore(path))
	require.NoError(t, err)
	other.Add("b", WaterEntry(false))
	require.NoError(t, other.Persist(ctx))

	cache.Add("c", WaterEntry(true))
	require.NoError(t, cache.Persist(ctx))

	reopened, err := OpenCache(ctx, NewFileStore(path))
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len())
}

func TestCacheSummary(t *testing.T) {
	c := NewCache()
	c.Add("1.0,1.0", ResultEntry(GeoResult{City: "Springfield", State: "Illinois", Country: "United States"}))
	c.Add("2.0,2.0", ResultEntry(OpenWater()))
	c.Add("3.0,3.0", ResultEntry(Sentinel("timeout")))
	c.Add("4.0,4.0", ResultEntry(GeoResult{Place: "monterey bay", City: "Monterey County", IsWater: true}))
	c.Add("water:1.0,1.0", WaterEntry(false))

	assert.Equal(t, CacheSummary{Entries: 5, Places: 1, Water: 2, Unresolved: 1, WaterFlags: 1}, c.Summary())
}
