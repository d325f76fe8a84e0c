package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/anupcshan/daytrace/internal/config"
	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/geocode"
	"github.com/anupcshan/daytrace/internal/logging"
	"github.com/anupcshan/daytrace/internal/timeline"
)

// Cache file names inside a user's cache directory.
const (
	jsonCacheFile   = "geocode_cache.json"
	sqliteCacheFile = "geocode_cache.db"
	badgerCacheDir  = "geocode_cache.badger"
)

// openStore opens the configured cache backend for user.
func openStore(cfg config.CacheConfig, user string) (geocode.Store, error) {
	dir := cfg.UserDir(user)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	switch cfg.Backend {
	case "sqlite":
		return geocode.OpenSQLiteStore(filepath.Join(dir, sqliteCacheFile))
	case "badger":
		return geocode.OpenBadgerStore(filepath.Join(dir, badgerCacheDir))
	default:
		return geocode.NewFileStore(filepath.Join(dir, jsonCacheFile)), nil
	}
}

func (o *options) openCache(ctx context.Context) (*geocode.Cache, error) {
	store, err := openStore(o.cfg.Cache, o.user)
	if err != nil {
		return nil, err
	}
	cache, err := geocode.OpenCache(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logging.Debug().Int("entries", cache.Len()).Str("user", o.user).Msg("Geocode cache opened")
	return cache, nil
}

// newResolver returns nil when geocoding is not configured; callers then
// work from cached results only.
func newResolver(cfg config.GeocodingConfig) geocode.Resolver {
	if !cfg.Enabled() {
		logging.Warn().Str("provider", cfg.Provider).Msg("No API key configured; using cached geocoding results only")
		return nil
	}

	var provider geocode.Provider
	switch cfg.Provider {
	case "nominatim":
		provider = &geocode.Nominatim{BaseURL: cfg.BaseURL, UserAgent: cfg.UserAgent, WaterKeywords: cfg.WaterKeywords}
	default:
		provider = &geocode.Geoapify{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, WaterKeywords: cfg.WaterKeywords}
	}

	return geocode.NewClient(provider, geocode.ClientOptions{
		HTTP:              &http.Client{},
		Timeout:           cfg.Timeout,
		RetryBackoff:      cfg.RetryBackoff,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Log:               logging.Progress("geocode"),
	})
}

func geocodeOptions(cfg config.GeocodingConfig) geocode.Options {
	return geocode.Options{
		BatchSize:  cfg.BatchSize,
		BatchPause: cfg.BatchPause,
		Log:        logging.Progress("geocode"),
	}
}

// loadEntries reads an export or parsed file without filtering it.
func loadEntries(ctx context.Context, path string) (*timeline.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return timeline.NewProcessor(logging.Progress("timeline")).Load(ctx, f)
}

// cachedResults answers coords from cache without network lookups.
func cachedResults(cache *geocode.Cache, coords []geo.Coord) map[geo.Coord]geocode.GeoResult {
	out := make(map[geo.Coord]geocode.GeoResult, len(coords))
	for _, c := range coords {
		if r, ok := cache.Lookup(c); ok {
			out[c] = r
		}
	}
	return out
}

// createOutput opens path for writing; "" and "-" mean stdout.
func createOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// writeOutput encodes v as json or yaml.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q (want json or yaml)", format)
}
