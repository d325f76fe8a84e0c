package geocode

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/logging"
	"github.com/anupcshan/daytrace/internal/metrics"
)

// MaxBatchSize caps the number of concurrent lookups in one batch.
const MaxBatchSize = 25

// Resolver looks up one coordinate. *Client implements it.
type Resolver interface {
	Lookup(ctx context.Context, coord geo.Coord) Outcome
}

// Options configures a Geocoder.
type Options struct {
	BatchSize  int           // default and maximum MaxBatchSize
	BatchPause time.Duration // pause between batches
	Log        logging.LogFunc
	Stats      *Stats
}

// Geocoder answers reverse-geocoding questions from its cache first and
// from a Resolver on a miss. Every answer, including sentinels for failed
// lookups, is cached. Fatal API errors are never cached.
type Geocoder struct {
	cache    *Cache
	resolver Resolver
	stats    *Stats
	log      logging.LogFunc

	batchSize  int
	batchPause time.Duration
}

func New(cache *Cache, resolver Resolver, opts Options) *Geocoder {
	g := &Geocoder{
		cache:      cache,
		resolver:   resolver,
		stats:      opts.Stats,
		log:        opts.Log,
		batchSize:  opts.BatchSize,
		batchPause: opts.BatchPause,
	}
	if g.stats == nil {
		g.stats = &Stats{}
	}
	if g.log == nil {
		g.log = logging.Discard
	}
	if g.batchSize <= 0 || g.batchSize > MaxBatchSize {
		g.batchSize = MaxBatchSize
	}
	return g
}

// Cache returns the underlying cache.
func (g *Geocoder) Cache() *Cache { return g.cache }

func (g *Geocoder) Stats() *Stats { return g.stats }

func (g *Geocoder) logf(format string, args ...any) {
	g.log(fmt.Sprintf(format, args...))
}

// Flush persists cache entries added since the last flush.
func (g *Geocoder) Flush(ctx context.Context) error {
	return g.cache.Persist(context.WithoutCancel(ctx))
}

// ReverseGeocode returns the place at coord. The only error it returns is
// an *APIError for a fatal API response.
func (g *Geocoder) ReverseGeocode(ctx context.Context, coord geo.Coord) (GeoResult, error) {
	if r, ok := g.cache.Lookup(coord); ok {
		g.stats.RecordCacheHit(false)
		metrics.RecordCacheHit(false)
		return r, nil
	}
	r, _, err := g.resolve(ctx, coord, false)
	return r, err
}

// IsOverWater reports whether coord lies on water, caching the flag under
// its own key. A cached place answers without a lookup.
func (g *Geocoder) IsOverWater(ctx context.Context, coord geo.Coord) (bool, error) {
	if w, ok := g.cache.LookupWater(coord); ok {
		g.stats.RecordCacheHit(true)
		metrics.RecordCacheHit(true)
		return w, nil
	}

	r, ok := g.cache.Lookup(coord)
	if ok {
		g.stats.RecordCacheHit(false)
		metrics.RecordCacheHit(false)
	} else {
		var err error
		if r, _, err = g.resolve(ctx, coord, true); err != nil {
			g.stats.RecordError(true)
			return false, err
		}
	}
	g.cache.Add(WaterKey(coord, PreciseDecimals), WaterEntry(r.IsWater))
	return r.IsWater, nil
}

// resolve asks the resolver about coord and caches the answer unless it is
// fatal. water attributes the requests to water checks.
func (g *Geocoder) resolve(ctx context.Context, coord geo.Coord, water bool) (GeoResult, bool, error) {
	out := g.resolver.Lookup(ctx, coord)
	for range out.Requests {
		g.stats.RecordAPICall(water)
	}

	switch out.Kind {
	case Success:
		g.stats.RecordSuccess()
	case Recoverable:
		g.stats.RecordError(water)
		logging.Warn().Err(out.Err).
			Str("coord", coord.String()).
			Str("result", out.Result.Place).
			Msg("Reverse geocoding failed")
	case Fatal:
		g.stats.RecordAPIFailure()
		logging.Error().Err(out.Err).
			Str("coord", coord.String()).
			Msg("Fatal geocoding error")
		return GeoResult{}, false, out.Err
	}

	g.cache.Add(Key(coord, PreciseDecimals), ResultEntry(out.Result))
	return out.Result, out.Kind == Success, nil
}

// GeocodeBatch resolves every coordinate in coords. Cached coordinates are
// answered directly; the rest are deduplicated by cache key and looked up
// in concurrent batches with a pause between batches. The cache is
// persisted after every batch.
//
// A fatal API error stops processing after the current batch finishes.
// The results gathered so far are returned together with the error.
// Cancelling ctx stops before the next batch and returns the results so
// far with a nil error.
func (g *Geocoder) GeocodeBatch(ctx context.Context, coords []geo.Coord) (map[geo.Coord]GeoResult, error) {
	results := make(map[geo.Coord]GeoResult, len(coords))
	groups := make(map[string][]geo.Coord)
	var order []string

	hits := 0
	for _, c := range coords {
		if r, ok := g.cache.Lookup(c); ok {
			g.stats.RecordCacheHit(false)
			metrics.RecordCacheHit(false)
			results[c] = r
			hits++
			continue
		}
		key := Key(c, PreciseDecimals)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	if len(order) == 0 {
		g.logf("All %d coordinates found in cache", len(coords))
		return results, nil
	}
	g.logf("Cache hits: %d, need to geocode: %d", hits, len(order))

	numBatches := (len(order) + g.batchSize - 1) / g.batchSize
	for b := range numBatches {
		if b > 0 && g.batchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(g.batchPause):
			}
		}
		if ctx.Err() != nil {
			g.logf("Geocoding cancelled after %d of %d batches", b, numBatches)
			return results, nil
		}

		start := b * g.batchSize
		batch := order[start:min(start+g.batchSize, len(order))]
		g.logf("Processing batch %d/%d (%d coordinates)", b+1, numBatches, len(batch))

		answers, succeeded, fatal := g.runBatch(ctx, batch, groups)
		for key, r := range answers {
			for _, c := range groups[key] {
				results[c] = r
			}
		}
		g.logf("Batch %d completed: %d successful, %d errors", b+1, succeeded, len(answers)-succeeded)

		if err := g.Flush(ctx); err != nil {
			logging.Warn().Err(err).Msg("Failed to save geocode cache")
		}

		if fatal != nil {
			g.logf("Critical API error: %v. Processing stopped.", fatal)
			return results, fatal
		}
	}

	snap := g.stats.Snapshot()
	g.logf("Geocoding complete: %d cache hits, %d API calls, %d errors", snap.CacheHits, snap.APICalls, snap.Errors)
	return results, nil
}

// runBatch looks up one representative coordinate per key concurrently.
// Every lookup runs to completion even when a sibling fails fatally.
func (g *Geocoder) runBatch(ctx context.Context, batch []string, groups map[string][]geo.Coord) (map[string]GeoResult, int, error) {
	type answer struct {
		result GeoResult
		ok     bool
		done   bool
	}
	answers := make([]answer, len(batch))

	start := time.Now()
	var eg errgroup.Group
	for i, key := range batch {
		coord := groups[key][0]
		eg.Go(func() error {
			r, ok, err := g.resolve(ctx, coord, false)
			if err != nil {
				return err
			}
			answers[i] = answer{result: r, ok: ok, done: true}
			return nil
		})
	}
	fatal := eg.Wait()

	g.stats.RecordBatch(len(batch))
	metrics.RecordBatch(len(batch), time.Since(start))

	out := make(map[string]GeoResult, len(batch))
	succeeded := 0
	for i, a := range answers {
		if !a.done {
			continue
		}
		out[batch[i]] = a.result
		if a.ok {
			succeeded++
		}
	}
	return out, succeeded, fatal
}
