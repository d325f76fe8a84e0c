// Package pipeline runs a location history export through every stage:
// filtering, reverse geocoding, route reconstruction and summaries.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/geocode"
	"github.com/anupcshan/daytrace/internal/logging"
	"github.com/anupcshan/daytrace/internal/route"
	"github.com/anupcshan/daytrace/internal/summary"
	"github.com/anupcshan/daytrace/internal/timeline"
)

// Request describes one run.
type Request struct {
	Input io.Reader
	// Parsed marks Input as a file written by timeline.WriteParsed. It is
	// loaded as-is instead of being filtered again.
	Parsed            bool
	Range             geo.DateRange
	Thresholds        timeline.Thresholds
	GroupBy           summary.GroupBy
	SimplifyTolerance float64 // degrees, 0 disables path simplification
	// AutoSimplify derives the tolerance from the area the route covers and
	// overrides SimplifyTolerance.
	AutoSimplify bool
	// Log receives progress for this run in addition to the runner's sink.
	Log logging.LogFunc
}

// Report is the outcome of a run.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Processing  timeline.Stats        `json:"processing" yaml:"processing"`
	Coordinates int                   `json:"coordinates" yaml:"coordinates"`
	Geocoded    int                   `json:"geocoded" yaml:"geocoded"`
	Geocoding   geocode.StatsSnapshot `json:"geocoding" yaml:"geocoding"`
	Route       route.Stats           `json:"route" yaml:"route"`
	Tolerance   float64               `json:"simplify_tolerance,omitempty" yaml:"simplify_tolerance,omitempty"`
	Summary     summary.Report        `json:"summary" yaml:"summary"`

	// Stopped is set when a fatal geocoding error ended the run early.
	Stopped    bool   `json:"stopped" yaml:"stopped"`
	StopReason string `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	Cancelled  bool   `json:"cancelled" yaml:"cancelled"`

	Entries []timeline.Entry `json:"-" yaml:"-"`
	Steps   []route.Step     `json:"-" yaml:"-"`
}

// Runner executes requests against a shared geocoding cache.
type Runner struct {
	cache    *geocode.Cache
	resolver geocode.Resolver
	opts     geocode.Options
	log      logging.LogFunc
}

// NewRunner creates a Runner. A nil resolver disables network lookups;
// only results already in cache are used.
func NewRunner(cache *geocode.Cache, resolver geocode.Resolver, opts geocode.Options, log logging.LogFunc) *Runner {
	if log == nil {
		log = logging.Discard
	}
	return &Runner{cache: cache, resolver: resolver, opts: opts, log: log}
}

// Run executes req. A fatal geocoding error does not discard the work
// done so far: the report is returned with Stopped set together with an
// error wrapping the *geocode.APIError. Cancelling ctx during geocoding
// yields a partial report and a nil error.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	return r.run(ctx, uuid.New().String(), req)
}

func (r *Runner) run(ctx context.Context, runID string, req Request) (*Report, error) {
	log := logging.Tee(r.log, req.Log)
	logf := func(format string, args ...any) { log(fmt.Sprintf(format, args...)) }
	zl := logging.With().Str("run_id", runID).Logger()

	rep := &Report{RunID: runID, StartedAt: time.Now()}
	zl.Info().Str("range", req.Range.String()).Msg("Run started")

	proc := timeline.NewProcessor(log)
	var (
		res *timeline.Result
		err error
	)
	if req.Parsed {
		res, err = proc.Load(ctx, req.Input)
	} else {
		res, err = proc.ProcessFile(ctx, req.Input, req.Range, req.Thresholds)
	}
	if err != nil {
		return nil, fmt.Errorf("process input: %w", err)
	}
	rep.Processing = res.Stats
	rep.Entries = res.Entries

	coords := timeline.Coordinates(res.Entries)
	rep.Coordinates = len(coords)
	logf("Geocoding %d unique coordinates", len(coords))

	results, gerr := r.geocode(ctx, coords, log, rep)
	if gerr != nil {
		if !geocode.IsFatal(gerr) {
			return nil, fmt.Errorf("geocode: %w", gerr)
		}
		rep.Stopped = true
		rep.StopReason = gerr.Error()
		zl.Error().Err(gerr).Msg("Run stopped by fatal geocoding error")
		logf("Processing stopped: %v", gerr)
	}
	if ctx.Err() != nil {
		rep.Cancelled = true
		logf("Run cancelled; continuing with partial results")
	}
	rep.Geocoded = len(results)

	points := route.PointsFromEntries(res.Entries, results)
	rep.Tolerance = req.SimplifyTolerance
	if req.AutoSimplify {
		rep.Tolerance = route.AutoTolerance(points)
	}
	points = route.SimplifyPaths(points, rep.Tolerance)
	rep.Steps = route.Reconstruct(points)
	rep.Route = route.Summarize(rep.Steps)

	groupBy := req.GroupBy
	if groupBy == "" {
		groupBy = summary.ByCity
	}
	rep.Summary = summary.Build(points, groupBy)
	rep.FinishedAt = time.Now()

	zl.Info().
		Int("entries", len(res.Entries)).
		Int("coordinates", rep.Coordinates).
		Int("geocoded", rep.Geocoded).
		Int("route_points", rep.Route.Points).
		Dur("elapsed", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("Run finished")

	if rep.Stopped {
		return rep, fmt.Errorf("processing stopped: %w", gerr)
	}
	return rep, nil
}

func (r *Runner) geocode(ctx context.Context, coords []geo.Coord, log logging.LogFunc, rep *Report) (map[geo.Coord]geocode.GeoResult, error) {
	if r.resolver == nil {
		results := make(map[geo.Coord]geocode.GeoResult, len(coords))
		for _, c := range coords {
			if res, ok := r.cache.Lookup(c); ok {
				results[c] = res
			}
		}
		log(fmt.Sprintf("Geocoding disabled; %d of %d coordinates found in cache", len(results), len(coords)))
		return results, nil
	}

	opts := r.opts
	opts.Log = log
	opts.Stats = &geocode.Stats{}
	g := geocode.New(r.cache, r.resolver, opts)

	results, err := g.GeocodeBatch(ctx, coords)
	rep.Geocoding = opts.Stats.Snapshot()
	for _, line := range rep.Geocoding.Summary() {
		log(line)
	}
	return results, err
}
