package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/geocode"
	"github.com/anupcshan/daytrace/internal/logging"
	"github.com/anupcshan/daytrace/internal/metrics"
	"github.com/anupcshan/daytrace/internal/pipeline"
	"github.com/anupcshan/daytrace/internal/route"
	"github.com/anupcshan/daytrace/internal/summary"
	"github.com/anupcshan/daytrace/internal/timeline"
)

var errGeocodingDisabled = errors.New("geocoding is not configured: set geocoding.api_key or DAYTRACE_GEOCODING_API_KEY")

// dateRange parses --from/--to. Both empty selects every date.
func dateRange(from, to string) (geo.DateRange, error) {
	if from == "" && to == "" {
		return geo.Unbounded(), nil
	}
	if from == "" || to == "" {
		return geo.DateRange{}, fmt.Errorf("--from and --to must be given together")
	}
	return geo.ParseDateRange(from, to)
}

// thresholdFlags binds the filter threshold flags. Unset flags keep the
// configured values.
type thresholdFlags struct {
	distance, probability, duration float64
}

func (f *thresholdFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.distance, "distance", 0, "minimum activity distance in meters")
	cmd.Flags().Float64Var(&f.probability, "probability", 0, "minimum visit or activity probability")
	cmd.Flags().Float64Var(&f.duration, "duration", 0, "minimum visit duration in seconds")
}

func (f *thresholdFlags) resolve(cmd *cobra.Command, opts *options) (timeline.Thresholds, error) {
	th := opts.cfg.Processing.Thresholds()
	if cmd.Flags().Changed("distance") {
		th.DistanceMeters = f.distance
	}
	if cmd.Flags().Changed("probability") {
		th.Probability = f.probability
	}
	if cmd.Flags().Changed("duration") {
		th.DurationSeconds = f.duration
	}
	return th, th.Validate()
}

// simplifyFlag parses --simplify: a tolerance in degrees, or "auto" to size
// it to the route's extent.
func simplifyFlag(v string) (tolerance float64, auto bool, err error) {
	switch v {
	case "", "0":
		return 0, false, nil
	case "auto":
		return 0, true, nil
	}
	tolerance, err = strconv.ParseFloat(v, 64)
	if err != nil || tolerance < 0 {
		return 0, false, fmt.Errorf("invalid --simplify %q: want a tolerance in degrees or auto", v)
	}
	return tolerance, false, nil
}

// writeMetrics dumps the process metrics to path when it is set.
func writeMetrics(path string) {
	if path == "" {
		return
	}
	if err := metrics.WriteFile(path); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Failed to write metrics file")
		return
	}
	logging.Debug().Str("path", path).Msg("Metrics written")
}

func newProcessCmd(opts *options) *cobra.Command {
	var input, from, to, out string
	var standard bool
	var thresholds thresholdFlags

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Filter an export by date range and thresholds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rng, err := dateRange(from, to)
			if err != nil {
				return err
			}
			th, err := thresholds.resolve(cmd, opts)
			if err != nil {
				return err
			}

			f, err := os.Open(input)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := timeline.NewProcessor(logging.Progress("timeline")).ProcessFile(cmd.Context(), f, rng, th)
			if err != nil {
				return err
			}

			if out == "" {
				out = timeline.ParsedFilename(rng, th)
			}
			w, closeOut, err := createOutput(out, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if standard {
				err = timeline.WriteStandard(w, res.Entries)
			} else {
				err = timeline.WriteParsed(w, res.Entries, timeline.NewMetadata(res, time.Now()))
			}
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			logging.Info().
				Str("output", out).
				Int("entries", len(res.Entries)).
				Int("total", res.Stats.TotalEntries).
				Float64("reduction_pct", res.Stats.ReductionPercent()).
				Msg("Processed file written")
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "location history export")
	cmd.Flags().StringVar(&from, "from", "", "first date to keep (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date to keep (YYYY-MM-DD)")
	cmd.Flags().StringVar(&out, "out", "", "output file, - for stdout (default derived from range and thresholds)")
	cmd.Flags().BoolVar(&standard, "standard", false, "write a bare entry list instead of a parsed file with metadata")
	thresholds.register(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newGeocodeCmd(opts *options) *cobra.Command {
	var input, metricsFile string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Reverse geocode every coordinate in a file into the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer writeMetrics(metricsFile)

			resolver := newResolver(opts.cfg.Geocoding)
			if resolver == nil {
				return errGeocodingDisabled
			}

			res, err := loadEntries(cmd.Context(), input)
			if err != nil {
				return err
			}
			cache, err := opts.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cache.Close()

			gopts := geocodeOptions(opts.cfg.Geocoding)
			if batchSize > 0 {
				gopts.BatchSize = batchSize
			}
			g := geocode.New(cache, resolver, gopts)

			coords := timeline.Coordinates(res.Entries)
			results, err := g.GeocodeBatch(cmd.Context(), coords)
			for _, line := range g.Stats().Snapshot().Summary() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Geocoded %d of %d coordinates\n", len(results), len(coords))
			if err != nil {
				return fmt.Errorf("processing stopped: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "export or parsed file")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "concurrent lookups per batch (max 25, default from config)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// routeOutput is what the route command writes.
type routeOutput struct {
	Stats route.Stats  `json:"stats"`
	Days  []route.Day  `json:"days"`
	Steps []route.Step `json:"steps"`
}

func newRouteCmd(opts *options) *cobra.Command {
	var input, out, simplify string

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Reconstruct the chronological route of a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tolerance, auto, err := simplifyFlag(simplify)
			if err != nil {
				return err
			}
			res, err := loadEntries(cmd.Context(), input)
			if err != nil {
				return err
			}
			cache, err := opts.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cache.Close()

			results := cachedResults(cache, timeline.Coordinates(res.Entries))
			points := route.PointsFromEntries(res.Entries, results)
			if auto {
				tolerance = route.AutoTolerance(points)
			}
			points = route.SimplifyPaths(points, tolerance)
			steps := route.Reconstruct(points)

			w, closeOut, err := createOutput(out, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			err = writeOutput(w, "json", routeOutput{Stats: route.Summarize(steps), Days: route.Days(steps), Steps: steps})
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "export or parsed file")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.Flags().StringVar(&simplify, "simplify", "0", "path simplification tolerance in degrees or auto, 0 keeps every point")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newSummaryCmd(opts *options) *cobra.Command {
	var input, groupBy, format string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count days per place from cached geocoding results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			by, err := summary.ParseGroupBy(groupBy)
			if err != nil {
				return err
			}
			res, err := loadEntries(cmd.Context(), input)
			if err != nil {
				return err
			}
			cache, err := opts.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cache.Close()

			results := cachedResults(cache, timeline.Coordinates(res.Entries))
			points := route.PointsFromEntries(res.Entries, results)
			return writeOutput(cmd.OutOrStdout(), format, summary.Build(points, by))
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "export or parsed file")
	cmd.Flags().StringVar(&groupBy, "group-by", "city", "place granularity: city|state")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|yaml")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	var input, from, to, groupBy, format, out, simplify, metricsFile string
	var parsed bool
	var thresholds thresholdFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Filter, geocode, reconstruct and summarize in one pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer writeMetrics(metricsFile)

			rng, err := dateRange(from, to)
			if err != nil {
				return err
			}
			th, err := thresholds.resolve(cmd, opts)
			if err != nil {
				return err
			}
			by, err := summary.ParseGroupBy(groupBy)
			if err != nil {
				return err
			}
			tolerance, auto, err := simplifyFlag(simplify)
			if err != nil {
				return err
			}

			f, err := os.Open(input)
			if err != nil {
				return err
			}
			defer f.Close()

			cache, err := opts.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cache.Close()

			runner := pipeline.NewRunner(cache, newResolver(opts.cfg.Geocoding), geocodeOptions(opts.cfg.Geocoding), nil)
			manager := pipeline.NewManager(runner)

			// The run outlives an interrupt so the partial report can still
			// be written; the interrupt cancels it through the manager.
			runID, err := manager.Start(context.WithoutCancel(cmd.Context()), pipeline.Request{
				Input:             f,
				Parsed:            parsed,
				Range:             rng,
				Thresholds:        th,
				GroupBy:           by,
				SimplifyTolerance: tolerance,
				AutoSimplify:      auto,
			})
			if err != nil {
				return err
			}

			updates, unsubscribe, err := manager.Subscribe(runID)
			if err != nil {
				return err
			}
			defer unsubscribe()

			finished := make(chan struct{})
			defer close(finished)
			go func() {
				select {
				case <-cmd.Context().Done():
				case <-finished:
					return
				}
				if status, err := manager.Status(runID); err == nil && status == pipeline.StatusRunning {
					logging.Warn().Str("run_id", runID).Msg("Interrupted; cancelling run")
					_ = manager.Cancel(runID)
				}
			}()

			for p := range updates {
				if p.Message != "" {
					logging.Info().Str("component", "pipeline").Str("run_id", p.RunID).Msg(p.Message)
				}
			}

			report, runErr := manager.Wait(context.Background(), runID)
			if report == nil {
				return runErr
			}
			if status, _ := manager.Status(runID); status == pipeline.StatusCancelled {
				logging.Warn().Str("run_id", runID).Msg("Run cancelled; writing partial report")
			}

			w, closeOut, err := createOutput(out, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			err = writeOutput(w, format, report)
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			if runErr != nil {
				return runErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "location history export")
	cmd.Flags().BoolVar(&parsed, "parsed", false, "input is a parsed file; skip filtering")
	cmd.Flags().StringVar(&from, "from", "", "first date to keep (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date to keep (YYYY-MM-DD)")
	cmd.Flags().StringVar(&groupBy, "group-by", "city", "place granularity: city|state")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|yaml")
	cmd.Flags().StringVar(&out, "out", "", "report file (default stdout)")
	cmd.Flags().StringVar(&simplify, "simplify", "0", "path simplification tolerance in degrees or auto, 0 keeps every point")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	thresholds.register(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newCacheCmd(opts *options) *cobra.Command {
	cacheCmd := &cobra.Command{Use: "cache", Short: "Inspect or reset the geocoding cache"}

	var format string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cached entry counts for the user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := opts.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cache.Close()
			return writeOutput(cmd.OutOrStdout(), format, cache.Summary())
		},
	}
	stats.Flags().StringVar(&format, "format", "json", "output format: json|yaml")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached result for the user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := opts.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cache.Close()

			n := cache.Len()
			if err := cache.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			logging.Info().Str("user", opts.user).Int("removed", n).Msg("Geocode cache cleared")
			return nil
		},
	}

	cacheCmd.AddCommand(stats, clearCmd)
	return cacheCmd
}
