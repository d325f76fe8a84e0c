package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/logging"
)

// pollEvery is how many entries are examined between context checks.
const pollEvery = 1000

// Thresholds control which entries survive filtering.
type Thresholds struct {
	// DistanceMeters is the minimum activity distance, and the minimum
	// spacing between kept path points.
	DistanceMeters float64 `json:"distanceThreshold"`
	// Probability is the minimum visit probability.
	Probability float64 `json:"probabilityThreshold"`
	// DurationSeconds is the minimum visit length.
	DurationSeconds float64 `json:"durationThreshold"`
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{DistanceMeters: 200, Probability: 0.1, DurationSeconds: 600}
}

// Validate checks the thresholds are usable.
func (t Thresholds) Validate() error {
	if t.DistanceMeters < 0 || t.DurationSeconds < 0 {
		return errors.New("distance and duration thresholds must not be negative")
	}
	if t.Probability < 0 || t.Probability > 1 {
		return fmt.Errorf("probability threshold %v outside [0,1]", t.Probability)
	}
	return nil
}

// Stats tracks processing progress
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	DateFiltered   int `json:"date_filtered"`
	Activities     int `json:"activities"`
	Visits         int `json:"visits"`
	TimelinePaths  int `json:"timeline_paths"`
	LegacyPoints   int `json:"legacy_points"`
	BelowThreshold int `json:"below_threshold"`
	Malformed      int `json:"malformed"`
	FinalCount     int `json:"final_count"`
}

// ReductionPercent is the share of in-range entries removed by the
// threshold filters, rounded to one decimal.
func (s Stats) ReductionPercent() float64 {
	if s.DateFiltered == 0 {
		return 0
	}
	r := (1 - float64(s.FinalCount)/float64(s.DateFiltered)) * 100
	return float64(int(r*10+0.5)) / 10
}

// Result is the output of one ProcessFile call.
type Result struct {
	Entries    []Entry
	Stats      Stats
	Range      geo.DateRange
	Thresholds Thresholds
	// Metadata is set when the input was itself a parsed file.
	Metadata *Metadata
}

// Processor filters and compresses timeline exports.
type Processor struct {
	// Log receives progress milestones. Nil discards them.
	Log logging.LogFunc
}

// NewProcessor creates a Processor reporting progress to log.
func NewProcessor(log logging.LogFunc) *Processor {
	return &Processor{Log: log}
}

func (p *Processor) progress(format string, args ...any) {
	if p.Log != nil {
		p.Log(fmt.Sprintf(format, args...))
	}
}

// pass carries the settings of one run so a Processor can be shared.
type pass struct {
	rng      geo.DateRange
	th       Thresholds
	compress bool
}

// ProcessFile reads an export from r and returns the entries inside rng
// that pass th, sorted by their raw start time. Entries that cannot be
// decoded are counted in Stats.Malformed and skipped.
func (p *Processor) ProcessFile(ctx context.Context, r io.Reader, rng geo.DateRange, th Thresholds) (*Result, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	raws, meta, err := readEntries(r)
	if err != nil {
		return nil, err
	}
	res, err := p.run(ctx, raws, &pass{rng: rng, th: th, compress: true})
	if err != nil {
		return nil, err
	}
	res.Metadata = meta

	logging.Info().
		Str("range", rng.String()).
		Int("total", res.Stats.TotalEntries).
		Int("in_range", res.Stats.DateFiltered).
		Int("kept", res.Stats.FinalCount).
		Int("malformed", res.Stats.Malformed).
		Float64("reduction_pct", res.Stats.ReductionPercent()).
		Msg("timeline processed")
	return res, nil
}

// Load reads a previously parsed file (or any export) without applying
// date or threshold filters, so entries come back exactly as stored.
func (p *Processor) Load(ctx context.Context, r io.Reader) (*Result, error) {
	raws, meta, err := readEntries(r)
	if err != nil {
		return nil, err
	}
	res, err := p.run(ctx, raws, &pass{rng: geo.Unbounded()})
	if err != nil {
		return nil, err
	}
	res.Metadata = meta
	if meta != nil {
		if rng, err := geo.ParseDateRange(meta.DateRange.From, meta.DateRange.To); err == nil {
			res.Range = rng
		}
		res.Thresholds = Thresholds{
			DistanceMeters:  meta.FilterSettings.DistanceThreshold,
			Probability:     meta.FilterSettings.ProbabilityThreshold,
			DurationSeconds: meta.FilterSettings.DurationThreshold,
		}
	}
	return res, nil
}

func (p *Processor) run(ctx context.Context, raws []json.RawMessage, ps *pass) (*Result, error) {
	res := &Result{Range: ps.rng, Thresholds: ps.th}
	res.Stats.TotalEntries = len(raws)
	p.progress("Loaded %d total entries", len(raws))

	// Pass 1: date pre-filter on start times only.
	var inRange []json.RawMessage
	for i, raw := range raws {
		if i%pollEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		switch checkHeader(raw, ps.rng) {
		case headerInRange:
			inRange = append(inRange, raw)
		case headerMalformed:
			res.Stats.Malformed++
		}
	}
	res.Stats.DateFiltered = len(inRange)
	p.progress("Date filtering complete: %d entries in range", len(inRange))

	// Pass 2: full decode and per-type thresholds.
	for i, raw := range inRange {
		if i%pollEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e, err := ps.decodeEntry(raw)
		if errors.Is(err, errBelowThreshold) {
			res.Stats.BelowThreshold++
			continue
		}
		if err != nil {
			res.Stats.Malformed++
			logging.Debug().Err(err).Msg("skipping malformed entry")
			continue
		}
		switch e.(type) {
		case *Activity:
			res.Stats.Activities++
		case *Visit:
			res.Stats.Visits++
		case *TimelinePath:
			res.Stats.TimelinePaths++
		case *LegacyPoint:
			res.Stats.LegacyPoints++
		}
		res.Entries = append(res.Entries, e)
	}

	sort.SliceStable(res.Entries, func(i, j int) bool {
		return res.Entries[i].SortKey() < res.Entries[j].SortKey()
	})
	res.Stats.FinalCount = len(res.Entries)
	p.progress("After applying filters: %d entries (%.1f%% reduction)", res.Stats.FinalCount, res.Stats.ReductionPercent())
	return res, nil
}
