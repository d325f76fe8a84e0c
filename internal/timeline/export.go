package timeline

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/anupcshan/daytrace/internal/geo"
)

// MetadataVersion is written into every parsed file.
const MetadataVersion = "1.0"

// Entries are re-encoded in Google's own shape so third-party tools can
// read our output. Numeric values stay strings, as in the exports Google produces.
type stdEntry struct {
	StartTime    string         `json:"startTime,omitempty"`
	EndTime      string         `json:"endTime,omitempty"`
	Activity     *stdActivity   `json:"activity,omitempty"`
	Visit        *stdVisit      `json:"visit,omitempty"`
	TimelinePath []stdPathPoint `json:"timelinePath,omitempty"`
	TimestampMs  string         `json:"timestampMs,omitempty"`
	LatitudeE7   *int64         `json:"latitudeE7,omitempty"`
	LongitudeE7  *int64         `json:"longitudeE7,omitempty"`
}

type stdActivity struct {
	Start          string          `json:"start"`
	End            string          `json:"end"`
	DistanceMeters string          `json:"distanceMeters"`
	TopCandidate   stdActCandidate `json:"topCandidate"`
	Probability    string          `json:"probability"`
}

type stdActCandidate struct {
	Type        string `json:"type"`
	Probability string `json:"probability"`
}

type stdVisit struct {
	TopCandidate stdVisitCandidate `json:"topCandidate"`
	Probability  string            `json:"probability"`
}

type stdVisitCandidate struct {
	PlaceID       string `json:"placeID,omitempty"`
	SemanticType  string `json:"semanticType"`
	Probability   string `json:"probability"`
	PlaceLocation string `json:"placeLocation"`
}

type stdPathPoint struct {
	Point  string `json:"point"`
	Offset string `json:"durationMinutesOffsetFromStartTime"`
	Mode   string `json:"mode"`
}

// pyFloat formats a float the way Python's str() does for typical values,
// so "0.1" stays "0.1" and 1 becomes "1.0".
func pyFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	for _, c := range s {
		if c == '.' {
			return s
		}
	}
	return s + ".0"
}

func toStandard(e Entry) stdEntry {
	switch e := e.(type) {
	case *Activity:
		typ := e.TopCandidate.Type
		if typ == "" {
			typ = "unknown"
		}
		return stdEntry{
			StartTime: e.StartRaw,
			EndTime:   e.EndRaw,
			Activity: &stdActivity{
				Start:          e.From.GeoURI(),
				End:            e.To.GeoURI(),
				DistanceMeters: strconv.FormatInt(int64(e.DistanceMeters), 10),
				TopCandidate: stdActCandidate{
					Type:        typ,
					Probability: pyFloat(e.TopCandidate.Probability),
				},
				Probability: pyFloat(e.Probability),
			},
		}
	case *Visit:
		semantic := e.TopCandidate.SemanticType
		if semantic == "" {
			semantic = "Unknown"
		}
		return stdEntry{
			StartTime: e.StartRaw,
			EndTime:   e.EndRaw,
			Visit: &stdVisit{
				TopCandidate: stdVisitCandidate{
					PlaceID:       e.TopCandidate.PlaceID,
					SemanticType:  semantic,
					Probability:   pyFloat(e.TopCandidate.Probability),
					PlaceLocation: e.Place.GeoURI(),
				},
				Probability: pyFloat(e.Probability),
			},
		}
	case *TimelinePath:
		points := make([]stdPathPoint, len(e.Points))
		for i, p := range e.Points {
			points[i] = stdPathPoint{Point: p.Coord.GeoURI(), Offset: p.OffsetRaw, Mode: p.Mode}
		}
		return stdEntry{StartTime: e.StartRaw, EndTime: e.EndRaw, TimelinePath: points}
	case *LegacyPoint:
		lat := int64(math.Round(e.Coord.Lat * 1e7))
		lon := int64(math.Round(e.Coord.Lon * 1e7))
		return stdEntry{
			TimestampMs: strconv.FormatInt(e.Time.UnixMilli(), 10),
			LatitudeE7:  &lat,
			LongitudeE7: &lon,
		}
	}
	panic(fmt.Sprintf("timeline: unknown entry type %T", e))
}

func standardEntries(entries []Entry) []stdEntry {
	out := make([]stdEntry, len(entries))
	for i, e := range entries {
		out[i] = toStandard(e)
	}
	return out
}

// WriteStandard writes entries as a bare JSON array in Google's format.
func WriteStandard(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(standardEntries(entries)); err != nil {
		return fmt.Errorf("encode standard format: %w", err)
	}
	return nil
}

// NewMetadata describes a processing result for WriteParsed.
func NewMetadata(res *Result, now time.Time) Metadata {
	return Metadata{
		Version:  MetadataVersion,
		ParsedAt: now.Format(time.RFC3339),
		DateRange: MetaDateRange{
			From: res.Range.From.Format(time.DateOnly),
			To:   res.Range.Last().Format(time.DateOnly),
		},
		FilterSettings: FilterSettings{
			DistanceThreshold:    res.Thresholds.DistanceMeters,
			ProbabilityThreshold: res.Thresholds.Probability,
			DurationThreshold:    res.Thresholds.DurationSeconds,
		},
		Statistics: res.Stats,
		IsParsed:   true,
	}
}

// WriteParsed writes entries wrapped with a _metadata block, the format
// daytrace reads back with Processor.Load.
func WriteParsed(w io.Writer, entries []Entry, meta Metadata) error {
	doc := struct {
		Metadata        Metadata   `json:"_metadata"`
		TimelineObjects []stdEntry `json:"timelineObjects"`
	}{meta, standardEntries(entries)}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode parsed file: %w", err)
	}
	return nil
}

// ParsedFilename returns a human readable name for a parsed file, such as
// "01-01-24__12-31-24_parsed_200_0.1_600.json".
func ParsedFilename(rng geo.DateRange, th Thresholds) string {
	return fmt.Sprintf("%s__%s_parsed_%d_%s_%d.json",
		rng.From.Format("01-02-06"),
		rng.Last().Format("01-02-06"),
		int(th.DistanceMeters),
		pyFloat(th.Probability),
		int(th.DurationSeconds),
	)
}
