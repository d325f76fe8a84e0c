// Package timeline decodes Google location history exports, filters them by
// date range and movement thresholds, and compresses dense movement paths.
package timeline

import (
	"time"

	"github.com/anupcshan/daytrace/internal/geo"
)

// Kind identifies an entry variant.
type Kind string

const (
	KindActivity    Kind = "activity"
	KindVisit       Kind = "visit"
	KindPath        Kind = "timelinePath"
	KindLegacyPoint Kind = "legacyPoint"
)

// Entry is one timeline record. The set of implementations is closed:
// *Activity, *Visit, *TimelinePath and *LegacyPoint.
type Entry interface {
	Kind() Kind
	// StartTime is the parsed UTC start instant of the entry.
	StartTime() time.Time
	// SortKey is the raw start timestamp string used to order output.
	SortKey() string
	isEntry()
}

// Span holds the raw and parsed start/end timestamps shared by activities,
// visits and paths.
type Span struct {
	Start    time.Time
	End      time.Time // zero when the export had no parseable end
	StartRaw string
	EndRaw   string
}

func (s Span) StartTime() time.Time { return s.Start }
func (s Span) SortKey() string      { return s.StartRaw }

// Duration returns End-Start, or false if either side is missing.
func (s Span) Duration() (time.Duration, bool) {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0, false
	}
	return s.End.Sub(s.Start), true
}

// Candidate is the most likely interpretation Google attached to an
// activity (mode of travel) or visit (place).
type Candidate struct {
	Type         string
	SemanticType string
	PlaceID      string
	Probability  float64
}

// Activity is a movement between two points.
type Activity struct {
	Span
	From           geo.Coord
	To             geo.Coord
	DistanceMeters float64
	TopCandidate   Candidate
	Probability    float64
}

// Visit is a dwell at one inferred place.
type Visit struct {
	Span
	Place        geo.Coord
	TopCandidate Candidate
	Probability  float64
}

// PathPoint is one intermediate point of a TimelinePath.
type PathPoint struct {
	Coord         geo.Coord
	OffsetMinutes int
	// OffsetRaw preserves the export's offset string for re-encoding.
	OffsetRaw string
	Mode      string
	Time      time.Time
}

// TimelinePath is the sequence of points recorded during one movement.
type TimelinePath struct {
	Span
	Points []PathPoint
	// RawPointCount is the number of points before any filtering.
	RawPointCount int
}

// LegacyPoint is a single timestamped location from Records.json style
// exports or on-device raw signals.
type LegacyPoint struct {
	Time    time.Time
	TimeRaw string
	Coord   geo.Coord
}

func (*Activity) Kind() Kind     { return KindActivity }
func (*Visit) Kind() Kind        { return KindVisit }
func (*TimelinePath) Kind() Kind { return KindPath }
func (*LegacyPoint) Kind() Kind  { return KindLegacyPoint }

func (*Activity) isEntry()     {}
func (*Visit) isEntry()        {}
func (*TimelinePath) isEntry() {}
func (*LegacyPoint) isEntry()  {}

func (l *LegacyPoint) StartTime() time.Time { return l.Time }

// SortKey renders legacy points in the same UTC shape Google uses for
// startTime so they interleave with the other variants.
func (l *LegacyPoint) SortKey() string {
	return l.Time.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Coordinates returns every distinct coordinate referenced by entries, in
// first-seen order.
func Coordinates(entries []Entry) []geo.Coord {
	seen := make(map[geo.Coord]bool)
	var out []geo.Coord
	add := func(c geo.Coord) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, e := range entries {
		switch e := e.(type) {
		case *Visit:
			add(e.Place)
		case *Activity:
			add(e.From)
			add(e.To)
		case *TimelinePath:
			for _, p := range e.Points {
				add(p.Coord)
			}
		case *LegacyPoint:
			add(e.Coord)
		}
	}
	return out
}
