// Package route orders the discrete stops and continuous path points of a
// processed timeline into one chronological route and decides which
// consecutive points should be drawn as connected.
package route

import (
	"slices"
	"time"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/geocode"
)

// Kind identifies where a route point came from.
type Kind string

const (
	KindVisit         Kind = "visit"
	KindActivityStart Kind = "activity_start"
	KindActivityEnd   Kind = "activity_end"
	KindPath          Kind = "timeline"
	KindLegacy        Kind = "legacy"
)

const (
	// SpliceWindow is how close a path's start must be to a stop for the
	// path to be placed right after it.
	SpliceWindow = 4 * time.Hour
	// BridgeMaxGap and BridgeMaxDistance bound inferred connections between
	// consecutive paths.
	BridgeMaxGap      = 4 * time.Hour
	BridgeMaxDistance = 200_000.0 // meters
	// JumpThreshold flags segments longer than this as anomalous.
	JumpThreshold = 50_000.0 // meters
)

// Point is one location on the route.
type Point struct {
	Coord geo.Coord `json:"coord"`
	Kind  Kind      `json:"kind"`
	// Group identifies the originating entry. Path points of one entry
	// share a group.
	Group      int                `json:"group"`
	EntryStart time.Time          `json:"entry_start"`
	Time       time.Time          `json:"time"`
	Label      string             `json:"label,omitempty"`
	Geo        *geocode.GeoResult `json:"geo,omitempty"`
}

// LocalDate is the approximate local calendar date of the point.
func (p Point) LocalDate() string {
	return geo.LocalDate(p.Time, p.Coord)
}

// Step is a Point in its final route position.
type Step struct {
	Point
	ConnectedToPrevious  bool    `json:"connected_to_previous"`
	IsInferredConnection bool    `json:"is_inferred_connection"`
	IsAnomalousJump      bool    `json:"is_anomalous_jump"`
	BridgeFrom           int     `json:"bridge_from"` // -1 unless IsInferredConnection
	DistanceFromPrevious float64 `json:"distance_from_previous"`
}

// Reconstruct returns points in route order.
//
// Stops (visits, activity endpoints, legacy points) are ordered by their
// entry's start time. After each stop, the earliest path whose start lies
// within SpliceWindow of the stop is spliced in. Paths that never match a
// stop follow at the end. Points of one path are connected to each other;
// the first point of a path is additionally bridged to the previous path
// when the gap between them is short in both time and distance.
func Reconstruct(points []Point) []Step {
	var stops []Point
	var groups [][]Point
	index := make(map[int]int)
	for _, p := range points {
		if p.Kind != KindPath {
			stops = append(stops, p)
			continue
		}
		i, ok := index[p.Group]
		if !ok {
			i = len(groups)
			index[p.Group] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], p)
	}

	slices.SortStableFunc(stops, func(a, b Point) int {
		return a.EntryStart.Compare(b.EntryStart)
	})
	for _, g := range groups {
		slices.SortStableFunc(g, func(a, b Point) int { return a.Time.Compare(b.Time) })
	}
	slices.SortStableFunc(groups, func(a, b []Point) int {
		return a[0].EntryStart.Compare(b[0].EntryStart)
	})

	ordered := make([]Point, 0, len(points))
	consumed := make([]bool, len(groups))
	for _, stop := range stops {
		ordered = append(ordered, stop)
		for gi, g := range groups {
			if consumed[gi] {
				continue
			}
			if absDuration(g[0].EntryStart.Sub(stop.EntryStart)) <= SpliceWindow {
				ordered = append(ordered, g...)
				consumed[gi] = true
				break
			}
		}
	}
	for gi, g := range groups {
		if !consumed[gi] {
			ordered = append(ordered, g...)
		}
	}

	steps := make([]Step, len(ordered))
	first := make(map[int]int)
	last := make(map[int]int)
	for i, p := range ordered {
		s := Step{Point: p, BridgeFrom: -1}
		if i > 0 {
			prev := ordered[i-1]
			s.DistanceFromPrevious = geo.Haversine(prev.Coord, p.Coord)
			s.IsAnomalousJump = s.DistanceFromPrevious > JumpThreshold
			s.ConnectedToPrevious = p.Kind == KindPath && prev.Kind == KindPath && prev.Group == p.Group
		}
		if p.Kind == KindPath {
			if _, ok := first[p.Group]; !ok {
				first[p.Group] = i
			}
			last[p.Group] = i
		}
		steps[i] = s
	}

	byFirstPoint := slices.Clone(groups)
	slices.SortStableFunc(byFirstPoint, func(a, b []Point) int {
		return a[0].Time.Compare(b[0].Time)
	})
	for k := 0; k+1 < len(byFirstPoint); k++ {
		cur, next := byFirstPoint[k], byFirstPoint[k+1]
		from, to := cur[len(cur)-1], next[0]
		if shouldBridge(from, to) {
			s := &steps[first[to.Group]]
			s.IsInferredConnection = true
			s.BridgeFrom = last[from.Group]
		}
	}
	return steps
}

func shouldBridge(from, to Point) bool {
	gap := to.Time.Sub(from.Time)
	return gap > 0 && gap < BridgeMaxGap && geo.Haversine(from.Coord, to.Coord) < BridgeMaxDistance
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Stats summarizes a reconstructed route.
type Stats struct {
	Points          int     `json:"points"`
	Stops           int     `json:"stops"`
	PathPoints      int     `json:"path_points"`
	Connected       int     `json:"connected"`
	Inferred        int     `json:"inferred"`
	AnomalousJumps  int     `json:"anomalous_jumps"`
	TotalDistanceKm float64 `json:"total_distance_km"`
}

// Summarize counts the connections and jumps in steps.
func Summarize(steps []Step) Stats {
	st := Stats{Points: len(steps)}
	for _, s := range steps {
		if s.Kind == KindPath {
			st.PathPoints++
		} else {
			st.Stops++
		}
		if s.ConnectedToPrevious {
			st.Connected++
		}
		if s.IsInferredConnection {
			st.Inferred++
		}
		if s.IsAnomalousJump {
			st.AnomalousJumps++
		}
		st.TotalDistanceKm += s.DistanceFromPrevious / 1000
	}
	return st
}
