package route

import (
	"math"
	"slices"
	"strings"
)

// Simplify drops path points that deviate less than tolerance degrees from
// the chord of their Douglas-Peucker segment. Endpoints always survive.
func Simplify(points []Point, tolerance float64) []Point {
	idx := make([]int, len(points))
	for i := range idx {
		idx[i] = i
	}
	kept := simplifyIndices(points, idx, tolerance)
	out := make([]Point, len(kept))
	for i, k := range kept {
		out[i] = points[k]
	}
	return out
}

// simplifyIndices runs Douglas-Peucker over points[idx...] and returns the
// indexes that survive.
func simplifyIndices(points []Point, idx []int, tolerance float64) []int {
	if len(idx) <= 2 {
		return idx
	}

	maxDist := 0.0
	maxIdx := 0
	first := points[idx[0]]
	last := points[idx[len(idx)-1]]

	for i := 1; i < len(idx)-1; i++ {
		dist := perpendicularDistanceDeg(points[idx[i]], first, last)
		if dist > maxDist {
			maxDist = dist
			maxIdx = i
		}
	}

	if maxDist > tolerance {
		left := simplifyIndices(points, idx[:maxIdx+1], tolerance)
		right := simplifyIndices(points, idx[maxIdx:], tolerance)

		result := make([]int, 0, len(left)+len(right)-1)
		result = append(result, left[:len(left)-1]...)
		result = append(result, right...)
		return result
	}

	return []int{idx[0], idx[len(idx)-1]}
}

// perpendicularDistanceDeg is the planar distance in degrees from point to
// the line through lineStart and lineEnd.
func perpendicularDistanceDeg(point, lineStart, lineEnd Point) float64 {
	dx := lineEnd.Coord.Lon - lineStart.Coord.Lon
	dy := lineEnd.Coord.Lat - lineStart.Coord.Lat

	if dx == 0 && dy == 0 {
		dLon := point.Coord.Lon - lineStart.Coord.Lon
		dLat := point.Coord.Lat - lineStart.Coord.Lat
		return math.Sqrt(dLon*dLon + dLat*dLat)
	}

	num := math.Abs(dy*point.Coord.Lon - dx*point.Coord.Lat + lineEnd.Coord.Lon*lineStart.Coord.Lat - lineEnd.Coord.Lat*lineStart.Coord.Lon)
	den := math.Sqrt(dy*dy + dx*dx)
	return num / den
}

// SimplifyPaths applies Simplify to every path group in points, keeping
// stops untouched and the relative order of everything else.
func SimplifyPaths(points []Point, tolerance float64) []Point {
	if tolerance <= 0 {
		return points
	}

	groups := make(map[int][]int)
	var order []int
	for i, p := range points {
		if p.Kind != KindPath {
			continue
		}
		if _, ok := groups[p.Group]; !ok {
			order = append(order, p.Group)
		}
		groups[p.Group] = append(groups[p.Group], i)
	}

	keep := make([]bool, len(points))
	for i, p := range points {
		keep[i] = p.Kind != KindPath
	}
	for _, id := range order {
		idx := groups[id]
		slices.SortStableFunc(idx, func(a, b int) int { return points[a].Time.Compare(points[b].Time) })
		for _, k := range simplifyIndices(points, idx, tolerance) {
			keep[k] = true
		}
	}

	out := make([]Point, 0, len(points))
	for i, p := range points {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// Bounds is a bounding box in decimal degrees.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// ToleranceFromBounds picks a simplification tolerance for a viewport.
// Smaller viewport = smaller tolerance = more detail.
func ToleranceFromBounds(b Bounds) float64 {
	latSpan := b.MaxLat - b.MinLat
	lonSpan := b.MaxLon - b.MinLon

	tolerance := min(latSpan, lonSpan) * 0.001
	// clamp to roughly 1m..100m
	return max(0.00001, min(tolerance, 0.001))
}

// BoundsOf returns the bounding box of points.
func BoundsOf(points []Point) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLat: points[0].Coord.Lat, MaxLat: points[0].Coord.Lat, MinLon: points[0].Coord.Lon, MaxLon: points[0].Coord.Lon}
	for _, p := range points[1:] {
		b.MinLat = min(b.MinLat, p.Coord.Lat)
		b.MaxLat = max(b.MaxLat, p.Coord.Lat)
		b.MinLon = min(b.MinLon, p.Coord.Lon)
		b.MaxLon = max(b.MaxLon, p.Coord.Lon)
	}
	return b
}

// AutoTolerance sizes the simplification tolerance to the area points cover.
func AutoTolerance(points []Point) float64 {
	return ToleranceFromBounds(BoundsOf(points))
}

// Day is the part of a route that falls on one local calendar day.
type Day struct {
	Date       string `json:"date"` // YYYY-MM-DD in approximate local time
	Bounds     Bounds `json:"bounds"`
	PointCount int    `json:"point_count"`
	// First and Last are indexes into the steps passed to Days.
	First int `json:"first"`
	Last  int `json:"last"`
}

// Days groups steps by the local date of each point, sorted by date.
func Days(steps []Step) []Day {
	index := make(map[string]int)
	var days []Day
	for i, s := range steps {
		date := s.LocalDate()
		di, ok := index[date]
		if !ok {
			di = len(days)
			index[date] = di
			days = append(days, Day{
				Date:   date,
				Bounds: Bounds{MinLat: s.Coord.Lat, MaxLat: s.Coord.Lat, MinLon: s.Coord.Lon, MaxLon: s.Coord.Lon},
				First:  i,
			})
		}
		d := &days[di]
		d.Bounds.MinLat = min(d.Bounds.MinLat, s.Coord.Lat)
		d.Bounds.MaxLat = max(d.Bounds.MaxLat, s.Coord.Lat)
		d.Bounds.MinLon = min(d.Bounds.MinLon, s.Coord.Lon)
		d.Bounds.MaxLon = max(d.Bounds.MaxLon, s.Coord.Lon)
		d.PointCount++
		d.Last = i
	}
	slices.SortStableFunc(days, func(a, b Day) int { return strings.Compare(a.Date, b.Date) })
	return days
}
