package timeline

import (
	"math"

	"github.com/anupcshan/daytrace/internal/geo"
)

// CompressPath thins the in-range points of one timeline path.
//
// The first point is always kept. Each following point is kept only if it
// is at least minDistance meters from the last kept point. If more points
// survive than MaxPathPoints allows, the survivors are resampled evenly,
// keeping the first and last.
func CompressPath(points []PathPoint, rawCount int, minDistance float64) []PathPoint {
	if len(points) == 0 {
		return nil
	}

	kept := []PathPoint{points[0]}
	for _, pt := range points[1:] {
		last := kept[len(kept)-1]
		if geo.Haversine(last.Coord, pt.Coord) < minDistance {
			continue
		}
		kept = append(kept, pt)
	}

	if len(kept) == 1 {
		return kept
	}
	return Sample(kept, MaxPathPoints(rawCount, len(kept), minDistance))
}

// MaxPathPoints returns how many points a compressed path may keep.
//
// Short paths (few raw points or few survivors) are treated as local
// movement and capped at 8. Longer ones get a cap that shrinks as the
// distance threshold grows.
func MaxPathPoints(rawCount, filteredCount int, minDistance float64) int {
	if rawCount <= 10 || filteredCount <= 5 {
		return min(8, filteredCount)
	}
	switch {
	case minDistance >= 2000:
		return 5
	case minDistance >= 1000:
		return 8
	case minDistance >= 500:
		return 12
	case minDistance >= 200:
		return 15
	default:
		return 20
	}
}

// Sample picks at most limit points spread evenly over points, always
// keeping the first and the last.
func Sample[T any](points []T, limit int) []T {
	n := len(points)
	if n <= limit {
		return points
	}
	if limit < 2 {
		return points[:1:1]
	}

	sampled := make([]T, 0, limit)
	sampled = append(sampled, points[0])
	step := float64(n-1) / float64(limit-1)
	for i := 1; i <= limit-2; i++ {
		idx := int(math.RoundToEven(float64(i) * step))
		if idx < n-1 {
			sampled = append(sampled, points[idx])
		}
	}
	return append(sampled, points[n-1])
}
