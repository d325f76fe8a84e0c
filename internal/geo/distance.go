package geo

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * math.Asin(math.Sqrt(h)) * EarthRadiusKm * 1000
}

// ApproxZone guesses the UTC offset at c from longitude alone, one hour
// per 15 degrees, kept within the -12..+14 hours real zones span.
func ApproxZone(c Coord) *time.Location {
	hours := max(-12, min(14, int(math.Round(c.Lon/15))))
	return time.FixedZone("", hours*3600)
}

// LocalDate returns the approximate local calendar date (YYYY-MM-DD) of t at c.
func LocalDate(t time.Time, c Coord) string {
	return t.In(ApproxZone(c)).Format(time.DateOnly)
}
