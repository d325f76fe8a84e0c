package geocode

import (
	"strconv"
	"strings"

	"github.com/anupcshan/daytrace/internal/geo"
)

const (
	// PreciseDecimals is the rounding used for new cache keys (~1.1m).
	PreciseDecimals = 5
	// FallbackDecimals matches keys written by older versions (~11m).
	FallbackDecimals = 4

	waterPrefix = "water:"
)

// Key returns the cache key for c rounded to decimals places, e.g.
// "40.7128,-74.006". Numbers are rendered the way the existing cache files
// were written: shortest form, always with a decimal point ("40.0"), and
// exponent notation for tiny magnitudes ("1e-05").
func Key(c geo.Coord, decimals int) string {
	return formatRounded(c.Lat, decimals) + "," + formatRounded(c.Lon, decimals)
}

// WaterKey returns the cache key used for water-only lookups.
func WaterKey(c geo.Coord, decimals int) string {
	return waterPrefix + Key(c, decimals)
}

func formatRounded(f float64, decimals int) string {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', decimals, 64), 64)
	if err != nil {
		rounded = f
	}
	s := strconv.FormatFloat(rounded, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}
