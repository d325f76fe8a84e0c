// Package geo normalizes coordinates and timestamps found in location
// history exports and provides the distance and date-range helpers the
// rest of daytrace builds on.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Coord is a validated latitude/longitude pair in decimal degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies inside the WGS84 bounds.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// GeoURI formats the coordinate the way Google exports do ("geo:40.712800,-74.006000").
func (c Coord) GeoURI() string {
	return fmt.Sprintf("geo:%.6f,%.6f", c.Lat, c.Lon)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", c.Lat, c.Lon)
}

// ParseCoordinate extracts a coordinate from any of the shapes Google
// exports have used:
//
//	"geo:40.7128,-74.0060"
//	"37.422°, -122.084°"
//	{"latitudeE7": 407128000, "longitudeE7": -740060000}
//	{"latitude": 40.7128, "longitude": -74.006}
//	{"latLng": "37.422°, -122.084°"}
//
// It returns false for anything it cannot parse or that falls outside
// the valid latitude/longitude range.
func ParseCoordinate(v any) (Coord, bool) {
	var c Coord
	switch t := v.(type) {
	case string:
		var err error
		c, err = parseCoordString(t)
		if err != nil {
			return Coord{}, false
		}
	case map[string]any:
		if latE7, ok := t["latitudeE7"]; ok {
			lat, ok1 := Number(latE7)
			lon, ok2 := Number(t["longitudeE7"])
			if !ok1 || !ok2 {
				return Coord{}, false
			}
			c = Coord{Lat: lat / 1e7, Lon: lon / 1e7}
		} else if latV, ok := t["latitude"]; ok {
			lat, ok1 := Number(latV)
			lon, ok2 := Number(t["longitude"])
			if !ok1 || !ok2 {
				return Coord{}, false
			}
			c = Coord{Lat: lat, Lon: lon}
		} else if s, ok := t["latLng"].(string); ok {
			return ParseCoordinate(s)
		} else {
			return Coord{}, false
		}
	default:
		return Coord{}, false
	}
	if !c.Valid() {
		return Coord{}, false
	}
	return c, true
}

// parseCoordString reads "geo:lat,lon" URIs (ignoring any ;u= parameters)
// and "lat°, lon°" strings.
func parseCoordString(s string) (Coord, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "geo:"):
		s, _, _ = strings.Cut(strings.TrimPrefix(s, "geo:"), ";")
	case strings.Contains(s, "°"):
		s = strings.ReplaceAll(s, "°", "")
	default:
		return Coord{}, fmt.Errorf("unrecognized coordinate %q", s)
	}

	latText, lonText, ok := strings.Cut(s, ",")
	if !ok || strings.Contains(lonText, ",") {
		return Coord{}, fmt.Errorf("want a lat,lon pair, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("latitude %q: %w", latText, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("longitude %q: %w", lonText, err)
	}
	return Coord{Lat: lat, Lon: lon}, nil
}

// Number converts a decoded JSON scalar to float64. Google exports mix
// numbers and numeric strings for the same field, so both are accepted.
func Number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
