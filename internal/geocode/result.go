// Package geocode reverse-geocodes coordinates through a third-party API,
// with a persistent per-user cache in front of it and batch fan-out for
// large coordinate sets.
package geocode

import (
	"strings"
)

// GeoResult is the administrative context of a coordinate.
type GeoResult struct {
	State   string `json:"state"`
	City    string `json:"city"`
	Country string `json:"country"`
	Place   string `json:"place"`
	IsWater bool   `json:"is_water"`
}

// Sentinel builds a fallback result for a lookup that produced no usable
// answer. Sentinels are cached like real results and never retried.
func Sentinel(place string) GeoResult {
	return GeoResult{IsWater: true, Place: place, City: "Unknown"}
}

// OpenWater is returned when the API finds nothing at a coordinate.
func OpenWater() GeoResult {
	return Sentinel("open water")
}

// DefaultWaterKeywords mark a place name as a body of water.
var DefaultWaterKeywords = []string{"waters", "sea", "ocean", "bay", "channel"}

// containsWaterKeyword reports whether the lowercased place name contains
// any of keywords.
func containsWaterKeyword(place string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(place, k) {
			return true
		}
	}
	return false
}
