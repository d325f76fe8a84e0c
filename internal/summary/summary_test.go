package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/geocode"
	"github.com/anupcshan/daytrace/internal/route"
)

var (
	sf      = geo.Coord{Lat: 37.77, Lon: -122.42}
	oakland = geo.Coord{Lat: 37.80, Lon: -122.27}
	reno    = geo.Coord{Lat: 39.53, Lon: -119.81}
	bay     = geo.Coord{Lat: 37.70, Lon: -122.30}

	sfGeo      = geocode.GeoResult{City: "San Francisco", State: "California", Country: "United States"}
	oaklandGeo = geocode.GeoResult{City: "Oakland", State: "California", Country: "United States"}
	renoGeo    = geocode.GeoResult{City: "Reno", State: "Nevada", Country: "United States"}
)

func at(c geo.Coord, r *geocode.GeoResult, ts string) route.Point {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return route.Point{Coord: c, Kind: route.KindVisit, Time: t, EntryStart: t, Geo: r}
}

func ptr(r geocode.GeoResult) *geocode.GeoResult { return &r }

func samplePoints() []route.Point {
	water := geocode.OpenWater()
	return []route.Point{
		// Local time in California is UTC-8 by the longitude approximation.
		at(sf, ptr(sfGeo), "2024-06-01T18:00:00Z"),
		at(bay, &water, "2024-06-01T19:00:00Z"),
		at(oakland, ptr(oaklandGeo), "2024-06-01T22:00:00Z"),
		at(sf, nil, "2024-06-02T01:00:00Z"),
		at(oakland, ptr(oaklandGeo), "2024-06-02T18:00:00Z"),
		at(reno, ptr(renoGeo), "2024-06-03T20:00:00Z"),
	}
}

func TestParseGroupBy(t *testing.T) {
	g, err := ParseGroupBy("State")
	require.NoError(t, err)
	assert.Equal(t, ByState, g)

	_, err = ParseGroupBy("county")
	assert.Error(t, err)
}

func TestDayCountsByCity(t *testing.T) {
	shares := DayCounts(samplePoints(), ByCity)
	require.Len(t, shares, 4)

	assert.Equal(t, DayShare{Date: "2024-06-01", Place: Place{City: "Oakland", State: "California", Country: "United States"}, Share: 0.5}, shares[0])
	assert.Equal(t, DayShare{Date: "2024-06-01", Place: Place{City: "San Francisco", State: "California", Country: "United States"}, Share: 0.5}, shares[1])
	assert.Equal(t, "2024-06-02", shares[2].Date)
	assert.Equal(t, 1.0, shares[2].Share)
	assert.Equal(t, "Reno", shares[3].Place.City)

	totals := Totals(shares)
	require.Len(t, totals, 3)
	assert.Equal(t, "Oakland", totals[0].Place.City)
	assert.InDelta(t, 1.5, totals[0].Days, 1e-9)
	assert.Equal(t, "2024-06-01", totals[0].FirstDate)
	assert.Equal(t, "2024-06-02", totals[0].LastDate)
	assert.Equal(t, "Reno", totals[1].Place.City)
	assert.Equal(t, "San Francisco", totals[2].Place.City)
}

func TestDayCountsByState(t *testing.T) {
	shares := DayCounts(samplePoints(), ByState)
	require.Len(t, shares, 3)
	for _, s := range shares {
		assert.Empty(t, s.Place.City)
		assert.Equal(t, 1.0, s.Share)
	}
	assert.Equal(t, "California, United States", shares[0].Place.String())
}

func TestJumps(t *testing.T) {
	jumps := Jumps(samplePoints(), ByCity)
	require.Len(t, jumps, 2)

	assert.Equal(t, "San Francisco", jumps[0].From.City)
	assert.Equal(t, "Oakland", jumps[0].To.City)
	assert.Equal(t, sf, jumps[0].FromCoord)
	assert.Equal(t, time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC), jumps[0].LeftAt)
	assert.Equal(t, time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC), jumps[0].ArrivedAt)
	assert.InDelta(t, geo.Haversine(sf, oakland)/1000, jumps[0].DistanceKm, 1e-9)

	assert.Equal(t, "Reno", jumps[1].To.City)
	assert.Equal(t, time.Date(2024, 6, 2, 18, 0, 0, 0, time.UTC), jumps[1].LeftAt)

	byState := Jumps(samplePoints(), ByState)
	require.Len(t, byState, 1)
	assert.Equal(t, "Nevada", byState[0].To.State)
}

func TestBuild(t *testing.T) {
	r := Build(samplePoints(), ByCity)
	assert.Equal(t, ByCity, r.GroupBy)
	assert.Len(t, r.Days, 4)
	assert.Len(t, r.Totals, 3)
	assert.Len(t, r.Jumps, 2)

	empty := Build(nil, ByState)
	assert.Empty(t, empty.Days)
	assert.Empty(t, empty.Jumps)
}
