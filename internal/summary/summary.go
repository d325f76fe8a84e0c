// Package summary turns geocoded route points into per-day place counts
// and a list of relocations between places.
package summary

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/route"
)

// GroupBy selects the granularity of a place.
type GroupBy string

const (
	ByCity  GroupBy = "city"
	ByState GroupBy = "state"
)

// ParseGroupBy validates s as a GroupBy.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(s)); g {
	case ByCity, ByState:
		return g, nil
	}
	return "", fmt.Errorf("unknown grouping %q (want city or state)", s)
}

// Place is an administrative area at the chosen granularity. City is
// empty when grouping by state.
type Place struct {
	City    string `json:"city,omitempty" yaml:"city,omitempty"`
	State   string `json:"state" yaml:"state"`
	Country string `json:"country" yaml:"country"`
}

func (p Place) String() string {
	var parts []string
	for _, s := range []string{p.City, p.State, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func (p Place) key() string {
	return p.City + "|" + p.State + "|" + p.Country
}

// placeOf returns the place of a point, or false for points that were not
// geocoded, fell on water, or carry no administrative data.
func placeOf(p route.Point, by GroupBy) (Place, bool) {
	if p.Geo == nil || p.Geo.IsWater {
		return Place{}, false
	}
	pl := Place{State: p.Geo.State, Country: p.Geo.Country}
	if by == ByCity {
		pl.City = p.Geo.City
	}
	if pl.State == "" && pl.Country == "" && pl.City == "" {
		return Place{}, false
	}
	return pl, true
}

// DayShare is the fraction of one local day attributed to a place.
type DayShare struct {
	Date  string  `json:"date" yaml:"date"`
	Place Place   `json:"place" yaml:"place"`
	Share float64 `json:"share" yaml:"share"`
}

// DayCounts buckets points by local date and splits each day equally
// between the distinct places seen on it. The result is sorted by date
// and then place.
func DayCounts(points []route.Point, by GroupBy) []DayShare {
	byDay := make(map[string]map[string]Place)
	for _, p := range points {
		pl, ok := placeOf(p, by)
		if !ok {
			continue
		}
		date := p.LocalDate()
		if byDay[date] == nil {
			byDay[date] = make(map[string]Place)
		}
		byDay[date][pl.key()] = pl
	}

	var shares []DayShare
	for date, places := range byDay {
		share := 1 / float64(len(places))
		for _, pl := range places {
			shares = append(shares, DayShare{Date: date, Place: pl, Share: share})
		}
	}
	slices.SortFunc(shares, func(a, b DayShare) int {
		return cmp.Or(cmp.Compare(a.Date, b.Date), cmp.Compare(a.Place.key(), b.Place.key()))
	})
	return shares
}

// Total is the number of days spent in one place.
type Total struct {
	Place     Place   `json:"place" yaml:"place"`
	Days      float64 `json:"days" yaml:"days"`
	FirstDate string  `json:"first_date" yaml:"first_date"`
	LastDate  string  `json:"last_date" yaml:"last_date"`
}

// Totals sums day shares per place, most days first.
func Totals(shares []DayShare) []Total {
	index := make(map[string]int)
	var totals []Total
	for _, s := range shares {
		k := s.Place.key()
		i, ok := index[k]
		if !ok {
			i = len(totals)
			index[k] = i
			totals = append(totals, Total{Place: s.Place, FirstDate: s.Date, LastDate: s.Date})
		}
		t := &totals[i]
		t.Days += s.Share
		t.FirstDate = min(t.FirstDate, s.Date)
		t.LastDate = max(t.LastDate, s.Date)
	}
	slices.SortStableFunc(totals, func(a, b Total) int {
		return cmp.Or(cmp.Compare(b.Days, a.Days), cmp.Compare(a.Place.key(), b.Place.key()))
	})
	return totals
}

// Jump is a move from one place to another.
type Jump struct {
	From       Place     `json:"from" yaml:"from"`
	To         Place     `json:"to" yaml:"to"`
	FromCoord  geo.Coord `json:"from_coord" yaml:"from_coord"`
	ToCoord    geo.Coord `json:"to_coord" yaml:"to_coord"`
	LeftAt     time.Time `json:"left_at" yaml:"left_at"`
	ArrivedAt  time.Time `json:"arrived_at" yaml:"arrived_at"`
	DistanceKm float64   `json:"distance_km" yaml:"distance_km"`
}

// Jumps walks the geocoded points in time order and reports every change
// of place.
func Jumps(points []route.Point, by GroupBy) []Jump {
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b route.Point) int { return a.Time.Compare(b.Time) })

	var jumps []Jump
	var last route.Point
	var lastPlace Place
	have := false
	for _, p := range sorted {
		pl, ok := placeOf(p, by)
		if !ok {
			continue
		}
		if have && pl.key() != lastPlace.key() {
			jumps = append(jumps, Jump{
				From:       lastPlace,
				To:         pl,
				FromCoord:  last.Coord,
				ToCoord:    p.Coord,
				LeftAt:     last.Time,
				ArrivedAt:  p.Time,
				DistanceKm: geo.Haversine(last.Coord, p.Coord) / 1000,
			})
		}
		last, lastPlace, have = p, pl, true
	}
	return jumps
}

// Report bundles every aggregation of one point set.
type Report struct {
	GroupBy GroupBy    `json:"group_by" yaml:"group_by"`
	Days    []DayShare `json:"days" yaml:"days"`
	Totals  []Total    `json:"totals" yaml:"totals"`
	Jumps   []Jump     `json:"jumps" yaml:"jumps"`
}

// Build computes a Report for points.
func Build(points []route.Point, by GroupBy) Report {
	days := DayCounts(points, by)
	return Report{
		GroupBy: by,
		Days:    days,
		Totals:  Totals(days),
		Jumps:   Jumps(points, by),
	}
}
