package route

import (
	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/geocode"
	"github.com/anupcshan/daytrace/internal/timeline"
)

// PointsFromEntries flattens processed entries into route points. Each
// entry gets its own group id (its index in entries). When results holds
// a geocoding answer for a point's coordinate it is attached.
func PointsFromEntries(entries []timeline.Entry, results map[geo.Coord]geocode.GeoResult) []Point {
	var points []Point
	add := func(p Point) {
		if r, ok := results[p.Coord]; ok {
			p.Geo = &r
		}
		points = append(points, p)
	}

	for i, e := range entries {
		switch e := e.(type) {
		case *timeline.Visit:
			add(Point{
				Coord:      e.Place,
				Kind:       KindVisit,
				Group:      i,
				EntryStart: e.Start,
				Time:       e.Start,
				Label:      e.TopCandidate.SemanticType,
			})
		case *timeline.Activity:
			add(Point{
				Coord:      e.From,
				Kind:       KindActivityStart,
				Group:      i,
				EntryStart: e.Start,
				Time:       e.Start,
				Label:      e.TopCandidate.Type,
			})
			end := e.End
			if end.IsZero() {
				end = e.Start
			}
			add(Point{
				Coord:      e.To,
				Kind:       KindActivityEnd,
				Group:      i,
				EntryStart: e.Start,
				Time:       end,
				Label:      e.TopCandidate.Type,
			})
		case *timeline.TimelinePath:
			for _, pp := range e.Points {
				add(Point{
					Coord:      pp.Coord,
					Kind:       KindPath,
					Group:      i,
					EntryStart: e.Start,
					Time:       pp.Time,
					Label:      pp.Mode,
				})
			}
		case *timeline.LegacyPoint:
			add(Point{
				Coord:      e.Coord,
				Kind:       KindLegacy,
				Group:      i,
				EntryStart: e.Time,
				Time:       e.Time,
			})
		}
	}
	return points
}
