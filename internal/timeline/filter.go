package timeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/anupcshan/daytrace/internal/geo"
)

// errBelowThreshold marks an entry that decoded fine but did not meet a
// distance, duration or probability threshold.
var errBelowThreshold = errors.New("below threshold")

// entryHeader decodes only the fields needed for the date pre-filter.
type entryHeader struct {
	StartTime   any       `json:"startTime"`
	Activity    *nestedTS `json:"activity"`
	Visit       *nestedTS `json:"visit"`
	TimestampMs any       `json:"timestampMs"`
	Timestamp   any       `json:"timestamp"`
}

type nestedTS struct {
	StartTime any `json:"startTime"`
}

func (h *entryHeader) startValue() any {
	switch {
	case h.StartTime != nil:
		return h.StartTime
	case h.Activity != nil && h.Activity.StartTime != nil:
		return h.Activity.StartTime
	case h.Visit != nil && h.Visit.StartTime != nil:
		return h.Visit.StartTime
	case h.TimestampMs != nil:
		return h.TimestampMs
	default:
		return h.Timestamp
	}
}

type headerVerdict int

const (
	headerInRange headerVerdict = iota
	headerOutOfRange
	headerMalformed
)

// checkHeader runs the cheap date pre-filter on one raw entry: a year
// prefix check on ISO strings, then a full parse and range test.
func checkHeader(raw json.RawMessage, rng geo.DateRange) headerVerdict {
	var h entryHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return headerMalformed
	}
	v := h.startValue()
	if v == nil {
		return headerMalformed
	}
	if s, ok := v.(string); ok && !rng.YearInRange(s) {
		return headerOutOfRange
	}
	ts, ok := geo.ParseTimestamp(v)
	if !ok {
		return headerMalformed
	}
	if !rng.Contains(ts) {
		return headerOutOfRange
	}
	return headerInRange
}

// decodeEntry fully decodes one entry that passed the pre-filter and applies
// the per-type thresholds. It returns errBelowThreshold for entries that are
// well formed but filtered out, and another error for malformed ones.
func (p *pass) decodeEntry(raw json.RawMessage) (Entry, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	switch {
	case m["activity"] != nil:
		return p.decodeActivity(m)
	case m["visit"] != nil:
		return p.decodeVisit(m)
	case m["timelinePath"] != nil:
		return p.decodePath(m)
	case m["timestampMs"] != nil || m["timestamp"] != nil:
		return p.decodeLegacy(m)
	}
	return nil, errors.New("unrecognized entry")
}

func decodeSpan(m map[string]any, nested map[string]any) (Span, error) {
	startV, endV := m["startTime"], m["endTime"]
	if startV == nil && nested != nil {
		startV, endV = nested["startTime"], nested["endTime"]
	}
	start, ok := geo.ParseTimestamp(startV)
	if !ok {
		return Span{}, fmt.Errorf("invalid startTime %v", startV)
	}
	s := Span{Start: start, StartRaw: rawString(startV)}
	if end, ok := geo.ParseTimestamp(endV); ok {
		s.End = end
	}
	s.EndRaw = rawString(endV)
	return s, nil
}

// optionalNumber reads a numeric field that defaults to zero when absent.
func optionalNumber(m map[string]any, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := geo.Number(v)
	if !ok {
		return 0, fmt.Errorf("invalid %s %v", key, v)
	}
	return f, nil
}

func (p *pass) decodeActivity(m map[string]any) (Entry, error) {
	act, ok := m["activity"].(map[string]any)
	if !ok {
		return nil, errors.New("activity is not an object")
	}
	span, err := decodeSpan(m, act)
	if err != nil {
		return nil, err
	}
	from, ok1 := geo.ParseCoordinate(act["start"])
	to, ok2 := geo.ParseCoordinate(act["end"])
	if !ok1 || !ok2 {
		return nil, errors.New("activity endpoints missing or invalid")
	}
	distance, err := optionalNumber(act, "distanceMeters")
	if err != nil {
		return nil, err
	}
	if distance < p.th.DistanceMeters {
		return nil, errBelowThreshold
	}
	probability, err := optionalNumber(act, "probability")
	if err != nil {
		return nil, err
	}

	a := &Activity{
		Span:           span,
		From:           from,
		To:             to,
		DistanceMeters: distance,
		Probability:    probability,
	}
	if tc, ok := act["topCandidate"].(map[string]any); ok {
		a.TopCandidate.Type = rawString(tc["type"])
		a.TopCandidate.Probability, _ = optionalNumber(tc, "probability")
	}
	return a, nil
}

func (p *pass) decodeVisit(m map[string]any) (Entry, error) {
	visit, ok := m["visit"].(map[string]any)
	if !ok {
		return nil, errors.New("visit is not an object")
	}
	span, err := decodeSpan(m, visit)
	if err != nil {
		return nil, err
	}
	tc, _ := visit["topCandidate"].(map[string]any)
	place, ok := geo.ParseCoordinate(tc["placeLocation"])
	if !ok {
		return nil, errors.New("visit placeLocation missing or invalid")
	}

	if d, ok := span.Duration(); ok && d.Seconds() < p.th.DurationSeconds {
		return nil, errBelowThreshold
	}
	probability, err := optionalNumber(visit, "probability")
	if err != nil {
		return nil, err
	}
	if probability < p.th.Probability {
		return nil, errBelowThreshold
	}

	v := &Visit{
		Span:        span,
		Place:       place,
		Probability: probability,
		TopCandidate: Candidate{
			SemanticType: rawString(tc["semanticType"]),
			PlaceID:      rawString(tc["placeID"]),
			Probability:  probability,
		},
	}
	if v.TopCandidate.PlaceID == "" {
		v.TopCandidate.PlaceID = rawString(tc["placeId"])
	}
	if cp, ok := geo.Number(tc["probability"]); ok {
		v.TopCandidate.Probability = cp
	}
	return v, nil
}

func (p *pass) decodePath(m map[string]any) (Entry, error) {
	rawPoints, ok := m["timelinePath"].([]any)
	if !ok || len(rawPoints) == 0 {
		return nil, errors.New("timelinePath empty or not a list")
	}
	span, err := decodeSpan(m, nil)
	if err != nil {
		return nil, err
	}

	var inRange []PathPoint
	for _, rp := range rawPoints {
		pm, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		pt, ok := decodePathPoint(pm, span.Start)
		if !ok || !p.rng.Contains(pt.Time) {
			continue
		}
		inRange = append(inRange, pt)
	}
	if len(inRange) == 0 {
		return nil, errBelowThreshold
	}

	points := inRange
	if p.compress {
		points = CompressPath(inRange, len(rawPoints), p.th.DistanceMeters)
	}
	return &TimelinePath{Span: span, Points: points, RawPointCount: len(rawPoints)}, nil
}

func decodePathPoint(pm map[string]any, start time.Time) (PathPoint, bool) {
	c, ok := geo.ParseCoordinate(pm["point"])
	if !ok {
		return PathPoint{}, false
	}
	pt := PathPoint{Coord: c, Mode: rawString(pm["mode"])}
	if pt.Mode == "" {
		pt.Mode = "unknown"
	}

	// On-device exports carry an absolute time per point instead of an offset.
	if ts, ok := geo.ParseTimestamp(pm["time"]); ok && pm["durationMinutesOffsetFromStartTime"] == nil {
		pt.Time = ts
		pt.OffsetMinutes = int(ts.Sub(start) / time.Minute)
		pt.OffsetRaw = fmt.Sprint(pt.OffsetMinutes)
		return pt, true
	}

	offset := pm["durationMinutesOffsetFromStartTime"]
	pt.OffsetMinutes = geo.ParseOffsetMinutes(offset)
	pt.OffsetRaw = rawString(offset)
	if pt.OffsetRaw == "" {
		pt.OffsetRaw = "0"
	}
	pt.Time = geo.PointTimestamp(start, offset)
	return pt, true
}

func (p *pass) decodeLegacy(m map[string]any) (Entry, error) {
	tv := m["timestampMs"]
	if tv == nil {
		tv = m["timestamp"]
	}
	ts, ok := geo.ParseTimestamp(tv)
	if !ok {
		return nil, fmt.Errorf("invalid timestamp %v", tv)
	}
	c, ok := geo.ParseCoordinate(m)
	if !ok {
		if s, isStr := m["LatLng"].(string); isStr {
			c, ok = geo.ParseCoordinate(s)
		}
	}
	if !ok {
		return nil, errors.New("legacy point has no valid coordinate")
	}
	if !p.rng.Contains(ts) {
		return nil, errBelowThreshold
	}
	return &LegacyPoint{Time: ts, TimeRaw: rawString(tv), Coord: c}, nil
}

// rawString renders a decoded scalar the way it appeared in the export.
func rawString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
