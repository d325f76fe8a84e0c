package timeline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupcshan/daytrace/internal/geo"
)

func mustRange(t *testing.T, from, to string) geo.DateRange {
	t.Helper()
	rng, err := geo.ParseDateRange(from, to)
	require.NoError(t, err)
	return rng
}

func process(t *testing.T, input string, rng geo.DateRange, th Thresholds) *Result {
	t.Helper()
	res, err := NewProcessor(nil).ProcessFile(context.Background(), strings.NewReader(input), rng, th)
	require.NoError(t, err)
	return res
}

const visitJSON = `[{
	"startTime": "2024-06-15T10:00:00Z",
	"endTime": "2024-06-15T11:00:00Z",
	"visit": {
		"probability": "0.9",
		"topCandidate": {
			"placeLocation": "geo:40.712800,-74.006000",
			"placeID": "ChIJ123",
			"semanticType": "Home",
			"probability": "0.8"
		}
	}
}]`

func TestDateFilterKeepsOnlyInRange(t *testing.T) {
	in2024 := process(t, visitJSON, mustRange(t, "2024-01-01", "2024-12-31"), DefaultThresholds())
	require.Len(t, in2024.Entries, 1)

	v, ok := in2024.Entries[0].(*Visit)
	require.True(t, ok)
	assert.Equal(t, geo.Coord{Lat: 40.7128, Lon: -74.006}, v.Place)
	assert.Equal(t, "ChIJ123", v.TopCandidate.PlaceID)
	assert.Equal(t, "Home", v.TopCandidate.SemanticType)
	assert.InDelta(t, 0.8, v.TopCandidate.Probability, 1e-9)
	assert.Equal(t, 1, in2024.Stats.Visits)

	in2025 := process(t, visitJSON, mustRange(t, "2025-01-01", "2025-12-31"), DefaultThresholds())
	assert.Empty(t, in2025.Entries)
	assert.Equal(t, 1, in2025.Stats.TotalEntries)
	assert.Zero(t, in2025.Stats.DateFiltered)
}

func TestPathPointsFilteredIndividually(t *testing.T) {
	input := `[{
		"startTime": "2024-06-30T23:00:00Z",
		"endTime": "2024-07-01T02:00:00Z",
		"timelinePath": [
			{"point": "geo:10.0,10.0", "durationMinutesOffsetFromStartTime": "0"},
			{"point": "geo:10.5,10.5", "durationMinutesOffsetFromStartTime": "90"},
			{"point": "geo:11.0,11.0", "durationMinutesOffsetFromStartTime": "180"}
		]
	}]`

	res := process(t, input, mustRange(t, "2024-06-30", "2024-06-30"), DefaultThresholds())
	require.Len(t, res.Entries, 1)

	path := res.Entries[0].(*TimelinePath)
	require.Len(t, path.Points, 1)
	assert.Equal(t, "0", path.Points[0].OffsetRaw)
	assert.Equal(t, time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC), path.Points[0].Time)
	assert.Equal(t, 3, path.RawPointCount)
}

func TestPathWithNoPointsInRangeIsDropped(t *testing.T) {
	input := `[{
		"startTime": "2024-06-30T23:00:00Z",
		"timelinePath": [{"point": "geo:10.0,10.0", "durationMinutesOffsetFromStartTime": "120"}]
	}]`
	res := process(t, input, mustRange(t, "2024-06-30", "2024-06-30"), DefaultThresholds())
	assert.Empty(t, res.Entries)
	assert.Equal(t, 1, res.Stats.BelowThreshold)
}

func TestActivityThresholds(t *testing.T) {
	input := `[
		{"startTime": "2024-03-01T08:00:00Z", "endTime": "2024-03-01T08:30:00Z",
		 "activity": {"start": "geo:1,1", "end": "geo:1.1,1.1", "distanceMeters": "150"}},
		{"startTime": "2024-03-01T09:00:00Z", "endTime": "2024-03-01T09:30:00Z",
		 "activity": {"start": "geo:1,1", "end": "geo:1.1,1.1", "distanceMeters": 250.7,
		              "topCandidate": {"type": "in passenger vehicle", "probability": "0.7"}, "probability": "0.95"}},
		{"startTime": "2024-03-01T10:00:00Z", "endTime": "2024-03-01T10:30:00Z",
		 "activity": {"start": "geo:1,1", "end": "geo:1.1,1.1"}},
		{"startTime": "2024-03-01T11:00:00Z",
		 "activity": {"start": "geo:1,1", "end": "nowhere", "distanceMeters": "5000"}}
	]`

	res := process(t, input, mustRange(t, "2024-03-01", "2024-03-01"), DefaultThresholds())
	require.Len(t, res.Entries, 1)

	a := res.Entries[0].(*Activity)
	assert.InDelta(t, 250.7, a.DistanceMeters, 1e-9)
	assert.Equal(t, "in passenger vehicle", a.TopCandidate.Type)
	assert.InDelta(t, 0.95, a.Probability, 1e-9)
	assert.Equal(t, 2, res.Stats.BelowThreshold, "short activity and missing distance")
	assert.Equal(t, 1, res.Stats.Malformed, "unparseable endpoint")
}

func TestVisitThresholds(t *testing.T) {
	mk := func(start, end, prob string) string {
		return `{"startTime": "` + start + `", "endTime": "` + end + `",
			"visit": {"probability": "` + prob + `", "topCandidate": {"placeLocation": "geo:1,1"}}}`
	}
	input := "[" + strings.Join([]string{
		mk("2024-03-01T08:00:00Z", "2024-03-01T08:05:00Z", "0.9"), // too short
		mk("2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z", "0.05"), // improbable
		mk("2024-03-01T11:00:00Z", "2024-03-01T12:00:00Z", "0.5"),  // kept
		mk("2024-03-01T13:00:00Z", "later", "0.5"),                 // unparseable end skips the duration check
	}, ",") + "]"

	res := process(t, input, mustRange(t, "2024-03-01", "2024-03-01"), DefaultThresholds())
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "2024-03-01T11:00:00Z", res.Entries[0].SortKey())
	assert.Equal(t, "2024-03-01T13:00:00Z", res.Entries[1].SortKey())
	assert.Equal(t, 2, res.Stats.BelowThreshold)
}

func TestOutputSortedAndMalformedCounted(t *testing.T) {
	input := `[
		{"startTime": "2024-05-02T00:00:00Z", "activity": {"start": "geo:1,1", "end": "geo:2,2", "distanceMeters": "1000"}},
		{"startTime": "not a time", "visit": {}},
		{"hello": "world"},
		{"startTime": "2024-05-01T00:00:00Z", "activity": {"start": "geo:1,1", "end": "geo:2,2", "distanceMeters": "1000"}},
		{"startTime": "2024-05-01T12:00:00Z", "somethingElse": true}
	]`

	res := process(t, input, mustRange(t, "2024-05-01", "2024-05-31"), DefaultThresholds())
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "2024-05-01T00:00:00Z", res.Entries[0].SortKey())
	assert.Equal(t, "2024-05-02T00:00:00Z", res.Entries[1].SortKey())
	assert.Equal(t, 3, res.Stats.Malformed)
	assert.Equal(t, 5, res.Stats.TotalEntries)
	assert.Equal(t, 2, res.Stats.FinalCount)
}

func TestInputShapes(t *testing.T) {
	rng := mustRange(t, "2024-01-01", "2024-12-31")

	t.Run("timelineObjects", func(t *testing.T) {
		res := process(t, `{"timelineObjects": `+visitJSON+`}`, rng, DefaultThresholds())
		assert.Len(t, res.Entries, 1)
	})

	t.Run("legacy locations", func(t *testing.T) {
		input := `{"locations": [
			{"timestampMs": "1718445600000", "latitudeE7": 407128000, "longitudeE7": -740060000},
			{"timestampMs": "1500000000000", "latitudeE7": 407128000, "longitudeE7": -740060000},
			{"timestampMs": "1718445600000"}
		]}`
		res := process(t, input, rng, DefaultThresholds())
		require.Len(t, res.Entries, 1)
		lp := res.Entries[0].(*LegacyPoint)
		assert.InDelta(t, 40.7128, lp.Coord.Lat, 1e-9)
		assert.Equal(t, time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC), lp.Time)
		assert.Equal(t, 1, res.Stats.LegacyPoints)
		assert.Equal(t, 1, res.Stats.Malformed)
	})

	t.Run("semantic segments and raw signals", func(t *testing.T) {
		input := `{
			"semanticSegments": [{
				"startTime": "2024-06-15T10:00:00.000+00:00",
				"endTime": "2024-06-15T12:00:00.000+00:00",
				"visit": {"probability": 0.8, "topCandidate": {"placeLocation": {"latLng": "37.422°, -122.084°"}}}
			}, {
				"startTime": "2024-06-15T12:00:00.000+00:00",
				"endTime": "2024-06-15T13:00:00.000+00:00",
				"timelinePath": [
					{"point": "37.422°, -122.084°", "time": "2024-06-15T12:00:00.000+00:00"},
					{"point": "37.500°, -122.200°", "time": "2024-06-15T12:30:00.000+00:00"}
				]
			}],
			"rawSignals": [
				{"position": {"LatLng": "37.4°, -122.0°", "timestamp": "2024-06-15T14:00:00.000+00:00"}},
				{"wifiScan": {}}
			]
		}`
		res := process(t, input, rng, DefaultThresholds())
		require.Len(t, res.Entries, 3)
		assert.Equal(t, 1, res.Stats.Visits)
		assert.Equal(t, 1, res.Stats.TimelinePaths)
		assert.Equal(t, 1, res.Stats.LegacyPoints)

		path := res.Entries[1].(*TimelinePath)
		require.Len(t, path.Points, 2)
		assert.Equal(t, 30, path.Points[1].OffsetMinutes)
	})

	t.Run("single object", func(t *testing.T) {
		input := `{"startTime": "2024-06-15T10:00:00Z", "activity": {"start": "geo:1,1", "end": "geo:2,2", "distanceMeters": "500"}}`
		res := process(t, input, rng, DefaultThresholds())
		assert.Len(t, res.Entries, 1)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewProcessor(nil).ProcessFile(context.Background(), strings.NewReader(`"just a string"`), rng, DefaultThresholds())
		require.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := NewProcessor(nil).ProcessFile(context.Background(), strings.NewReader(`[{`), rng, DefaultThresholds())
		require.Error(t, err)
	})
}

func TestProcessFileHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProcessor(nil).ProcessFile(ctx, strings.NewReader(visitJSON), mustRange(t, "2024-01-01", "2024-12-31"), DefaultThresholds())
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessFileRejectsBadThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.Probability = 1.5
	_, err := NewProcessor(nil).ProcessFile(context.Background(), strings.NewReader(visitJSON), mustRange(t, "2024-01-01", "2024-12-31"), th)
	require.Error(t, err)
}

func TestProgressMessages(t *testing.T) {
	var msgs []string
	p := NewProcessor(func(m string) { msgs = append(msgs, m) })
	_, err := p.ProcessFile(context.Background(), strings.NewReader(visitJSON), mustRange(t, "2024-01-01", "2024-12-31"), DefaultThresholds())
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Loaded 1 total entries", msgs[0])
}

func TestParsedRoundTrip(t *testing.T) {
	input := `[
		{"startTime": "2024-06-15T08:00:00Z", "endTime": "2024-06-15T09:00:00Z",
		 "activity": {"start": "geo:40.7128,-74.006", "end": "geo:40.8,-74.1", "distanceMeters": "12000.9",
		              "topCandidate": {"type": "cycling", "probability": 0.6}, "probability": 0.9}},
		` + strings.Trim(visitJSON, "[]") + `,
		{"startTime": "2024-06-15T12:00:00Z", "timelinePath": [
			{"point": "geo:40.0,-74.0", "durationMinutesOffsetFromStartTime": "0", "mode": "walking"},
			{"point": "geo:40.1,-74.0", "durationMinutesOffsetFromStartTime": "10"}
		]}
	]`
	rng := mustRange(t, "2024-06-01", "2024-06-30")
	res := process(t, input, rng, DefaultThresholds())
	require.Len(t, res.Entries, 3)

	var buf bytes.Buffer
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteParsed(&buf, res.Entries, NewMetadata(res, now)))
	assert.Contains(t, buf.String(), `"distanceMeters": "12000"`)
	assert.Contains(t, buf.String(), `"placeLocation": "geo:40.712800,-74.006000"`)
	assert.Contains(t, buf.String(), `"mode": "unknown"`)
	assert.Contains(t, buf.String(), `"isParsed": true`)

	loaded, err := NewProcessor(nil).Load(context.Background(), &buf)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 3)
	require.NotNil(t, loaded.Metadata)
	assert.Equal(t, "2024-06-01", loaded.Metadata.DateRange.From)
	assert.Equal(t, rng, loaded.Range)
	assert.Equal(t, DefaultThresholds(), loaded.Thresholds)
	assert.Equal(t, 3, loaded.Metadata.Statistics.FinalCount)
	assert.Equal(t, Coordinates(res.Entries), Coordinates(loaded.Entries))
}

func TestWriteStandardIsBareArray(t *testing.T) {
	res := process(t, visitJSON, mustRange(t, "2024-01-01", "2024-12-31"), DefaultThresholds())
	var buf bytes.Buffer
	require.NoError(t, WriteStandard(&buf, res.Entries))
	out := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(out, "["))
	assert.Contains(t, out, `"probability": "0.9"`)
	assert.Contains(t, out, `"semanticType": "Home"`)
}

func TestParsedFilename(t *testing.T) {
	name := ParsedFilename(mustRange(t, "2024-01-01", "2024-12-31"), DefaultThresholds())
	assert.Equal(t, "01-01-24__12-31-24_parsed_200_0.1_600.json", name)
}

func TestCoordinatesDeduplicates(t *testing.T) {
	a := geo.Coord{Lat: 1, Lon: 1}
	b := geo.Coord{Lat: 2, Lon: 2}
	entries := []Entry{
		&Activity{From: a, To: b},
		&Visit{Place: a},
		&TimelinePath{Points: []PathPoint{{Coord: b}, {Coord: geo.Coord{Lat: 3, Lon: 3}}}},
	}
	assert.Equal(t, []geo.Coord{a, b, {Lat: 3, Lon: 3}}, Coordinates(entries))
}
