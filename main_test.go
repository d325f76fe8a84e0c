package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/anupcshan/daytrace/internal/geocode"
)

const history = `[
  {"startTime": "2024-06-01T18:00:00Z", "endTime": "2024-06-01T19:00:00Z",
   "visit": {"probability": "0.9", "topCandidate": {"placeLocation": "geo:37.770000,-122.420000", "probability": "0.8"}}},
  {"startTime": "2024-06-01T22:00:00Z", "endTime": "2024-06-01T23:00:00Z",
   "visit": {"probability": "0.9", "topCandidate": {"placeLocation": "geo:37.800000,-122.270000", "probability": "0.8"}}},
  {"startTime": "2024-07-03T20:00:00Z", "endTime": "2024-07-03T22:00:00Z",
   "visit": {"probability": "0.9", "topCandidate": {"placeLocation": "geo:39.530000,-119.810000", "probability": "0.8"}}}
]`

// setup isolates config and cache lookups and writes the sample export.
func setup(t *testing.T) (dir, input string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("DAYTRACE_CONFIG", "")
	t.Setenv("DAYTRACE_GEOCODING_API_KEY", "")
	t.Setenv("DAYTRACE_LOGGING_LEVEL", "disabled")

	input = filepath.Join(dir, "history.json")
	require.NoError(t, os.WriteFile(input, []byte(history), 0644))
	return dir, input
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// geoapify serves reverse geocoding answers keyed by latitude. status
// overrides the response code when non-zero.
func geoapify(t *testing.T, status int) *httptest.Server {
	t.Helper()
	cities := map[string]string{"37.77": "San Francisco", "37.8": "Oakland", "39.53": "Reno"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		city := cities[r.URL.Query().Get("lat")]
		fmt.Fprintf(w, `{"features":[{"properties":{"name":%q,"city":%q,"state":"California","country":"United States"}}]}`, city, city)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("DAYTRACE_GEOCODING_API_KEY", "test-key")
	t.Setenv("DAYTRACE_GEOCODING_BASE_URL", srv.URL)
	t.Setenv("DAYTRACE_GEOCODING_RETRY_BACKOFF", "1ms")
	return srv
}

func TestProcessCommand(t *testing.T) {
	dir, input := setup(t)
	out := filepath.Join(dir, "parsed.json")

	_, err := execute(t, "process", "--input", input, "--from", "2024-06-01", "--to", "2024-06-30", "--out", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc struct {
		Metadata struct {
			IsParsed  bool `json:"isParsed"`
			DateRange struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"dateRange"`
		} `json:"_metadata"`
		TimelineObjects []json.RawMessage `json:"timelineObjects"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.True(t, doc.Metadata.IsParsed)
	assert.Equal(t, "2024-06-01", doc.Metadata.DateRange.From)
	assert.Equal(t, "2024-06-30", doc.Metadata.DateRange.To)
	assert.Len(t, doc.TimelineObjects, 2)
}

func TestProcessRejectsHalfRange(t *testing.T) {
	_, input := setup(t)
	_, err := execute(t, "process", "--input", input, "--from", "2024-06-01", "--out", "-")
	assert.Error(t, err)
}

func TestGeocodeThenSummary(t *testing.T) {
	_, input := setup(t)
	geoapify(t, 0)

	out, err := execute(t, "geocode", "--input", input)
	require.NoError(t, err)
	assert.Contains(t, out, "Geocoded 3 of 3 coordinates")

	out, err = execute(t, "cache", "stats")
	require.NoError(t, err)
	var stats geocode.CacheSummary
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Places)

	out, err = execute(t, "summary", "--input", input, "--format", "yaml")
	require.NoError(t, err)
	var report struct {
		Totals []struct {
			Place struct {
				City string `yaml:"city"`
			} `yaml:"place"`
			Days float64 `yaml:"days"`
		} `yaml:"totals"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	require.Len(t, report.Totals, 3)
	assert.Equal(t, "Reno", report.Totals[0].Place.City)
	assert.Equal(t, 1.0, report.Totals[0].Days)

	_, err = execute(t, "cache", "clear")
	require.NoError(t, err)
	out, err = execute(t, "cache", "stats")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.Entries)
}

func TestGeocodeRequiresAPIKey(t *testing.T) {
	_, input := setup(t)
	_, err := execute(t, "geocode", "--input", input)
	assert.ErrorIs(t, err, errGeocodingDisabled)
	assert.Equal(t, 1, exitCode(err))
}

func TestRunStopsWithExitCodeTwo(t *testing.T) {
	_, input := setup(t)
	geoapify(t, http.StatusUnauthorized)

	out, err := execute(t, "run", "--input", input)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	var report struct {
		Stopped    bool   `json:"stopped"`
		StopReason string `json:"stop_reason"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Stopped)
	assert.Contains(t, report.StopReason, "401")
}

func TestRunCommand(t *testing.T) {
	_, input := setup(t)
	geoapify(t, 0)

	out, err := execute(t, "--user", "alice", "run", "--input", input, "--from", "2024-06-01", "--to", "2024-06-30", "--group-by", "state")
	require.NoError(t, err)

	var report struct {
		RunID       string `json:"run_id"`
		Coordinates int    `json:"coordinates"`
		Geocoded    int    `json:"geocoded"`
		Summary     struct {
			GroupBy string `json:"group_by"`
			Totals  []struct {
				Days float64 `json:"days"`
			} `json:"totals"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Coordinates)
	assert.Equal(t, 2, report.Geocoded)
	assert.Equal(t, "state", report.Summary.GroupBy)
	require.Len(t, report.Summary.Totals, 1)
	assert.Equal(t, 1.0, report.Summary.Totals[0].Days)

	// The default user's cache was not touched.
	out, err = execute(t, "cache", "stats")
	require.NoError(t, err)
	var stats geocode.CacheSummary
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.Entries)
}

func TestRouteCommand(t *testing.T) {
	_, input := setup(t)

	out, err := execute(t, "route", "--input", input)
	require.NoError(t, err)

	var route struct {
		Stats struct {
			Points int `json:"points"`
		} `json:"stats"`
		Days  []json.RawMessage `json:"days"`
		Steps []json.RawMessage `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &route))
	assert.Equal(t, 3, route.Stats.Points)
	assert.Len(t, route.Days, 2)
	assert.Len(t, route.Steps, 3)
}

func TestRunWritesMetricsFile(t *testing.T) {
	dir, input := setup(t)
	geoapify(t, 0)
	metricsPath := filepath.Join(dir, "daytrace.prom")

	_, err := execute(t, "run", "--input", input, "--metrics-file", metricsPath)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `daytrace_geocode_requests_total{outcome="success",provider="Geoapify"}`)
	assert.Contains(t, string(data), "daytrace_geocode_batch_duration_seconds")
}

func TestRunInterruptWritesPartialReport(t *testing.T) {
	_, input := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(cancel)
		fmt.Fprint(w, `{"features":[{"properties":{"city":"Somewhere","state":"Nevada","country":"United States"}}]}`)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("DAYTRACE_GEOCODING_API_KEY", "test-key")
	t.Setenv("DAYTRACE_GEOCODING_BASE_URL", srv.URL)
	t.Setenv("DAYTRACE_GEOCODING_BATCH_SIZE", "1")
	t.Setenv("DAYTRACE_GEOCODING_BATCH_PAUSE", "5s")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"run", "--input", input})
	require.NoError(t, cmd.ExecuteContext(ctx))

	var report struct {
		Cancelled bool `json:"cancelled"`
		Geocoded  int  `json:"geocoded"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Geocoded)
}

func TestRouteAutoSimplify(t *testing.T) {
	_, input := setup(t)

	out, err := execute(t, "route", "--input", input, "--simplify", "auto")
	require.NoError(t, err)
	assert.Contains(t, out, `"points": 3`)

	_, err = execute(t, "route", "--input", input, "--simplify", "fine")
	assert.ErrorContains(t, err, "invalid --simplify")
}
