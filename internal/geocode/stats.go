package geocode

import (
	"fmt"
	"sync"
)

// Stats counts geocoding activity. All methods are safe for concurrent use.
type Stats struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	CacheHits                 int `json:"cache_hits"`
	APICalls                  int `json:"api_calls"`
	SuccessfulGeocodes        int `json:"successful_geocodes"`
	Errors                    int `json:"errors"`
	APIFailures               int `json:"api_failures"`
	BatchRequests             int `json:"batch_requests"`
	TotalCoordinatesInBatches int `json:"total_coordinates_in_batches"`
	WaterCacheHits            int `json:"water_cache_hits"`
	WaterAPICalls             int `json:"water_api_calls"`
	WaterErrors               int `json:"water_errors"`
}

// AverageBatchSize is the mean number of coordinates per batch.
func (s StatsSnapshot) AverageBatchSize() float64 {
	if s.BatchRequests == 0 {
		return 0
	}
	return float64(s.TotalCoordinatesInBatches) / float64(s.BatchRequests)
}

func (st *Stats) update(fn func(s *StatsSnapshot)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}

func (st *Stats) RecordCacheHit(water bool) {
	st.update(func(s *StatsSnapshot) {
		if water {
			s.WaterCacheHits++
		} else {
			s.CacheHits++
		}
	})
}

func (st *Stats) RecordAPICall(water bool) {
	st.update(func(s *StatsSnapshot) {
		if water {
			s.WaterAPICalls++
		} else {
			s.APICalls++
		}
	})
}

func (st *Stats) RecordError(water bool) {
	st.update(func(s *StatsSnapshot) {
		if water {
			s.WaterErrors++
		} else {
			s.Errors++
		}
	})
}

func (st *Stats) RecordSuccess() {
	st.update(func(s *StatsSnapshot) { s.SuccessfulGeocodes++ })
}

func (st *Stats) RecordAPIFailure() {
	st.update(func(s *StatsSnapshot) { s.APIFailures++ })
}

func (st *Stats) RecordBatch(coordinates int) {
	st.update(func(s *StatsSnapshot) {
		s.BatchRequests++
		s.TotalCoordinatesInBatches += coordinates
	})
}

// Snapshot returns a consistent copy of the counters.
func (st *Stats) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Summary renders the counters as human-readable lines. Only measured
// values are reported.
func (s StatsSnapshot) Summary() []string {
	lines := []string{
		fmt.Sprintf("Cache hits: %d", s.CacheHits),
		fmt.Sprintf("API calls: %d", s.APICalls),
		fmt.Sprintf("Successful geocodes: %d", s.SuccessfulGeocodes),
		fmt.Sprintf("Errors: %d", s.Errors),
	}
	if s.APIFailures > 0 {
		lines = append(lines, fmt.Sprintf("Fatal API failures: %d", s.APIFailures))
	}
	if s.BatchRequests > 0 {
		lines = append(lines, fmt.Sprintf("Batches: %d (avg %.1f coordinates)", s.BatchRequests, s.AverageBatchSize()))
	}
	if s.WaterCacheHits+s.WaterAPICalls+s.WaterErrors > 0 {
		lines = append(lines, fmt.Sprintf("Water checks: %d cached, %d looked up, %d errors",
			s.WaterCacheHits, s.WaterAPICalls, s.WaterErrors))
	}
	return lines
}
