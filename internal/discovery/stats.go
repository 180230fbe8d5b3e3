package discovery

import (
	"maps"
	"sync"
	"time"
)

// Stats accumulates per-attempt request counters for one Client. It is safe
// for concurrent use; readers take a Snapshot.
type Stats struct {
	mu           sync.Mutex
	total        int
	successful   int
	failed       int
	statusCodes  map[int]int
	totalLatency time.Duration
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	TotalRequests      int           `json:"total_requests"`
	SuccessfulRequests int           `json:"successful_requests"`
	FailedRequests     int           `json:"failed_requests"`
	StatusCodes        map[int]int   `json:"status_codes"`
	TotalLatency       time.Duration `json:"total_latency"`
	AverageLatency     time.Duration `json:"avg_latency"`
}

// SuccessRate is the fraction of attempts that succeeded, or 0 with no traffic.
func (s StatsSnapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

func newStats() *Stats {
	return &Stats{statusCodes: make(map[int]int)}
}

// record counts one attempt. status is 0 when no response was received.
func (s *Stats) record(status int, latency time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if ok {
		s.successful++
	} else {
		s.failed++
	}
	if status != 0 {
		s.statusCodes[status]++
	}
	s.totalLatency += latency
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		TotalRequests:      s.total,
		SuccessfulRequests: s.successful,
		FailedRequests:     s.failed,
		StatusCodes:        maps.Clone(s.statusCodes),
		TotalLatency:       s.totalLatency,
	}
	if s.total > 0 {
		snap.AverageLatency = s.totalLatency / time.Duration(s.total)
	}
	return snap
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total, s.successful, s.failed = 0, 0, 0
	s.statusCodes = make(map[int]int)
	s.totalLatency = 0
}
