package cache

import (
	"sync/atomic"
	"time"
)

// stats счётчики, общие для всех реализаций кэша
type stats struct {
	requests atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	pending  atomic.Int64

	latencySum   atomic.Int64 // в наносекундах
	latencyCount atomic.Int64
	maxLatency   atomic.Int64
}

func (s *stats) hit() {
	s.requests.Add(1)
	s.hits.Add(1)
}

func (s *stats) miss() {
	s.requests.Add(1)
	s.misses.Add(1)
}

// observe записывает длительность операции, начатой в start
func (s *stats) observe(start time.Time) {
	latency := time.Since(start).Nanoseconds()
	s.latencySum.Add(latency)
	s.latencyCount.Add(1)

	for {
		current := s.maxLatency.Load()
		if latency <= current || s.maxLatency.CompareAndSwap(current, latency) {
			return
		}
	}
}

func (s *stats) snapshot(totalKeys int64) *CacheMetrics {
	m := &CacheMetrics{
		TotalRequests: s.requests.Load(),
		CacheHits:     s.hits.Load(),
		CacheMisses:   s.misses.Load(),
		TotalKeys:     totalKeys,
		PendingWrites: s.pending.Load(),
		MaxLatencyMs:  float64(s.maxLatency.Load()) / 1e6,
		LastUpdate:    time.Now(),
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(m.TotalRequests)
	}
	if n := s.latencyCount.Load(); n > 0 {
		m.AvgLatencyMs = float64(s.latencySum.Load()) / float64(n) / 1e6
	}
	return m
}
