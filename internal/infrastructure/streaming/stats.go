package streaming

import (
	"sync"
	"time"

	"syncroom/internal/core/domain"
)

// StatsCollector accumulates transfer measurements over a window. Snapshot
// drains the window; callers sample it on a fixed interval.
type StatsCollector struct {
	windowStart time.Time
	bytes       int64
	chunks      int
	retransmits int
	latencySum  time.Duration
	latencyN    int

	mu sync.Mutex
}

func NewStatsCollector() *StatsCollector {
	return &StatsCollector{windowStart: time.Now()}
}

// RecordChunk counts one delivered chunk and its request round trip.
func (sc *StatsCollector) RecordChunk(size int, latency time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.bytes += int64(size)
	sc.chunks++
	if latency > 0 {
		sc.latencySum += latency
		sc.latencyN++
	}
}

// RecordRetransmit counts one chunk that had to be requested again.
func (sc *StatsCollector) RecordRetransmit() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.retransmits++
}

// Snapshot computes stats over the elapsed window and resets it.
func (sc *StatsCollector) Snapshot() domain.TransferStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(sc.windowStart)

	stats := domain.TransferStats{Timestamp: now}
	if elapsed > 0 {
		stats.BandwidthBps = int64(float64(sc.bytes) / elapsed.Seconds())
	}
	if sc.latencyN > 0 {
		stats.Latency = sc.latencySum / time.Duration(sc.latencyN)
	}
	if attempts := sc.chunks + sc.retransmits; attempts > 0 {
		stats.Loss = float64(sc.retransmits) / float64(attempts)
	}

	sc.windowStart = now
	sc.bytes = 0
	sc.chunks = 0
	sc.retransmits = 0
	sc.latencySum = 0
	sc.latencyN = 0

	return stats
}
