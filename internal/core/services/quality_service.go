package services

import (
	"time"

	"syncroom/internal/core/domain"
)

// QualityService maps transfer statistics to a chunk-size tier. Tier
// decisions only affect how the source is re-sliced; they never affect
// transfer correctness.
type QualityService struct {
	thresholds map[domain.QualityTier]domain.TransferStats
}

func NewQualityService() *QualityService {
	return &QualityService{
		thresholds: map[domain.QualityTier]domain.TransferStats{
			domain.TierHigh: {
				BandwidthBps: 2_500_000,
				Latency:      100 * time.Millisecond,
				Loss:         0.01,
			},
			domain.TierMedium: {
				BandwidthBps: 1_000_000,
				Latency:      200 * time.Millisecond,
				Loss:         0.05,
			},
			domain.TierLow: {
				BandwidthBps: 0,
				Latency:      time.Hour,
				Loss:         1.0,
			},
		},
	}
}

// DetermineOptimalTier picks the highest tier whose thresholds the measured
// stats meet.
func (qs *QualityService) DetermineOptimalTier(stats domain.TransferStats) domain.QualityTier {
	if qs.meets(stats, qs.thresholds[domain.TierHigh]) {
		return domain.TierHigh
	}
	if qs.meets(stats, qs.thresholds[domain.TierMedium]) {
		return domain.TierMedium
	}
	return domain.TierLow
}

func (qs *QualityService) meets(stats, threshold domain.TransferStats) bool {
	return stats.BandwidthBps >= threshold.BandwidthBps &&
		stats.Latency <= threshold.Latency &&
		stats.Loss <= threshold.Loss
}

// ShouldDowngrade reports whether the link has degraded well below the
// current tier's thresholds. The 0.8/2x margins keep the tier from
// flapping on noise.
func (qs *QualityService) ShouldDowngrade(current domain.QualityTier, stats domain.TransferStats) bool {
	if current == domain.TierLow {
		return false
	}
	threshold := qs.thresholds[current]
	return float64(stats.BandwidthBps) < float64(threshold.BandwidthBps)*0.8 ||
		stats.Loss > threshold.Loss*2 ||
		float64(stats.Latency) > float64(threshold.Latency)*1.5
}

// ShouldUpgrade reports whether the link comfortably exceeds the next
// tier's thresholds.
func (qs *QualityService) ShouldUpgrade(current domain.QualityTier, stats domain.TransferStats) bool {
	if current == domain.TierHigh {
		return false
	}

	next := domain.TierMedium
	if current == domain.TierMedium {
		next = domain.TierHigh
	}

	threshold := qs.thresholds[next]
	return float64(stats.BandwidthBps) >= float64(threshold.BandwidthBps)*1.2 &&
		stats.Loss <= threshold.Loss*0.8 &&
		float64(stats.Latency) <= float64(threshold.Latency)*0.8
}
