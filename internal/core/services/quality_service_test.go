package services

import (
	"testing"
	"time"

	"syncroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestDetermineOptimalTier(t *testing.T) {
	qs := NewQualityService()

	tests := []struct {
		name     string
		stats    domain.TransferStats
		expected domain.QualityTier
	}{
		{
			name: "fast link gets high",
			stats: domain.TransferStats{
				BandwidthBps: 5_000_000,
				Latency:      20 * time.Millisecond,
				Loss:         0.0,
			},
			expected: domain.TierHigh,
		},
		{
			name: "moderate link gets medium",
			stats: domain.TransferStats{
				BandwidthBps: 1_500_000,
				Latency:      150 * time.Millisecond,
				Loss:         0.02,
			},
			expected: domain.TierMedium,
		},
		{
			name: "lossy link gets low",
			stats: domain.TransferStats{
				BandwidthBps: 1_500_000,
				Latency:      150 * time.Millisecond,
				Loss:         0.2,
			},
			expected: domain.TierLow,
		},
		{
			name: "slow link gets low",
			stats: domain.TransferStats{
				BandwidthBps: 200_000,
				Latency:      400 * time.Millisecond,
				Loss:         0.0,
			},
			expected: domain.TierLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, qs.DetermineOptimalTier(tt.stats))
		})
	}
}

func TestShouldDowngrade(t *testing.T) {
	qs := NewQualityService()

	degraded := domain.TransferStats{
		BandwidthBps: 1_000_000,
		Latency:      300 * time.Millisecond,
		Loss:         0.1,
	}
	assert.True(t, qs.ShouldDowngrade(domain.TierHigh, degraded))
	assert.False(t, qs.ShouldDowngrade(domain.TierLow, degraded), "low tier has nowhere to go")

	healthy := domain.TransferStats{
		BandwidthBps: 3_000_000,
		Latency:      50 * time.Millisecond,
		Loss:         0.001,
	}
	assert.False(t, qs.ShouldDowngrade(domain.TierHigh, healthy))
}

func TestShouldUpgrade(t *testing.T) {
	qs := NewQualityService()

	comfortable := domain.TransferStats{
		BandwidthBps: 4_000_000,
		Latency:      40 * time.Millisecond,
		Loss:         0.0,
	}
	assert.True(t, qs.ShouldUpgrade(domain.TierMedium, comfortable))
	assert.True(t, qs.ShouldUpgrade(domain.TierLow, comfortable))
	assert.False(t, qs.ShouldUpgrade(domain.TierHigh, comfortable), "high tier has no upgrade")

	// Barely meeting the next tier is not enough to switch.
	marginal := domain.TransferStats{
		BandwidthBps: 2_500_000,
		Latency:      100 * time.Millisecond,
		Loss:         0.01,
	}
	assert.False(t, qs.ShouldUpgrade(domain.TierMedium, marginal))
}
