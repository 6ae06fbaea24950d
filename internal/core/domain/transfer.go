package domain

import "time"

type QualityTier string

const (
	TierLow    QualityTier = "low"
	TierMedium QualityTier = "medium"
	TierHigh   QualityTier = "high"
)

// ChunkSize maps a tier to the chunk size it trades latency against
// per-chunk overhead with. Larger chunks mean fewer round trips.
func (t QualityTier) ChunkSize() int {
	switch t {
	case TierLow:
		return 16 * 1024
	case TierHigh:
		return 256 * 1024
	default:
		return 64 * 1024
	}
}

func (t QualityTier) Valid() bool {
	switch t {
	case TierLow, TierMedium, TierHigh:
		return true
	}
	return false
}

// Lower returns the next smaller tier; TierLow is the floor.
func (t QualityTier) Lower() QualityTier {
	switch t {
	case TierHigh:
		return TierMedium
	default:
		return TierLow
	}
}

// Higher returns the next larger tier; TierHigh is the ceiling.
func (t QualityTier) Higher() QualityTier {
	switch t {
	case TierLow:
		return TierMedium
	default:
		return TierHigh
	}
}

// Chunk is one checksummed slice of a source binary. Chunks are derived on
// demand by slicing the source, never independently persisted.
type Chunk struct {
	Index    int    `json:"index"`
	Data     []byte `json:"data"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum"` // hex SHA-256 of Data
	Last     bool   `json:"last"`
}

// TransferStats is a windowed view of a peer transfer, recomputed on a fixed
// interval. Display and tier selection only, never correctness.
type TransferStats struct {
	BandwidthBps int64
	Latency      time.Duration
	Loss         float64 // retransmit ratio, 0..1
	Timestamp    time.Time
}
