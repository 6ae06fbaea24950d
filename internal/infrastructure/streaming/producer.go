package streaming

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"

	"syncroom/internal/core/domain"
)

// Producer slices a source binary into checksummed chunks for transfer. The
// source is held whole; chunks reference it by offset and are materialized on
// demand, so re-slicing at a different tier costs one checksum pass and no
// data copies.
type Producer struct {
	source     []byte
	tier       domain.QualityTier
	sliceBatch int

	checksums []string
	chunkSize int

	mu sync.RWMutex
}

// NewProducer wraps source for slicing at the given tier. sliceBatch bounds
// how many chunks are checksummed between scheduler yields.
func NewProducer(source []byte, tier domain.QualityTier, sliceBatch int) (*Producer, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("unknown quality tier: %s", tier)
	}
	if sliceBatch <= 0 {
		sliceBatch = 64
	}
	return &Producer{
		source:     source,
		tier:       tier,
		sliceBatch: sliceBatch,
	}, nil
}

// Slice computes chunk boundaries and checksums for the current tier. Long
// sources yield to the scheduler between batches so slicing never starves
// the coordination loop.
func (p *Producer) Slice(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sliceLocked(ctx)
}

func (p *Producer) sliceLocked(ctx context.Context) error {
	chunkSize := p.tier.ChunkSize()
	total := (len(p.source) + chunkSize - 1) / chunkSize

	checksums := make([]string, total)
	for i := 0; i < total; i++ {
		if i > 0 && i%p.sliceBatch == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
		start := i * chunkSize
		end := start + chunkSize
		if end > len(p.source) {
			end = len(p.source)
		}
		sum := sha256.Sum256(p.source[start:end])
		checksums[i] = hex.EncodeToString(sum[:])
	}

	p.checksums = checksums
	p.chunkSize = chunkSize
	return nil
}

// SetTier re-slices the source at a different tier. In-flight consumers keep
// requesting against the old geometry until they restart the transfer.
func (p *Producer) SetTier(ctx context.Context, tier domain.QualityTier) error {
	if !tier.Valid() {
		return fmt.Errorf("unknown quality tier: %s", tier)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tier == p.tier && p.checksums != nil {
		return nil
	}
	p.tier = tier
	return p.sliceLocked(ctx)
}

// Chunk materializes the chunk at index. The returned Data shares the
// source's backing array and must be treated as read-only.
func (p *Producer) Chunk(index int) (domain.Chunk, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.checksums == nil {
		return domain.Chunk{}, fmt.Errorf("source not sliced yet")
	}
	if index < 0 || index >= len(p.checksums) {
		return domain.Chunk{}, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.checksums))
	}

	start := index * p.chunkSize
	end := start + p.chunkSize
	if end > len(p.source) {
		end = len(p.source)
	}
	data := p.source[start:end]

	return domain.Chunk{
		Index:    index,
		Data:     data,
		Size:     len(data),
		Checksum: p.checksums[index],
		Last:     index == len(p.checksums)-1,
	}, nil
}

func (p *Producer) TotalChunks() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.checksums)
}

func (p *Producer) TotalBytes() int64 {
	return int64(len(p.source))
}

func (p *Producer) Tier() domain.QualityTier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tier
}

func (p *Producer) ChunkSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chunkSize
}
