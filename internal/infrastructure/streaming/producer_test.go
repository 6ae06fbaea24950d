package streaming

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"syncroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSource(n int) []byte {
	src := make([]byte, n)
	for i := range src {
		src[i] = byte(i * 31)
	}
	return src
}

func TestProducer_SliceGeometry(t *testing.T) {
	src := makeSource(10_000_000)
	p, err := NewProducer(src, domain.TierMedium, 64)
	require.NoError(t, err)
	require.NoError(t, p.Slice(context.Background()))

	// 10_000_000 / 65_536 rounds up to 153 chunks.
	assert.Equal(t, 153, p.TotalChunks())
	assert.Equal(t, 65_536, p.ChunkSize())
	assert.Equal(t, int64(10_000_000), p.TotalBytes())

	last, err := p.Chunk(152)
	require.NoError(t, err)
	assert.Equal(t, 10_000_000-152*65_536, last.Size)
	assert.True(t, last.Last)

	first, err := p.Chunk(0)
	require.NoError(t, err)
	assert.Equal(t, 65_536, first.Size)
	assert.False(t, first.Last)
}

func TestProducer_ChunksReassembleToSource(t *testing.T) {
	src := makeSource(300_000)
	p, err := NewProducer(src, domain.TierLow, 64)
	require.NoError(t, err)
	require.NoError(t, p.Slice(context.Background()))

	var out bytes.Buffer
	lastFlags := 0
	for i := 0; i < p.TotalChunks(); i++ {
		chunk, err := p.Chunk(i)
		require.NoError(t, err)

		sum := sha256.Sum256(chunk.Data)
		assert.Equal(t, hex.EncodeToString(sum[:]), chunk.Checksum)

		if chunk.Last {
			lastFlags++
		}
		out.Write(chunk.Data)
	}

	assert.Equal(t, 1, lastFlags, "exactly one chunk carries the last flag")
	assert.True(t, bytes.Equal(src, out.Bytes()))
}

func TestProducer_SetTierReslices(t *testing.T) {
	src := makeSource(1_000_000)
	p, err := NewProducer(src, domain.TierMedium, 64)
	require.NoError(t, err)
	require.NoError(t, p.Slice(context.Background()))
	medium := p.TotalChunks()

	require.NoError(t, p.SetTier(context.Background(), domain.TierHigh))
	assert.Equal(t, 256*1024, p.ChunkSize())
	assert.Less(t, p.TotalChunks(), medium)

	require.NoError(t, p.SetTier(context.Background(), domain.TierLow))
	assert.Equal(t, 16*1024, p.ChunkSize())
	assert.Greater(t, p.TotalChunks(), medium)
}

func TestProducer_SliceCancelled(t *testing.T) {
	src := makeSource(5_000_000)
	p, err := NewProducer(src, domain.TierLow, 8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Slice(ctx), context.Canceled)
}

func TestProducer_ChunkOutOfRange(t *testing.T) {
	p, err := NewProducer(makeSource(1024), domain.TierLow, 64)
	require.NoError(t, err)

	_, err = p.Chunk(0)
	assert.Error(t, err, "chunk before slicing")

	require.NoError(t, p.Slice(context.Background()))
	_, err = p.Chunk(-1)
	assert.Error(t, err)
	_, err = p.Chunk(1)
	assert.Error(t, err)
}

func TestProducer_EmptySource(t *testing.T) {
	p, err := NewProducer(nil, domain.TierMedium, 64)
	require.NoError(t, err)
	require.NoError(t, p.Slice(context.Background()))
	assert.Equal(t, 0, p.TotalChunks())
}

func TestNewProducer_InvalidTier(t *testing.T) {
	_, err := NewProducer(makeSource(10), domain.QualityTier("ultra"), 64)
	assert.Error(t, err)
}
