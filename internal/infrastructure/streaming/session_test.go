package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/infrastructure/peer"
	"syncroom/internal/protocol"
	"syncroom/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferSession_EndToEnd(t *testing.T) {
	src := makeSource(150_000)
	producer, err := NewProducer(src, domain.TierLow, 64)
	require.NoError(t, err)

	hostEnd, guestEnd := peer.NewPipe()

	var received []byte
	var aborted error
	recv := NewReceiveSession(guestEnd, 3, logger.NewNop())
	recv.OnComplete(func(data []byte) { received = data })
	recv.OnAbort(func(err error) { aborted = err })
	require.NoError(t, recv.Start(context.Background(), 0))

	send := NewSendSession(producer, hostEnd, logger.NewNop())
	require.NoError(t, send.Start(context.Background(), 0))

	// The pipe delivers synchronously, so the whole transfer ran inside
	// Start.
	require.NoError(t, aborted)
	require.NotNil(t, received)
	assert.True(t, bytes.Equal(src, received))
}

// corruptingChannel flips a bit in the first chunk frame it relays.
type corruptingChannel struct {
	*peer.Pipe
	corrupted bool
}

func (c *corruptingChannel) Send(data []byte) error {
	env, err := protocol.DecodeEnvelope(data)
	if err == nil && env.Type == protocol.TypeChunk && !c.corrupted {
		c.corrupted = true
		var payload protocol.ChunkPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil && len(payload.Chunk.Data) > 0 {
			payload.Chunk.Data[0] ^= 0xff
			frame, err := protocol.Encode(protocol.TypeChunk, payload)
			if err == nil {
				return c.Pipe.Send(frame)
			}
		}
	}
	return c.Pipe.Send(data)
}

func TestTransferSession_RecoversFromCorruption(t *testing.T) {
	src := makeSource(80_000)
	producer, err := NewProducer(src, domain.TierLow, 64)
	require.NoError(t, err)

	hostEnd, guestEnd := peer.NewPipe()
	flaky := &corruptingChannel{Pipe: hostEnd}

	var received []byte
	recv := NewReceiveSession(guestEnd, 3, logger.NewNop())
	recv.OnComplete(func(data []byte) { received = data })
	require.NoError(t, recv.Start(context.Background(), 0))

	send := NewSendSession(producer, flaky, logger.NewNop())
	require.NoError(t, send.Start(context.Background(), 0))

	require.NotNil(t, received, "transfer completes despite one corrupted chunk")
	assert.True(t, bytes.Equal(src, received))
}

type recordingMetrics struct {
	mu          sync.Mutex
	sent        int
	verified    int
	retransmits int
}

func (m *recordingMetrics) RecordChunkSent(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *recordingMetrics) RecordChunkVerified(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified++
}

func (m *recordingMetrics) RecordRetransmit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retransmits++
}

func (m *recordingMetrics) UpdateTransferStats(tier domain.QualityTier, stats domain.TransferStats) {}

func TestTransferSession_RecordsMetrics(t *testing.T) {
	src := makeSource(60_000)
	producer, err := NewProducer(src, domain.TierLow, 64)
	require.NoError(t, err)

	hostEnd, guestEnd := peer.NewPipe()
	flaky := &corruptingChannel{Pipe: hostEnd}

	sendMetrics := &recordingMetrics{}
	recvMetrics := &recordingMetrics{}

	var received []byte
	recv := NewReceiveSession(guestEnd, 3, logger.NewNop())
	recv.SetMetrics(recvMetrics)
	recv.OnComplete(func(data []byte) { received = data })
	require.NoError(t, recv.Start(context.Background(), 0))

	send := NewSendSession(producer, flaky, logger.NewNop())
	send.SetMetrics(sendMetrics)
	require.NoError(t, send.Start(context.Background(), 0))

	require.NotNil(t, received)
	total := producer.TotalChunks()
	assert.Equal(t, total+1, sendMetrics.sent, "the corrupted chunk was served twice")
	assert.Equal(t, total, recvMetrics.verified)
	assert.Equal(t, 1, recvMetrics.retransmits)
}

func TestReceiveSession_ChunkAfterCloseIsIgnored(t *testing.T) {
	_, guestEnd := peer.NewPipe()

	recv := NewReceiveSession(guestEnd, 3, logger.NewNop())
	require.NoError(t, recv.Start(context.Background(), 0))

	init, err := protocol.Encode(protocol.TypeTransferInit, protocol.TransferInitPayload{
		TotalChunks: 4,
		ChunkSize:   16_384,
		TotalBytes:  50_000,
		Tier:        domain.TierLow,
	})
	require.NoError(t, err)
	recv.handleMessage(init)

	require.NoError(t, recv.Close())

	// The data channel delivers from its own goroutine, so a chunk can
	// still arrive after teardown. It must land quietly.
	frame, err := protocol.Encode(protocol.TypeChunk, protocol.ChunkPayload{
		Chunk: domain.Chunk{Index: 1, Data: []byte{1, 2, 3}, Size: 3, Checksum: "bogus"},
	})
	require.NoError(t, err)
	assert.NotPanics(t, func() { recv.handleMessage(frame) })
}

func TestStatsCollector_Snapshot(t *testing.T) {
	sc := NewStatsCollector()
	sc.RecordChunk(1000, 0)
	sc.RecordChunk(1000, 0)
	sc.RecordRetransmit()

	stats := sc.Snapshot()
	assert.InDelta(t, 1.0/3.0, stats.Loss, 1e-9)
	assert.False(t, stats.Timestamp.IsZero())

	// Window resets after a snapshot.
	stats = sc.Snapshot()
	assert.Zero(t, stats.Loss)
	assert.Zero(t, stats.BandwidthBps)
}
