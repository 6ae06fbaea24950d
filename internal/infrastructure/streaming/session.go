package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"go.uber.org/zap"
)

// Channel is the ordered, reliable byte channel a transfer session runs
// over. The peer package provides the production implementation.
type Channel interface {
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	Close() error
}

// Metrics receives transfer counters from the sessions. The monitoring
// collector satisfies it; all methods must be safe for concurrent use.
type Metrics interface {
	RecordChunkSent(size int)
	RecordChunkVerified(latency time.Duration)
	RecordRetransmit()
	UpdateTransferStats(tier domain.QualityTier, stats domain.TransferStats)
}

// SendSession serves a sliced source over a peer channel. The consumer
// drives the transfer: this side only answers chunk requests.
type SendSession struct {
	producer *Producer
	ch       Channel
	stats    *StatsCollector
	metrics  Metrics
	logger   *zap.SugaredLogger

	onStats func(domain.TransferStats)

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewSendSession(producer *Producer, ch Channel, logger *zap.SugaredLogger) *SendSession {
	return &SendSession{
		producer: producer,
		ch:       ch,
		stats:    NewStatsCollector(),
		logger:   logger,
	}
}

// OnStats registers a sink for windowed transfer stats. Must be called
// before Start.
func (s *SendSession) OnStats(fn func(domain.TransferStats)) {
	s.onStats = fn
}

// SetMetrics attaches a transfer metrics sink. Must be called before Start.
func (s *SendSession) SetMetrics(m Metrics) {
	s.metrics = m
}

// Start slices the source if needed, announces the transfer geometry and
// begins answering chunk requests.
func (s *SendSession) Start(ctx context.Context, statsInterval time.Duration) error {
	if s.producer.TotalChunks() == 0 {
		if err := s.producer.Slice(ctx); err != nil {
			return fmt.Errorf("slice source: %w", err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.ch.OnMessage(func(data []byte) {
		s.handleMessage(data)
	})

	init := protocol.TransferInitPayload{
		TotalChunks: s.producer.TotalChunks(),
		ChunkSize:   s.producer.ChunkSize(),
		TotalBytes:  s.producer.TotalBytes(),
		Tier:        s.producer.Tier(),
	}
	frame, err := protocol.Encode(protocol.TypeTransferInit, init)
	if err != nil {
		return err
	}
	if err := s.ch.Send(frame); err != nil {
		return fmt.Errorf("announce transfer: %w", err)
	}

	if (s.onStats != nil || s.metrics != nil) && statsInterval > 0 {
		go s.statsLoop(ctx, statsInterval)
	}

	s.logger.Infow("transfer offered",
		"total_chunks", init.TotalChunks,
		"chunk_size", init.ChunkSize,
		"total_bytes", init.TotalBytes,
		"tier", init.Tier,
	)
	return nil
}

func (s *SendSession) handleMessage(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.logger.Warnw("malformed peer message", "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeChunkRequest:
		var req protocol.ChunkRequestPayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.logger.Warnw("malformed chunk request", "error", err)
			return
		}
		chunk, err := s.producer.Chunk(req.Index)
		if err != nil {
			s.logger.Warnw("chunk request rejected", "index", req.Index, "error", err)
			return
		}
		frame, err := protocol.Encode(protocol.TypeChunk, protocol.ChunkPayload{Chunk: chunk})
		if err != nil {
			s.logger.Errorw("failed to encode chunk", "index", req.Index, "error", err)
			return
		}
		if err := s.ch.Send(frame); err != nil {
			s.logger.Warnw("failed to send chunk", "index", req.Index, "error", err)
			return
		}
		s.stats.RecordChunk(chunk.Size, 0)
		if s.metrics != nil {
			s.metrics.RecordChunkSent(chunk.Size)
		}

	case protocol.TypeTransferComplete:
		s.logger.Infow("peer confirmed transfer complete")

	default:
		s.logger.Warnw("unexpected peer message", "type", env.Type)
	}
}

func (s *SendSession) statsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.stats.Snapshot()
			if s.onStats != nil {
				s.onStats(snap)
			}
			if s.metrics != nil {
				s.metrics.UpdateTransferStats(s.producer.Tier(), snap)
			}
		}
	}
}

func (s *SendSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		err = s.ch.Close()
	})
	return err
}

// ReceiveSession drives a transfer from the consuming side: it reacts to the
// transfer announcement, requests every chunk and reassembles the source.
type ReceiveSession struct {
	ch         Channel
	stats      *StatsCollector
	metrics    Metrics
	maxRetries int
	logger     *zap.SugaredLogger

	onComplete func(data []byte)
	onStats    func(domain.TransferStats)
	onAbort    func(err error)

	consumer  *Consumer
	tier      domain.QualityTier
	requested map[int]time.Time
	mu        sync.Mutex

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewReceiveSession(ch Channel, maxRetries int, logger *zap.SugaredLogger) *ReceiveSession {
	return &ReceiveSession{
		ch:         ch,
		stats:      NewStatsCollector(),
		maxRetries: maxRetries,
		logger:     logger,
		requested:  make(map[int]time.Time),
	}
}

// OnComplete registers the sink for the reassembled source. Must be called
// before Start.
func (r *ReceiveSession) OnComplete(fn func(data []byte)) { r.onComplete = fn }

// OnStats registers a sink for windowed transfer stats. Must be called
// before Start.
func (r *ReceiveSession) OnStats(fn func(domain.TransferStats)) { r.onStats = fn }

// OnAbort registers a sink for a fatal transfer failure. Must be called
// before Start.
func (r *ReceiveSession) OnAbort(fn func(err error)) { r.onAbort = fn }

// SetMetrics attaches a transfer metrics sink. Must be called before Start.
func (r *ReceiveSession) SetMetrics(m Metrics) { r.metrics = m }

func (r *ReceiveSession) Start(ctx context.Context, statsInterval time.Duration) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.ch.OnMessage(func(data []byte) {
		r.handleMessage(data)
	})

	if (r.onStats != nil || r.metrics != nil) && statsInterval > 0 {
		go r.statsLoop(ctx, statsInterval)
	}
	return nil
}

func (r *ReceiveSession) handleMessage(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		r.logger.Warnw("malformed peer message", "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeTransferInit:
		var init protocol.TransferInitPayload
		if err := json.Unmarshal(env.Payload, &init); err != nil {
			r.logger.Warnw("malformed transfer init", "error", err)
			return
		}
		r.begin(init)

	case protocol.TypeChunk:
		var payload protocol.ChunkPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			r.logger.Warnw("malformed chunk message", "error", err)
			return
		}
		r.accept(payload.Chunk)

	default:
		r.logger.Warnw("unexpected peer message", "type", env.Type)
	}
}

func (r *ReceiveSession) begin(init protocol.TransferInitPayload) {
	r.mu.Lock()
	if r.consumer != nil {
		r.mu.Unlock()
		r.logger.Warnw("duplicate transfer init ignored")
		return
	}
	consumer := NewConsumer(r.maxRetries, r.requestChunk)
	consumer.SetOnComplete(r.complete)
	r.consumer = consumer
	r.tier = init.Tier
	r.mu.Unlock()

	r.logger.Infow("transfer starting",
		"total_chunks", init.TotalChunks,
		"chunk_size", init.ChunkSize,
		"total_bytes", init.TotalBytes,
		"tier", init.Tier,
	)

	if err := consumer.Begin(init.TotalChunks); err != nil {
		r.abort(fmt.Errorf("begin transfer: %w", err))
	}
}

func (r *ReceiveSession) accept(chunk domain.Chunk) {
	r.mu.Lock()
	consumer := r.consumer
	requestedAt, tracked := r.requested[chunk.Index]
	r.mu.Unlock()

	if consumer == nil {
		r.logger.Warnw("chunk before transfer init", "index", chunk.Index)
		return
	}

	err := consumer.Accept(chunk)
	switch {
	case err == nil:
		latency := time.Duration(0)
		if tracked {
			latency = time.Since(requestedAt)
		}
		r.stats.RecordChunk(chunk.Size, latency)
		if r.metrics != nil {
			r.metrics.RecordChunkVerified(latency)
		}

	case errors.Is(err, domain.ErrChecksumMismatch):
		// already re-requested by the consumer; keep going
		r.stats.RecordRetransmit()
		if r.metrics != nil {
			r.metrics.RecordRetransmit()
		}
		r.logger.Warnw("chunk failed verification, retransmit requested", "index", chunk.Index)

	case errors.Is(err, domain.ErrTransferAborted):
		r.abort(err)

	default:
		r.logger.Warnw("chunk rejected", "index", chunk.Index, "error", err)
	}
}

func (r *ReceiveSession) requestChunk(index int) error {
	r.mu.Lock()
	r.requested[index] = time.Now()
	r.mu.Unlock()

	frame, err := protocol.Encode(protocol.TypeChunkRequest, protocol.ChunkRequestPayload{Index: index})
	if err != nil {
		return err
	}
	return r.ch.Send(frame)
}

func (r *ReceiveSession) complete() {
	r.mu.Lock()
	consumer := r.consumer
	r.mu.Unlock()

	data, err := consumer.Bytes()
	if err != nil {
		r.abort(err)
		return
	}

	if frame, err := protocol.Encode(protocol.TypeTransferComplete, nil); err == nil {
		if err := r.ch.Send(frame); err != nil {
			r.logger.Warnw("failed to confirm transfer completion", "error", err)
		}
	}

	r.logger.Infow("transfer complete", "bytes", len(data))
	if r.onComplete != nil {
		r.onComplete(data)
	}
}

func (r *ReceiveSession) abort(err error) {
	r.logger.Errorw("transfer aborted", "error", err)
	if r.onAbort != nil {
		r.onAbort(err)
	}
	r.Close()
}

func (r *ReceiveSession) statsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := r.stats.Snapshot()
			if r.onStats != nil {
				r.onStats(snap)
			}
			if r.metrics != nil {
				r.mu.Lock()
				tier := r.tier
				r.mu.Unlock()
				r.metrics.UpdateTransferStats(tier, snap)
			}
		}
	}
}

// Close tears the session down and releases chunk buffers.
func (r *ReceiveSession) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Lock()
		if r.consumer != nil {
			r.consumer.Release()
		}
		r.mu.Unlock()
		err = r.ch.Close()
	})
	return err
}
