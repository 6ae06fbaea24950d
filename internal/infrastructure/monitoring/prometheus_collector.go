package monitoring

import (
	"time"

	"syncroom/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	roomsActive      prometheus.Gauge
	membersConnected prometheus.Gauge
	connectionsTotal prometheus.Counter

	controlEventsTotal *prometheus.CounterVec
	chatMessagesTotal  prometheus.Counter
	signalsRoutedTotal *prometheus.CounterVec
	errorsSentTotal    *prometheus.CounterVec
	roomsSweptTotal    prometheus.Counter

	chunksSentTotal     prometheus.Counter
	chunksVerifiedTotal prometheus.Counter
	retransmitsTotal    prometheus.Counter
	transferBytesTotal  prometheus.Counter
	transferBandwidth   *prometheus.GaugeVec
	chunkLatency        prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncroom_rooms_active",
			Help: "Number of rooms currently registered",
		}),

		membersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncroom_members_connected",
			Help: "Number of members currently joined to a room",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_connections_total",
			Help: "Total coordination connections accepted",
		}),

		controlEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_control_events_total",
			Help: "Playback control events broadcast, by kind",
		}, []string{"kind"}),

		chatMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_chat_messages_total",
			Help: "Chat messages broadcast room-wide",
		}),

		signalsRoutedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_signals_routed_total",
			Help: "Peer signaling messages routed, by type",
		}, []string{"type"}),

		errorsSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_errors_sent_total",
			Help: "Error messages sent to clients, by code",
		}, []string{"code"}),

		roomsSweptTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_rooms_swept_total",
			Help: "Rooms destroyed by the inactivity sweeper",
		}),

		chunksSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_chunks_sent_total",
			Help: "Chunks served to peers",
		}),

		chunksVerifiedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_chunks_verified_total",
			Help: "Received chunks that passed checksum verification",
		}),

		retransmitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_chunk_retransmits_total",
			Help: "Chunks requested again after failed verification",
		}),

		transferBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_transfer_bytes_total",
			Help: "Total chunk payload bytes moved over peer channels",
		}),

		transferBandwidth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "syncroom_transfer_bandwidth_bps",
			Help: "Windowed per-transfer bandwidth in bytes per second",
		}, []string{"tier"}),

		chunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncroom_chunk_request_latency_seconds",
			Help:    "Round trip from chunk request to verified receipt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}),
	}
}

// SetCounts refreshes the room and member gauges from a registry snapshot.
func (p *PrometheusCollector) SetCounts(rooms, members int) {
	p.roomsActive.Set(float64(rooms))
	p.membersConnected.Set(float64(members))
}

func (p *PrometheusCollector) RecordConnection() {
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordControlEvent(kind domain.ControlKind) {
	p.controlEventsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordChatMessage() {
	p.chatMessagesTotal.Inc()
}

func (p *PrometheusCollector) RecordSignalRouted(msgType string) {
	p.signalsRoutedTotal.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordErrorSent(code string) {
	p.errorsSentTotal.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) RecordRoomsSwept(count int) {
	p.roomsSweptTotal.Add(float64(count))
}

func (p *PrometheusCollector) RecordChunkSent(size int) {
	p.chunksSentTotal.Inc()
	p.transferBytesTotal.Add(float64(size))
}

func (p *PrometheusCollector) RecordChunkVerified(latency time.Duration) {
	p.chunksVerifiedTotal.Inc()
	if latency > 0 {
		p.chunkLatency.Observe(latency.Seconds())
	}
}

func (p *PrometheusCollector) RecordRetransmit() {
	p.retransmitsTotal.Inc()
}

// UpdateTransferStats publishes a windowed stats sample.
func (p *PrometheusCollector) UpdateTransferStats(tier domain.QualityTier, stats domain.TransferStats) {
	p.transferBandwidth.WithLabelValues(string(tier)).Set(float64(stats.BandwidthBps))
}
