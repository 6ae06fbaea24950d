package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/services"
	"syncroom/internal/infrastructure/monitoring"
	"syncroom/internal/infrastructure/peer"
	"syncroom/internal/infrastructure/streaming"
	"syncroom/internal/protocol"
	"syncroom/pkg/config"
	"syncroom/pkg/logger"
	"syncroom/pkg/retry"
	"syncroom/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// host serves a local file to room members over peer data channels. It joins
// the room, announces streaming and answers incoming peer offers. Windowed
// transfer stats feed the quality service; tier changes re-slice the source
// between transfers.
type host struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	producer   *streaming.Producer
	quality    *services.QualityService
	metrics    *monitoring.PrometheusCollector
	roomCode   domain.RoomCode
	iceServers []peer.ICEServer
	cfg        *config.Config

	peers       map[domain.MemberID]*webrtc.PeerConnection
	transfers   map[domain.MemberID]*streaming.SendSession
	desiredTier domain.QualityTier
	mu          sync.Mutex

	logger *zap.SugaredLogger
}

func main() {
	var (
		serverURL   = flag.String("server", "ws://localhost:8081/ws", "coordination server URL")
		roomCode    = flag.String("room", "", "room code to host (generated when empty)")
		name        = flag.String("name", "host", "display name")
		filePath    = flag.String("file", "", "file to serve")
		tier        = flag.String("tier", "", "quality tier: low, medium or high (default from config)")
		configPath  = flag.String("config", "configs/config.yaml", "configuration file")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address (disabled when empty)")
		logLevel    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	zapLogger, err := logger.New(*logLevel, "console")
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *filePath == "" {
		log.Fatal("-file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	if *roomCode == "" {
		*roomCode = utils.GenerateRoomCode()
		log.Infow("generated room code", "room_code", *roomCode)
	}
	if *tier == "" {
		*tier = cfg.Transfer.DefaultTier
	}

	source, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatalw("failed to read source file", "path", *filePath, "error", err)
	}

	producer, err := streaming.NewProducer(source, domain.QualityTier(*tier), cfg.Transfer.SliceBatch)
	if err != nil {
		log.Fatalw("invalid tier", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := producer.Slice(ctx); err != nil {
		log.Fatalw("failed to slice source", "error", err)
	}
	log.Infow("source sliced",
		"bytes", producer.TotalBytes(),
		"chunks", producer.TotalChunks(),
		"tier", producer.Tier(),
	)

	var conn *websocket.Conn
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		var dialErr error
		conn, _, dialErr = websocket.DefaultDialer.DialContext(ctx, *serverURL, nil)
		return dialErr
	})
	if err != nil {
		log.Fatalw("failed to connect to coordination server", "url", *serverURL, "error", err)
	}
	defer conn.Close()

	h := &host{
		conn:        conn,
		producer:    producer,
		quality:     services.NewQualityService(),
		metrics:     monitoring.NewPrometheusCollector(),
		roomCode:    domain.RoomCode(*roomCode),
		iceServers:  iceServersFromConfig(cfg),
		cfg:         cfg,
		peers:       make(map[domain.MemberID]*webrtc.PeerConnection),
		transfers:   make(map[domain.MemberID]*streaming.SendSession),
		desiredTier: producer.Tier(),
		logger:      log,
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Infow("serving metrics", "address", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	if err := h.send(protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		RoomCode:    h.roomCode,
		DisplayName: *name,
	}); err != nil {
		log.Fatalw("failed to join room", "error", err)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		conn.Close()
	}()

	h.readLoop(ctx)
	log.Info("host stopped")
}

func iceServersFromConfig(cfg *config.Config) []peer.ICEServer {
	servers := make([]peer.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, peer.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

func (h *host) send(msgType string, payload interface{}) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteMessage(websocket.TextMessage, frame)
}

func (h *host) readLoop(ctx context.Context) {
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Errorw("coordination connection lost", "error", err)
			}
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			h.logger.Warnw("malformed server message", "error", err)
			continue
		}
		h.handle(ctx, env)
	}
}

func (h *host) handle(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRoomJoined:
		var p protocol.RoomJoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.logger.Warnw("malformed room snapshot", "error", err)
			return
		}
		h.logger.Infow("joined room", "room_code", p.RoomCode, "is_host", p.IsHost, "members", len(p.Members))

		if err := h.send(protocol.TypeStreamingStarted, protocol.StreamingPayload{RoomCode: h.roomCode}); err != nil {
			h.logger.Errorw("failed to announce streaming", "error", err)
		}

	case protocol.TypeJoinStreamRequested:
		var p protocol.JoinStreamRequestedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		// The requester drives connection setup; nothing to do until its
		// offer arrives.
		h.logger.Infow("stream join requested", "requester", p.RequesterName)

	case protocol.TypeSignalOffer:
		var p protocol.SignalForwardPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.logger.Warnw("malformed offer", "error", err)
			return
		}
		if err := h.answerOffer(ctx, p); err != nil {
			h.logger.Errorw("failed to answer offer", "from", p.FromMemberID, "error", err)
		}

	case protocol.TypeSignalCandidate:
		var p protocol.SignalForwardPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.addCandidate(p)

	case protocol.TypeMemberJoined, protocol.TypeMemberReconnected, protocol.TypeMemberLeft, protocol.TypeHostChanged:
		h.logger.Debugw("room event", "type", env.Type)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			h.logger.Warnw("server rejected message", "code", p.Code, "message", p.Message)
		}

	default:
		h.logger.Debugw("ignoring message", "type", env.Type)
	}
}

// answerOffer completes WebRTC setup with one requesting member and serves
// the sliced source once its data channel opens.
func (h *host) answerOffer(ctx context.Context, fwd protocol.SignalForwardPayload) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(fwd.Payload, &offer); err != nil {
		return err
	}

	pc, err := peer.NewPeerConnection(h.iceServers)
	if err != nil {
		return err
	}

	from := fwd.FromMemberID
	h.mu.Lock()
	h.peers[from] = pc
	h.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			h.dropPeer(from)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := h.send(protocol.TypeSignalCandidate, protocol.SignalPayload{
			RoomCode:       h.roomCode,
			TargetMemberID: from,
			Payload:        raw,
		}); err != nil {
			h.logger.Warnw("failed to send candidate", "error", err)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := peer.WrapDataChannel(pc, dc, h.logger)
		ch.OnOpen(func() {
			h.startTransfer(ctx, from, ch)
		})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return h.send(protocol.TypeSignalAnswer, protocol.SignalPayload{
		RoomCode:       h.roomCode,
		TargetMemberID: from,
		Payload:        raw,
	})
}

// startTransfer applies any pending tier change, then serves the source to
// one peer. Stats from the session feed the tier decision for later peers.
func (h *host) startTransfer(ctx context.Context, from domain.MemberID, ch streaming.Channel) {
	h.applyPendingTier(ctx)

	session := streaming.NewSendSession(h.producer, ch, h.logger)
	session.SetMetrics(h.metrics)
	session.OnStats(h.observeStats)

	h.mu.Lock()
	h.transfers[from] = session
	h.mu.Unlock()

	if err := session.Start(ctx, h.cfg.Transfer.StatsInterval); err != nil {
		h.logger.Errorw("failed to start transfer", "member", from, "error", err)
		h.mu.Lock()
		delete(h.transfers, from)
		h.mu.Unlock()
	}
}

// observeStats feeds windowed stats into the quality service. The decision is
// recorded and applied before the next transfer; the geometry of in-flight
// transfers never changes under a consumer.
func (h *host) observeStats(stats domain.TransferStats) {
	current := h.producer.Tier()

	var next domain.QualityTier
	switch {
	case h.quality.ShouldDowngrade(current, stats):
		next = current.Lower()
	case h.quality.ShouldUpgrade(current, stats):
		next = current.Higher()
	default:
		return
	}

	h.mu.Lock()
	changed := h.desiredTier != next
	h.desiredTier = next
	h.mu.Unlock()

	if changed {
		h.logger.Infow("tier change queued",
			"current", current,
			"next", next,
			"bandwidth_bps", stats.BandwidthBps,
			"loss", stats.Loss,
		)
	}
}

func (h *host) applyPendingTier(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.transfers) > 0 || h.desiredTier == h.producer.Tier() {
		return
	}
	if err := h.producer.SetTier(ctx, h.desiredTier); err != nil {
		h.logger.Errorw("failed to re-slice source", "tier", h.desiredTier, "error", err)
		return
	}
	h.logger.Infow("re-sliced source",
		"tier", h.desiredTier,
		"chunks", h.producer.TotalChunks(),
	)
}

func (h *host) dropPeer(id domain.MemberID) {
	h.mu.Lock()
	pc := h.peers[id]
	session := h.transfers[id]
	delete(h.peers, id)
	delete(h.transfers, id)
	h.mu.Unlock()

	if session != nil {
		session.Close()
	} else if pc != nil {
		pc.Close()
	}
	h.logger.Infow("peer dropped", "member", id)
}

func (h *host) addCandidate(fwd protocol.SignalForwardPayload) {
	h.mu.Lock()
	pc, ok := h.peers[fwd.FromMemberID]
	h.mu.Unlock()
	if !ok {
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(fwd.Payload, &candidate); err != nil {
		return
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		h.logger.Warnw("failed to add candidate", "from", fwd.FromMemberID, "error", err)
	}
}
