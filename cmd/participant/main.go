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
	"syncroom/internal/infrastructure/monitoring"
	"syncroom/internal/infrastructure/peer"
	"syncroom/internal/infrastructure/streaming"
	"syncroom/internal/protocol"
	"syncroom/pkg/config"
	"syncroom/pkg/logger"
	"syncroom/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// participant joins a room, requests the active stream and pulls the source
// from the host over a peer data channel, writing it to a local file.
type participant struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	roomCode   domain.RoomCode
	outPath    string
	iceServers []peer.ICEServer
	cfg        *config.Config
	metrics    *monitoring.PrometheusCollector

	hostID domain.MemberID
	pc     *webrtc.PeerConnection
	recv   *streaming.ReceiveSession
	mu     sync.Mutex

	done   context.CancelFunc
	logger *zap.SugaredLogger
}

func main() {
	var (
		serverURL   = flag.String("server", "ws://localhost:8081/ws", "coordination server URL")
		roomCode    = flag.String("room", "", "room code to join")
		name        = flag.String("name", "guest", "display name")
		outPath     = flag.String("out", "", "path to write the received file")
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

	if *roomCode == "" || *outPath == "" {
		log.Fatal("both -room and -out are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	p := &participant{
		conn:     conn,
		roomCode: domain.RoomCode(*roomCode),
		outPath:  *outPath,
		iceServers: func() []peer.ICEServer {
			servers := make([]peer.ICEServer, 0, len(cfg.WebRTC.ICEServers))
			for _, s := range cfg.WebRTC.ICEServers {
				servers = append(servers, peer.ICEServer{
					URLs:       s.URLs,
					Username:   s.Username,
					Credential: s.Credential,
				})
			}
			return servers
		}(),
		cfg:     cfg,
		metrics: monitoring.NewPrometheusCollector(),
		done:    cancel,
		logger:  log,
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

	if err := p.send(protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		RoomCode:    p.roomCode,
		DisplayName: *name,
	}); err != nil {
		log.Fatalw("failed to join room", "error", err)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigChan:
			cancel()
			conn.Close()
		case <-ctx.Done():
			conn.Close()
		}
	}()

	p.readLoop(ctx)
	log.Info("participant stopped")
}

func (p *participant) send(msgType string, payload interface{}) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

func (p *participant) readLoop(ctx context.Context) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Errorw("coordination connection lost", "error", err)
			}
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			p.logger.Warnw("malformed server message", "error", err)
			continue
		}
		p.handle(ctx, env)
	}
}

func (p *participant) handle(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRoomJoined:
		var snap protocol.RoomJoinedPayload
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			p.logger.Warnw("malformed room snapshot", "error", err)
			return
		}
		if snap.IsHost {
			p.logger.Fatal("room has no other members to stream from")
		}
		p.mu.Lock()
		p.hostID = snap.HostID
		p.mu.Unlock()
		p.logger.Infow("joined room", "room_code", snap.RoomCode, "host_id", snap.HostID)

		if err := p.send(protocol.TypeRequestJoinStream, protocol.RequestJoinStreamPayload{RoomCode: p.roomCode}); err != nil {
			p.logger.Errorw("failed to request stream", "error", err)
			return
		}
		if err := p.offerToHost(ctx); err != nil {
			p.logger.Errorw("failed to offer to host", "error", err)
		}

	case protocol.TypeSignalAnswer:
		var fwd protocol.SignalForwardPayload
		if err := json.Unmarshal(env.Payload, &fwd); err != nil {
			return
		}
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(fwd.Payload, &answer); err != nil {
			p.logger.Warnw("malformed answer", "error", err)
			return
		}
		p.mu.Lock()
		pc := p.pc
		p.mu.Unlock()
		if pc == nil {
			return
		}
		if err := pc.SetRemoteDescription(answer); err != nil {
			p.logger.Errorw("failed to apply answer", "error", err)
		}

	case protocol.TypeSignalCandidate:
		var fwd protocol.SignalForwardPayload
		if err := json.Unmarshal(env.Payload, &fwd); err != nil {
			return
		}
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(fwd.Payload, &candidate); err != nil {
			return
		}
		p.mu.Lock()
		pc := p.pc
		p.mu.Unlock()
		if pc == nil {
			return
		}
		if err := pc.AddICECandidate(candidate); err != nil {
			p.logger.Warnw("failed to add candidate", "error", err)
		}

	case protocol.TypeHostChanged:
		var changed protocol.HostChangedPayload
		if err := json.Unmarshal(env.Payload, &changed); err == nil {
			p.mu.Lock()
			p.hostID = changed.NewHostID
			p.mu.Unlock()
			p.logger.Warnw("host changed mid-session", "new_host_id", changed.NewHostID)
		}

	case protocol.TypeError:
		var e protocol.ErrorPayload
		if err := json.Unmarshal(env.Payload, &e); err == nil {
			p.logger.Warnw("server rejected message", "code", e.Code, "message", e.Message)
		}

	default:
		p.logger.Debugw("ignoring message", "type", env.Type)
	}
}

// offerToHost opens the data channel and sends the WebRTC offer through the
// coordination channel. The host answers and serves chunks once the channel
// opens.
func (p *participant) offerToHost(ctx context.Context) error {
	pc, err := peer.NewPeerConnection(p.iceServers)
	if err != nil {
		return err
	}

	ch, err := peer.NewDataChannel(pc, "transfer", p.logger)
	if err != nil {
		pc.Close()
		return err
	}

	recv := streaming.NewReceiveSession(ch, p.cfg.Transfer.MaxRetries, p.logger)
	recv.SetMetrics(p.metrics)
	recv.OnStats(func(stats domain.TransferStats) {
		p.logger.Debugw("transfer stats",
			"bandwidth_bps", stats.BandwidthBps,
			"latency", stats.Latency,
			"loss", stats.Loss,
		)
	})
	recv.OnComplete(func(data []byte) {
		if err := os.WriteFile(p.outPath, data, 0o644); err != nil {
			p.logger.Errorw("failed to write received file", "path", p.outPath, "error", err)
		} else {
			p.logger.Infow("file received", "path", p.outPath, "bytes", len(data))
		}
		p.done()
	})
	recv.OnAbort(func(err error) {
		p.logger.Errorw("transfer aborted", "error", err)
		p.done()
	})
	if err := recv.Start(ctx, p.cfg.Transfer.StatsInterval); err != nil {
		pc.Close()
		return err
	}

	p.mu.Lock()
	p.pc = pc
	p.recv = recv
	hostID := p.hostID
	p.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := p.send(protocol.TypeSignalCandidate, protocol.SignalPayload{
			RoomCode:       p.roomCode,
			TargetMemberID: hostID,
			Payload:        raw,
		}); err != nil {
			p.logger.Warnw("failed to send candidate", "error", err)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}

	raw, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return p.send(protocol.TypeSignalOffer, protocol.SignalPayload{
		RoomCode:       p.roomCode,
		TargetMemberID: hostID,
		Payload:        raw,
	})
}
