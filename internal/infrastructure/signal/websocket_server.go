package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/internal/protocol"
	apperrors "syncroom/pkg/errors"
	"syncroom/pkg/tracing"
	"syncroom/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options are the transport knobs for the coordination channel.
type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration

	// Per-connection inbound message rate limit. Zero MessagesPerSecond
	// disables limiting.
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// connection pairs a socket with a write lock; gorilla connections allow at
// most one concurrent writer.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Metrics is the subset of collector calls the transport emits. Nil disables
// collection.
type Metrics interface {
	RecordConnection()
	RecordControlEvent(kind domain.ControlKind)
	RecordChatMessage()
	RecordSignalRouted(msgType string)
	RecordErrorSent(code string)
}

// WebSocketServer terminates coordination-channel connections and dispatches
// decoded messages to the room service. It implements ports.Notifier so the
// service can address members by connection ID.
type WebSocketServer struct {
	service ports.RoomService
	metrics Metrics

	connections map[domain.ConnectionID]*connection
	mu          sync.RWMutex

	opts   Options
	logger *zap.SugaredLogger
}

func NewWebSocketServer(service ports.RoomService, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &WebSocketServer{
		service:     service,
		connections: make(map[domain.ConnectionID]*connection),
		opts:        opts,
		logger:      logger,
	}
}

// SetService wires the room service after construction. The server and the
// service reference each other, so one side has to be attached late.
func (s *WebSocketServer) SetService(service ports.RoomService) {
	s.service = service
}

// SetMetrics attaches a collector. Must be called before serving.
func (s *WebSocketServer) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// A reconnecting client presents its previous connection ID so it is
	// recognized as the same member on rejoin. Fresh clients get a new one.
	connID := domain.ConnectionID(r.URL.Query().Get("connection_id"))
	if connID == "" {
		connID = domain.ConnectionID(utils.GenerateConnectionID())
	}

	conn := &connection{ws: ws}

	s.mu.Lock()
	if old, ok := s.connections[connID]; ok && old != nil {
		old.ws.Close()
		s.logger.Infow("closing superseded connection", "conn_id", connID)
	}
	s.connections[connID] = conn
	s.mu.Unlock()

	s.logger.Infow("client connected", "conn_id", connID, "remote", r.RemoteAddr)
	if s.metrics != nil {
		s.metrics.RecordConnection()
	}

	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
	}

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	frameChan := make(chan []byte, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			frameChan <- data
		}
	}()

	for {
		select {
		case data := <-frameChan:
			if limiter != nil && !limiter.Allow() {
				s.sendError(context.Background(), connID, apperrors.New(apperrors.CodeInvalidInput, "message rate limit exceeded", http.StatusTooManyRequests))
				continue
			}
			// Any failure is reported to the sender only; the connection
			// stays up.
			if err := s.handleFrame(context.Background(), connID, data); err != nil {
				s.sendError(context.Background(), connID, err)
			}

		case <-pingTicker.C:
			conn.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			conn.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("ping failed", "conn_id", connID, "error", err)
				s.cleanup(connID, conn)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "conn_id", connID, "error", err)
			}
			s.cleanup(connID, conn)
			return
		}
	}
}

// handleFrame decodes one inbound frame and dispatches it. A panic in a
// handler is converted to an error so a single bad message cannot take the
// server down.
func (s *WebSocketServer) handleFrame(ctx context.Context, connID domain.ConnectionID, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic handling message", "conn_id", connID, "panic", r)
			err = apperrors.NewInternal("internal error")
		}
	}()

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		return apperrors.NewInvalidInput(err.Error())
	}

	ctx, span := tracing.TraceMessage(ctx, env.Type, string(connID))
	defer span.End()

	switch env.Type {
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoomPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return s.service.Join(ctx, connID, p.RoomCode, p.DisplayName)

	case protocol.TypeControlEvent:
		var p protocol.ControlEventPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if err := s.service.HandleControl(ctx, connID, p.RoomCode, p.Kind, p.Time, p.Volume, p.Speed); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordControlEvent(p.Kind)
		}
		return nil

	case protocol.TypeChatMessage:
		var p protocol.ChatMessagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if err := s.service.HandleChat(ctx, connID, p.RoomCode, p.Text); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordChatMessage()
		}
		return nil

	case protocol.TypeSignalOffer, protocol.TypeSignalAnswer, protocol.TypeSignalCandidate:
		var p protocol.SignalPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if err := s.service.RouteSignal(ctx, connID, p.RoomCode, env.Type, p.TargetMemberID, p.Payload); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordSignalRouted(env.Type)
		}
		return nil

	case protocol.TypeRequestJoinStream:
		var p protocol.RequestJoinStreamPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return s.service.RequestJoinStream(ctx, connID, p.RoomCode)

	case protocol.TypeStreamingStarted, protocol.TypeStreamingStopped:
		var p protocol.StreamingPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return s.service.SetStreaming(ctx, connID, p.RoomCode, env.Type == protocol.TypeStreamingStarted, p.Metadata)

	default:
		return apperrors.NewInvalidInput(fmt.Sprintf("unknown message type: %s", env.Type))
	}
}

func decode(env protocol.Envelope, out interface{}) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return apperrors.NewInvalidInput(fmt.Sprintf("invalid %s payload: %v", env.Type, err))
	}
	return nil
}

// Send implements ports.Notifier.
func (s *WebSocketServer) Send(ctx context.Context, connID domain.ConnectionID, msgType string, payload interface{}) error {
	s.mu.RLock()
	conn, ok := s.connections[connID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrConnectionLost
	}

	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write to %s: %w", connID, err)
	}
	return nil
}

// Connections implements ports.Notifier.
func (s *WebSocketServer) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// sendError reports a handler failure to the offending connection. Errors
// never terminate the connection.
func (s *WebSocketServer) sendError(ctx context.Context, connID domain.ConnectionID, err error) {
	appErr := apperrors.FromDomain(err)
	payload := protocol.ErrorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	}
	if s.metrics != nil {
		s.metrics.RecordErrorSent(string(appErr.Code))
	}
	if sendErr := s.Send(ctx, connID, protocol.TypeError, payload); sendErr != nil {
		s.logger.Warnw("failed to deliver error message", "conn_id", connID, "error", sendErr)
	}
}

func (s *WebSocketServer) cleanup(connID domain.ConnectionID, conn *connection) {
	s.mu.Lock()
	current, ok := s.connections[connID]
	owned := ok && current == conn
	if owned {
		delete(s.connections, connID)
	}
	s.mu.Unlock()

	// A reconnect may have replaced this socket already; in that case the
	// member stays in its room and only the superseded socket goes away.
	if !owned {
		return
	}

	if err := s.service.Disconnect(context.Background(), connID); err != nil {
		s.logger.Warnw("disconnect handling failed", "conn_id", connID, "error", err)
	}
	s.logger.Infow("client disconnected", "conn_id", connID)
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.Connections(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
