// Package protocol defines the wire messages exchanged over the coordination
// channel and the peer data channel. Every message is a JSON envelope with a
// type discriminator and a typed payload that is decoded and validated at the
// transport boundary before dispatch.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"syncroom/internal/core/domain"
)

// Client -> server message types.
const (
	TypeJoinRoom          = "join-room"
	TypeControlEvent      = "control-event"
	TypeChatMessage       = "chat-message"
	TypeSignalOffer       = "signal-offer"
	TypeSignalAnswer      = "signal-answer"
	TypeSignalCandidate   = "signal-candidate"
	TypeRequestJoinStream = "request-join-stream"
	TypeStreamingStarted  = "streaming-started"
	TypeStreamingStopped  = "streaming-stopped"
)

// Server -> client message types.
const (
	TypeRoomJoined           = "room-joined"
	TypeMemberJoined         = "member-joined"
	TypeMemberReconnected    = "member-reconnected"
	TypeMemberLeft           = "member-left"
	TypeHostChanged          = "host-changed"
	TypeControlEventReceived = "control-event-received"
	TypeChatMessageReceived  = "chat-message-received"
	TypeJoinStreamRequested  = "join-stream-requested"
	TypeError                = "error"
)

// Peer data-channel message types.
const (
	TypeTransferInit     = "transfer-init"
	TypeChunkRequest     = "chunk-request"
	TypeChunk            = "chunk"
	TypeTransferComplete = "transfer-complete"
)

// Envelope carries the type discriminator and the raw payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope parses an inbound frame and rejects envelopes without a
// type discriminator.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("message type is required")
	}
	return env, nil
}

// Encode wraps a payload into an envelope frame.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// ---------------------------------------------------------------------------
// Client -> server payloads
// ---------------------------------------------------------------------------

type JoinRoomPayload struct {
	RoomCode    domain.RoomCode `json:"room_code"`
	DisplayName string          `json:"display_name"`
}

type ControlEventPayload struct {
	RoomCode domain.RoomCode    `json:"room_code"`
	Kind     domain.ControlKind `json:"kind"`
	Time     *float64           `json:"time,omitempty"`
	Volume   *float64           `json:"volume,omitempty"`
	Speed    *float64           `json:"speed,omitempty"`
}

type ChatMessagePayload struct {
	RoomCode domain.RoomCode `json:"room_code"`
	Text     string          `json:"text"`
}

// SignalPayload is routed opaquely; the server never interprets Payload.
type SignalPayload struct {
	RoomCode       domain.RoomCode `json:"room_code"`
	TargetMemberID domain.MemberID `json:"target_member_id"`
	Payload        json.RawMessage `json:"payload"`
}

type RequestJoinStreamPayload struct {
	RoomCode domain.RoomCode `json:"room_code"`
}

type StreamingPayload struct {
	RoomCode domain.RoomCode `json:"room_code"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ---------------------------------------------------------------------------
// Server -> client payloads
// ---------------------------------------------------------------------------

type MemberInfo struct {
	ID          domain.MemberID `json:"id"`
	DisplayName string          `json:"display_name"`
	IsHost      bool            `json:"is_host"`
	JoinedAt    time.Time       `json:"joined_at"`
}

func NewMemberInfo(m *domain.Member) MemberInfo {
	return MemberInfo{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		IsHost:      m.IsHost,
		JoinedAt:    m.JoinedAt,
	}
}

// RoomJoinedPayload is the full room snapshot sent to a joining connection.
type RoomJoinedPayload struct {
	RoomCode domain.RoomCode `json:"room_code"`
	RoomName string          `json:"room_name"`
	MemberID domain.MemberID `json:"member_id"`
	IsHost   bool            `json:"is_host"`
	HostID   domain.MemberID `json:"host_id"`
	Members  []MemberInfo    `json:"members"`
}

type MemberEventPayload struct {
	RoomCode domain.RoomCode `json:"room_code"`
	Member   MemberInfo      `json:"member"`
}

type MemberLeftPayload struct {
	RoomCode    domain.RoomCode `json:"room_code"`
	MemberID    domain.MemberID `json:"member_id"`
	DisplayName string          `json:"display_name"`
}

type HostChangedPayload struct {
	RoomCode  domain.RoomCode `json:"room_code"`
	NewHostID domain.MemberID `json:"new_host_id"`
}

type ControlEventReceivedPayload struct {
	RoomCode  domain.RoomCode    `json:"room_code"`
	Kind      domain.ControlKind `json:"kind"`
	Time      *float64           `json:"time,omitempty"`
	Volume    *float64           `json:"volume,omitempty"`
	Speed     *float64           `json:"speed,omitempty"`
	MemberID  domain.MemberID    `json:"member_id"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewControlEventReceived maps a stamped domain event to its wire form.
func NewControlEventReceived(code domain.RoomCode, ev domain.ControlEvent) ControlEventReceivedPayload {
	return ControlEventReceivedPayload{
		RoomCode:  code,
		Kind:      ev.Kind,
		Time:      ev.Time,
		Volume:    ev.Volume,
		Speed:     ev.Speed,
		MemberID:  ev.MemberID,
		Timestamp: ev.Timestamp,
	}
}

type ChatMessageReceivedPayload struct {
	RoomCode    domain.RoomCode `json:"room_code"`
	ID          string          `json:"id"`
	MemberID    domain.MemberID `json:"member_id"`
	DisplayName string          `json:"display_name"`
	Text        string          `json:"text"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewChatMessageReceived(code domain.RoomCode, msg domain.ChatMessage) ChatMessageReceivedPayload {
	return ChatMessageReceivedPayload{
		RoomCode:    code,
		ID:          msg.ID,
		MemberID:    msg.MemberID,
		DisplayName: msg.DisplayName,
		Text:        msg.Text,
		Timestamp:   msg.Timestamp,
	}
}

// SignalForwardPayload wraps a routed offer/answer/candidate with the
// sender's identity attached.
type SignalForwardPayload struct {
	RoomCode     domain.RoomCode `json:"room_code"`
	FromMemberID domain.MemberID `json:"from_member_id"`
	Payload      json.RawMessage `json:"payload"`
}

type JoinStreamRequestedPayload struct {
	RoomCode      domain.RoomCode `json:"room_code"`
	RequesterID   domain.MemberID `json:"requester_id"`
	RequesterName string          `json:"requester_name"`
}

type StreamingChangedPayload struct {
	RoomCode domain.RoomCode `json:"room_code"`
	MemberID domain.MemberID `json:"member_id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Peer data-channel payloads
// ---------------------------------------------------------------------------

// TransferInitPayload announces the sliced source to a joining consumer.
type TransferInitPayload struct {
	TotalChunks int                `json:"total_chunks"`
	ChunkSize   int                `json:"chunk_size"`
	TotalBytes  int64              `json:"total_bytes"`
	Tier        domain.QualityTier `json:"tier"`
}

type ChunkRequestPayload struct {
	Index int `json:"index"`
}

// ChunkPayload carries one chunk; Data is base64 under encoding/json.
type ChunkPayload struct {
	Chunk domain.Chunk `json:"chunk"`
}
