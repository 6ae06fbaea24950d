package ports

import (
	"context"
	"encoding/json"
	"time"

	"syncroom/internal/core/domain"
)

// Notifier delivers outbound protocol messages to connected clients. The
// WebSocket server implements it; the room service only ever addresses
// connections through this port.
type Notifier interface {
	Send(ctx context.Context, connID domain.ConnectionID, msgType string, payload interface{}) error
	Connections() int
}

// RoomInfo is the out-of-band lookup view of a room.
type RoomInfo struct {
	Code        domain.RoomCode `json:"code"`
	Name        string          `json:"name"`
	MemberCount int             `json:"member_count"`
	CreatedAt   time.Time       `json:"created_at"`
	LastActive  time.Time       `json:"last_active"`
}

// ServiceStats is the liveness summary of the coordination service.
type ServiceStats struct {
	ActiveRooms int `json:"active_rooms"`
	Members     int `json:"members"`
	Connections int `json:"connections"`
}

// RoomService bridges transport connection lifecycle to the room registry
// and fans out events to room members.
type RoomService interface {
	Join(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, displayName string) error
	HandleControl(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, kind domain.ControlKind, time, volume, speed *float64) error
	HandleChat(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, text string) error
	Disconnect(ctx context.Context, connID domain.ConnectionID) error
	// RouteSignal forwards an opaque offer/answer/candidate payload to the
	// target member of the same room.
	RouteSignal(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, msgType string, target domain.MemberID, payload json.RawMessage) error
	// RequestJoinStream routes a stream-join request to the room's host.
	RequestJoinStream(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode) error
	// SetStreaming broadcasts streaming-started/stopped room-wide.
	SetStreaming(ctx context.Context, connID domain.ConnectionID, code domain.RoomCode, started bool, metadata json.RawMessage) error
	RoomInfo(ctx context.Context, code domain.RoomCode) (*RoomInfo, error)
	Stats(ctx context.Context) (*ServiceStats, error)
}
