package ports

import (
	"context"
	"time"

	"syncroom/internal/core/domain"
)

// JoinResult reports the outcome of a registry join. IsNewMember
// distinguishes a first join from a reconnection of a known connection.
// PreviousLeave is non-nil when the connection was a member of a different
// room and the registry removed it from there as part of this join; the
// old room's members still need the departure fan-out.
type JoinResult struct {
	Member        *domain.Member
	Room          *domain.Room
	IsNewMember   bool
	PreviousLeave *LeaveResult
}

// LeaveResult reports what the registry did when a connection left. NewHost
// is non-nil when the departing member was host and another member was
// promoted. RoomClosed is true when the room was destroyed.
type LeaveResult struct {
	Room       *domain.Room
	Removed    *domain.Member
	NewHost    *domain.Member
	RoomClosed bool
}

// RoomRegistry is the sole owner and mutator of room/member state. All
// implementations serialize mutating operations on a room.
type RoomRegistry interface {
	GetOrCreate(ctx context.Context, code domain.RoomCode) (*domain.Room, error)
	Join(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string) (*JoinResult, error)
	Leave(ctx context.Context, connID domain.ConnectionID) (*LeaveResult, error)
	Get(ctx context.Context, code domain.RoomCode) (*domain.Room, error)
	// MemberByConnection resolves a connection to its room and member.
	MemberByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.Room, *domain.Member, error)
	// Touch bumps the room's last-activity timestamp.
	Touch(ctx context.Context, code domain.RoomCode) error
	// Sweep removes rooms whose last activity is older than the threshold,
	// regardless of membership, and returns how many were removed.
	Sweep(ctx context.Context, inactivityThreshold time.Duration) (int, error)
	// Counts returns the number of rooms and members for health reporting.
	Counts(ctx context.Context) (rooms int, members int, err error)
}
