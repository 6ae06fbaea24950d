package domain

import (
	"time"
)

type RoomCode string
type MemberID string
type ConnectionID string

// Room is an ephemeral group of connected clients sharing one synchronized
// playback session. A room with at least one member always has exactly one
// host; a room with zero members is destroyed.
type Room struct {
	Code       RoomCode
	Name       string
	Members    map[MemberID]*Member
	HostID     MemberID
	CreatedAt  time.Time
	LastActive time.Time
}

// Member is a participant's stable identity within a room. The member ID
// survives transport reconnects; the connection ID is rebound on reconnect.
type Member struct {
	ID           MemberID
	ConnectionID ConnectionID
	DisplayName  string
	IsHost       bool
	JoinedAt     time.Time
}

func NewRoom(code RoomCode, name string) *Room {
	now := time.Now()
	return &Room{
		Code:       code,
		Name:       name,
		Members:    make(map[MemberID]*Member),
		CreatedAt:  now,
		LastActive: now,
	}
}

func (r *Room) Touch() {
	r.LastActive = time.Now()
}

// Host returns the current host member, or nil when the room is empty.
func (r *Room) Host() *Member {
	return r.Members[r.HostID]
}

// IsHost reports whether the given member is the room's current host. Every
// host-only action goes through this single predicate.
func (r *Room) IsHost(id MemberID) bool {
	return id != "" && r.HostID == id
}

// EarliestMember returns the earliest-joined member, breaking join-time ties
// by member ID so host promotion is deterministic.
func (r *Room) EarliestMember() *Member {
	var earliest *Member
	for _, m := range r.Members {
		if earliest == nil ||
			m.JoinedAt.Before(earliest.JoinedAt) ||
			(m.JoinedAt.Equal(earliest.JoinedAt) && m.ID < earliest.ID) {
			earliest = m
		}
	}
	return earliest
}

// MemberList returns a snapshot of the membership for wire serialization.
func (r *Room) MemberList() []Member {
	list := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		list = append(list, *m)
	}
	return list
}
