package memory

import (
	"context"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/utils"
)

type connRef struct {
	code     domain.RoomCode
	memberID domain.MemberID
}

// RoomRegistry is the in-memory authority over room and member state. A
// single mutex serializes every mutating operation; callers only ever see
// snapshots, never the live maps.
type RoomRegistry struct {
	rooms    map[domain.RoomCode]*domain.Room
	conns    map[domain.ConnectionID]connRef
	capacity int
	mu       sync.RWMutex
}

func NewRoomRegistry(capacity int) ports.RoomRegistry {
	return &RoomRegistry{
		rooms:    make(map[domain.RoomCode]*domain.Room),
		conns:    make(map[domain.ConnectionID]connRef),
		capacity: capacity,
	}
}

func (r *RoomRegistry) GetOrCreate(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return cloneRoom(r.getOrCreateLocked(code)), nil
}

func (r *RoomRegistry) Join(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string) (*ports.JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Reconnection: the connection is already bound to a member. Re-joining
	// the same room rebinds in place and must never create a duplicate.
	var prevLeave *ports.LeaveResult
	if ref, ok := r.conns[connID]; ok {
		if ref.code == code {
			room := r.rooms[code]
			member := room.Members[ref.memberID]
			member.ConnectionID = connID
			room.Touch()
			return &ports.JoinResult{
				Member:      cloneMember(member),
				Room:        cloneRoom(room),
				IsNewMember: false,
			}, nil
		}
		// Same connection joining a different room: leave the old one first
		// and report it so the old room's members hear about the departure.
		prevLeave = r.leaveLocked(connID)
	}

	room := r.getOrCreateLocked(code)
	if len(room.Members) >= r.capacity {
		return nil, domain.ErrRoomFull
	}

	member := &domain.Member{
		ID:           domain.MemberID(utils.GenerateMemberID()),
		ConnectionID: connID,
		DisplayName:  displayName,
		JoinedAt:     time.Now(),
	}
	if len(room.Members) == 0 {
		member.IsHost = true
		room.HostID = member.ID
	}

	room.Members[member.ID] = member
	r.conns[connID] = connRef{code: code, memberID: member.ID}
	room.Touch()

	return &ports.JoinResult{
		Member:        cloneMember(member),
		Room:          cloneRoom(room),
		IsNewMember:   true,
		PreviousLeave: prevLeave,
	}, nil
}

func (r *RoomRegistry) Leave(ctx context.Context, connID domain.ConnectionID) (*ports.LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.leaveLocked(connID)
	if result == nil {
		return nil, domain.ErrMemberNotFound
	}
	return result, nil
}

func (r *RoomRegistry) leaveLocked(connID domain.ConnectionID) *ports.LeaveResult {
	ref, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)

	room := r.rooms[ref.code]
	member := room.Members[ref.memberID]
	delete(room.Members, ref.memberID)

	if len(room.Members) == 0 {
		delete(r.rooms, ref.code)
		return &ports.LeaveResult{
			Room:       cloneRoom(room),
			Removed:    cloneMember(member),
			RoomClosed: true,
		}
	}

	var promoted *domain.Member
	if member.IsHost {
		// Deterministic promotion: earliest-joined survivor.
		promoted = room.EarliestMember()
		promoted.IsHost = true
		room.HostID = promoted.ID
	}
	room.Touch()

	return &ports.LeaveResult{
		Room:    cloneRoom(room),
		Removed: cloneMember(member),
		NewHost: cloneMember(promoted),
	}
}

func (r *RoomRegistry) Get(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (r *RoomRegistry) MemberByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.Room, *domain.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.conns[connID]
	if !ok {
		return nil, nil, domain.ErrMemberNotFound
	}
	room := r.rooms[ref.code]
	return cloneRoom(room), cloneMember(room.Members[ref.memberID]), nil
}

func (r *RoomRegistry) Touch(ctx context.Context, code domain.RoomCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Touch()
	return nil
}

func (r *RoomRegistry) Sweep(ctx context.Context, inactivityThreshold time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-inactivityThreshold)
	removed := 0
	for code, room := range r.rooms {
		if room.LastActive.After(cutoff) {
			continue
		}
		for _, m := range room.Members {
			delete(r.conns, m.ConnectionID)
		}
		delete(r.rooms, code)
		removed++
	}
	return removed, nil
}

func (r *RoomRegistry) Counts(ctx context.Context) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms), len(r.conns), nil
}

func (r *RoomRegistry) getOrCreateLocked(code domain.RoomCode) *domain.Room {
	room, ok := r.rooms[code]
	if !ok {
		room = domain.NewRoom(code, string(code))
		r.rooms[code] = room
	}
	return room
}

func cloneMember(m *domain.Member) *domain.Member {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func cloneRoom(room *domain.Room) *domain.Room {
	if room == nil {
		return nil
	}
	c := *room
	c.Members = make(map[domain.MemberID]*domain.Member, len(room.Members))
	for id, m := range room.Members {
		c.Members[id] = cloneMember(m)
	}
	return &c
}
