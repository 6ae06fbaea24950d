package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix   = "syncroom:room:"
	memberKeySuffix = ":members"
	connKeyPrefix   = "syncroom:conn:"
	roomsSetKey     = "syncroom:rooms"
)

// RoomRegistry stores room state in Redis so several coordination instances
// can share one registry. Mutating operations are serialized through a local
// mutex; there is one coordination authority per deployment.
type RoomRegistry struct {
	client   *redis.Client
	capacity int
	mu       sync.Mutex
}

func NewRoomRegistry(client *redis.Client, capacity int) ports.RoomRegistry {
	return &RoomRegistry{client: client, capacity: capacity}
}

func roomKey(code domain.RoomCode) string    { return roomKeyPrefix + string(code) }
func membersKey(code domain.RoomCode) string { return roomKeyPrefix + string(code) + memberKeySuffix }
func connKey(id domain.ConnectionID) string  { return connKeyPrefix + string(id) }

func (r *RoomRegistry) GetOrCreate(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getOrCreateLocked(ctx, code)
}

func (r *RoomRegistry) Join(ctx context.Context, code domain.RoomCode, connID domain.ConnectionID, displayName string) (*ports.JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prevLeave *ports.LeaveResult
	if ref, err := r.client.Get(ctx, connKey(connID)).Result(); err == nil {
		refCode, memberID := splitConnRef(ref)
		if refCode == code {
			member, err := r.getMember(ctx, code, memberID)
			if err != nil {
				return nil, err
			}
			member.ConnectionID = connID
			if err := r.putMember(ctx, code, member); err != nil {
				return nil, err
			}
			if err := r.touch(ctx, code); err != nil {
				return nil, err
			}
			room, err := r.loadRoom(ctx, code)
			if err != nil {
				return nil, err
			}
			return &ports.JoinResult{Member: member, Room: room, IsNewMember: false}, nil
		}
		res, err := r.leaveLocked(ctx, connID)
		if err != nil && err != domain.ErrMemberNotFound {
			return nil, err
		}
		prevLeave = res
	} else if err != redis.Nil {
		return nil, fmt.Errorf("lookup connection %s: %w", connID, err)
	}

	room, err := r.getOrCreateLocked(ctx, code)
	if err != nil {
		return nil, err
	}
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
		if err := r.client.HSet(ctx, roomKey(code), "host_id", string(member.ID)).Err(); err != nil {
			return nil, fmt.Errorf("set host for room %s: %w", code, err)
		}
	}

	if err := r.putMember(ctx, code, member); err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, connKey(connID), joinConnRef(code, member.ID), 0).Err(); err != nil {
		return nil, fmt.Errorf("index connection %s: %w", connID, err)
	}
	if err := r.touch(ctx, code); err != nil {
		return nil, err
	}

	room, err = r.loadRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	return &ports.JoinResult{Member: member, Room: room, IsNewMember: true, PreviousLeave: prevLeave}, nil
}

func (r *RoomRegistry) Leave(ctx context.Context, connID domain.ConnectionID) (*ports.LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(ctx, connID)
}

func (r *RoomRegistry) leaveLocked(ctx context.Context, connID domain.ConnectionID) (*ports.LeaveResult, error) {
	ref, err := r.client.Get(ctx, connKey(connID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMemberNotFound
	} else if err != nil {
		return nil, fmt.Errorf("lookup connection %s: %w", connID, err)
	}
	code, memberID := splitConnRef(ref)

	member, err := r.getMember(ctx, code, memberID)
	if err != nil {
		return nil, err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, connKey(connID))
	pipe.HDel(ctx, membersKey(code), string(memberID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("remove member %s: %w", memberID, err)
	}

	room, err := r.loadRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	if len(room.Members) == 0 {
		if err := r.destroyRoom(ctx, code); err != nil {
			return nil, err
		}
		return &ports.LeaveResult{Room: room, Removed: member, RoomClosed: true}, nil
	}

	var promoted *domain.Member
	if member.IsHost {
		promoted = room.EarliestMember()
		promoted.IsHost = true
		room.HostID = promoted.ID
		if err := r.putMember(ctx, code, promoted); err != nil {
			return nil, err
		}
		if err := r.client.HSet(ctx, roomKey(code), "host_id", string(promoted.ID)).Err(); err != nil {
			return nil, fmt.Errorf("promote host in room %s: %w", code, err)
		}
	}
	if err := r.touch(ctx, code); err != nil {
		return nil, err
	}

	return &ports.LeaveResult{Room: room, Removed: member, NewHost: promoted}, nil
}

func (r *RoomRegistry) Get(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	exists, err := r.client.Exists(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("check room %s: %w", code, err)
	}
	if exists == 0 {
		return nil, domain.ErrRoomNotFound
	}
	return r.loadRoom(ctx, code)
}

func (r *RoomRegistry) MemberByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.Room, *domain.Member, error) {
	ref, err := r.client.Get(ctx, connKey(connID)).Result()
	if err == redis.Nil {
		return nil, nil, domain.ErrMemberNotFound
	} else if err != nil {
		return nil, nil, fmt.Errorf("lookup connection %s: %w", connID, err)
	}
	code, memberID := splitConnRef(ref)

	room, err := r.loadRoom(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	member, ok := room.Members[memberID]
	if !ok {
		return nil, nil, domain.ErrMemberNotFound
	}
	return room, member, nil
}

func (r *RoomRegistry) Touch(ctx context.Context, code domain.RoomCode) error {
	exists, err := r.client.Exists(ctx, roomKey(code)).Result()
	if err != nil {
		return fmt.Errorf("check room %s: %w", code, err)
	}
	if exists == 0 {
		return domain.ErrRoomNotFound
	}
	return r.touch(ctx, code)
}

func (r *RoomRegistry) Sweep(ctx context.Context, inactivityThreshold time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes, err := r.client.SMembers(ctx, roomsSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	cutoff := time.Now().Add(-inactivityThreshold)
	removed := 0
	for _, c := range codes {
		code := domain.RoomCode(c)
		lastActive, err := r.client.HGet(ctx, roomKey(code), "last_active").Int64()
		if err == redis.Nil {
			// room hash already gone; drop the dangling set entry
			r.client.SRem(ctx, roomsSetKey, c)
			continue
		} else if err != nil {
			return removed, fmt.Errorf("read room %s activity: %w", code, err)
		}
		if time.Unix(0, lastActive).After(cutoff) {
			continue
		}

		room, err := r.loadRoom(ctx, code)
		if err != nil {
			return removed, err
		}
		for _, m := range room.Members {
			r.client.Del(ctx, connKey(m.ConnectionID))
		}
		if err := r.destroyRoom(ctx, code); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (r *RoomRegistry) Counts(ctx context.Context) (int, int, error) {
	codes, err := r.client.SMembers(ctx, roomsSetKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("list rooms: %w", err)
	}
	members := 0
	for _, c := range codes {
		n, err := r.client.HLen(ctx, membersKey(domain.RoomCode(c))).Result()
		if err != nil {
			return 0, 0, fmt.Errorf("count members of %s: %w", c, err)
		}
		members += int(n)
	}
	return len(codes), members, nil
}

func (r *RoomRegistry) getOrCreateLocked(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	exists, err := r.client.Exists(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("check room %s: %w", code, err)
	}
	if exists == 0 {
		now := time.Now()
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, roomKey(code), map[string]interface{}{
			"name":        string(code),
			"host_id":     "",
			"created_at":  now.UnixNano(),
			"last_active": now.UnixNano(),
		})
		pipe.SAdd(ctx, roomsSetKey, string(code))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("create room %s: %w", code, err)
		}
	}
	return r.loadRoom(ctx, code)
}

func (r *RoomRegistry) loadRoom(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	fields, err := r.client.HGetAll(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}

	room := domain.NewRoom(code, fields["name"])
	room.HostID = domain.MemberID(fields["host_id"])
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		room.CreatedAt = time.Unix(0, v)
	}
	if v, err := strconv.ParseInt(fields["last_active"], 10, 64); err == nil {
		room.LastActive = time.Unix(0, v)
	}

	raw, err := r.client.HGetAll(ctx, membersKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("load members of %s: %w", code, err)
	}
	for _, data := range raw {
		var m domain.Member
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("decode member in room %s: %w", code, err)
		}
		room.Members[m.ID] = &m
	}
	return room, nil
}

func (r *RoomRegistry) getMember(ctx context.Context, code domain.RoomCode, id domain.MemberID) (*domain.Member, error) {
	data, err := r.client.HGet(ctx, membersKey(code), string(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMemberNotFound
	} else if err != nil {
		return nil, fmt.Errorf("load member %s: %w", id, err)
	}
	var m domain.Member
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode member %s: %w", id, err)
	}
	return &m, nil
}

func (r *RoomRegistry) putMember(ctx context.Context, code domain.RoomCode, m *domain.Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode member %s: %w", m.ID, err)
	}
	if err := r.client.HSet(ctx, membersKey(code), string(m.ID), data).Err(); err != nil {
		return fmt.Errorf("store member %s: %w", m.ID, err)
	}
	return nil
}

func (r *RoomRegistry) touch(ctx context.Context, code domain.RoomCode) error {
	if err := r.client.HSet(ctx, roomKey(code), "last_active", time.Now().UnixNano()).Err(); err != nil {
		return fmt.Errorf("touch room %s: %w", code, err)
	}
	return nil
}

func (r *RoomRegistry) destroyRoom(ctx context.Context, code domain.RoomCode) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, roomKey(code), membersKey(code))
	pipe.SRem(ctx, roomsSetKey, string(code))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("destroy room %s: %w", code, err)
	}
	return nil
}

func joinConnRef(code domain.RoomCode, id domain.MemberID) string {
	return string(code) + "|" + string(id)
}

func splitConnRef(ref string) (domain.RoomCode, domain.MemberID) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '|' {
			return domain.RoomCode(ref[:i]), domain.MemberID(ref[i+1:])
		}
	}
	return domain.RoomCode(ref), ""
}
