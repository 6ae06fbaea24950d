package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"syncroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_FirstMemberBecomesHost(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	res, err := reg.Join(ctx, "ABC123", "conn-1", "Alice")
	require.NoError(t, err)

	assert.True(t, res.IsNewMember)
	assert.True(t, res.Member.IsHost)
	assert.Equal(t, res.Member.ID, res.Room.HostID)
	assert.Equal(t, "Alice", res.Member.DisplayName)
	assert.Len(t, res.Room.Members, 1)
}

func TestJoin_ExactlyOneHostAfterEveryJoin(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := reg.Join(ctx, "room", domain.ConnectionID(fmt.Sprintf("conn-%d", i)), fmt.Sprintf("user-%d", i))
		require.NoError(t, err)

		hosts := 0
		for _, m := range res.Room.Members {
			if m.IsHost {
				hosts++
				assert.Equal(t, m.ID, res.Room.HostID)
			}
		}
		assert.Equal(t, 1, hosts, "after join %d", i)
	}
}

func TestJoin_RoomFull(t *testing.T) {
	reg := NewRoomRegistry(2)
	ctx := context.Background()

	_, err := reg.Join(ctx, "room", "conn-1", "a")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "room", "conn-2", "b")
	require.NoError(t, err)

	_, err = reg.Join(ctx, "room", "conn-3", "c")
	assert.ErrorIs(t, err, domain.ErrRoomFull)
}

func TestJoin_ReconnectIsIdempotent(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	first, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)

	again, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)

	assert.False(t, again.IsNewMember)
	assert.Equal(t, first.Member.ID, again.Member.ID)
	assert.Equal(t, first.Member.IsHost, again.Member.IsHost)
	assert.Len(t, again.Room.Members, 1, "reconnect must not grow membership")
}

func TestJoin_ReconnectPreservesHostFlag(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	host, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "room", "conn-2", "Bob")
	require.NoError(t, err)

	again, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)
	assert.True(t, again.Member.IsHost)
	assert.Equal(t, host.Member.ID, again.Room.HostID)
}

func TestJoin_SameConnectionSwitchingRoomsLeavesOldRoom(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	_, err := reg.Join(ctx, "old", "conn-1", "Alice")
	require.NoError(t, err)

	res, err := reg.Join(ctx, "new", "conn-1", "Alice")
	require.NoError(t, err)
	assert.True(t, res.IsNewMember)

	require.NotNil(t, res.PreviousLeave, "the implicit leave must be reported")
	assert.True(t, res.PreviousLeave.RoomClosed)
	assert.Equal(t, domain.RoomCode("old"), res.PreviousLeave.Room.Code)

	_, err = reg.Get(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound, "old room should be destroyed once empty")
}

func TestJoin_HostSwitchingRoomsPromotesInOldRoom(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	_, err := reg.Join(ctx, "old", "conn-1", "Alice")
	require.NoError(t, err)
	bob, err := reg.Join(ctx, "old", "conn-2", "Bob")
	require.NoError(t, err)

	res, err := reg.Join(ctx, "new", "conn-1", "Alice")
	require.NoError(t, err)

	require.NotNil(t, res.PreviousLeave)
	assert.False(t, res.PreviousLeave.RoomClosed)
	require.NotNil(t, res.PreviousLeave.NewHost)
	assert.Equal(t, bob.Member.ID, res.PreviousLeave.NewHost.ID)

	old, err := reg.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, bob.Member.ID, old.HostID)
}

func TestLeave_HostPromotionIsEarliestJoined(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	_, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)
	bob, err := reg.Join(ctx, "room", "conn-2", "Bob")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "room", "conn-3", "Carol")
	require.NoError(t, err)

	res, err := reg.Leave(ctx, "conn-1")
	require.NoError(t, err)

	require.NotNil(t, res.NewHost)
	assert.Equal(t, bob.Member.ID, res.NewHost.ID)
	assert.True(t, res.NewHost.IsHost)
	assert.Equal(t, bob.Member.ID, res.Room.HostID)
	assert.False(t, res.RoomClosed)
}

func TestLeave_NonHostLeavingKeepsHost(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	alice, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "room", "conn-2", "Bob")
	require.NoError(t, err)

	res, err := reg.Leave(ctx, "conn-2")
	require.NoError(t, err)

	assert.Nil(t, res.NewHost)
	assert.Equal(t, alice.Member.ID, res.Room.HostID)
}

func TestLeave_LastMemberDestroysRoom(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	_, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)

	res, err := reg.Leave(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, res.RoomClosed)

	_, err = reg.Get(ctx, "room")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestLeave_UnknownConnection(t *testing.T) {
	reg := NewRoomRegistry(10)

	_, err := reg.Leave(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestMemberByConnection(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	joined, err := reg.Join(ctx, "room", "conn-1", "Alice")
	require.NoError(t, err)

	room, member, err := reg.MemberByConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomCode("room"), room.Code)
	assert.Equal(t, joined.Member.ID, member.ID)

	_, _, err = reg.MemberByConnection(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestSweep_RemovesInactiveRoomsOnly(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	_, err := reg.Join(ctx, "stale", "conn-1", "Alice")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = reg.Join(ctx, "fresh", "conn-2", "Bob")
	require.NoError(t, err)

	removed, err := reg.Sweep(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = reg.Get(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = reg.Get(ctx, "fresh")
	assert.NoError(t, err)

	// connection index of swept members is released too
	_, _, err = reg.MemberByConnection(ctx, "conn-1")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestCounts(t *testing.T) {
	reg := NewRoomRegistry(10)
	ctx := context.Background()

	_, err := reg.Join(ctx, "a", "conn-1", "Alice")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "a", "conn-2", "Bob")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "b", "conn-3", "Carol")
	require.NoError(t, err)

	rooms, members, err := reg.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 3, members)
}
