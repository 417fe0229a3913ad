package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncserver/internal/repository/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*repo, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	return NewRepo(rc, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func createTestRoom(t *testing.T, r *repo, code string) {
	t.Helper()

	require.NoError(t, r.CreateRoom(context.Background(), &room.CreateRoomParams{
		Id:        "room-" + code,
		Code:      code,
		VideoURL:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		CreatedAt: 1000,
	}))
}

func TestCreateRoom(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	rm, err := r.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, room.Room{
		Id:        "room-ABC123",
		Code:      "ABC123",
		VideoURL:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		CreatedAt: 1000,
		UpdatedAt: 1000,
	}, rm)
	assert.Equal(t, time.Hour, s.TTL("room:ABC123"))

	err = r.CreateRoom(ctx, &room.CreateRoomParams{Id: "other", Code: "ABC123", CreatedAt: 2000})
	assert.ErrorIs(t, err, room.ErrRoomAlreadyExists)

	rm, err = r.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "room-ABC123", rm.Id, "collision must not overwrite the existing room")
}

func TestGetRoomNotFound(t *testing.T) {
	r, _ := newTestRepo(t)

	_, err := r.GetRoom(context.Background(), "NOPE00")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestUpdateRoomPartial(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	position := 42.5
	playing := true
	rm, err := r.UpdateRoom(ctx, &room.UpdateRoomParams{
		Code:             "ABC123",
		PlaybackPosition: &position,
		IsPlaying:        &playing,
		UpdatedAt:        2000,
	})
	require.NoError(t, err)
	assert.Equal(t, 42.5, rm.PlaybackPosition)
	assert.True(t, rm.IsPlaying)
	assert.False(t, rm.SubtitleEnabled)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", rm.VideoURL)
	assert.Equal(t, int64(2000), rm.UpdatedAt)

	empty := ""
	rm, err = r.UpdateRoom(ctx, &room.UpdateRoomParams{Code: "ABC123", VideoURL: &empty, UpdatedAt: 3000})
	require.NoError(t, err)
	assert.Empty(t, rm.VideoURL)
	assert.Equal(t, 42.5, rm.PlaybackPosition)

	_, err = r.UpdateRoom(ctx, &room.UpdateRoomParams{Code: "NOPE00", IsPlaying: &playing, UpdatedAt: 3000})
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestParticipants(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	require.NoError(t, r.SetParticipant(ctx, &room.SetParticipantParams{
		RoomCode: "ABC123", UserId: "alice-id", Username: "alice", IsHost: true, Status: room.StatusActive, JoinedAt: 1000,
	}))
	require.NoError(t, r.SetParticipant(ctx, &room.SetParticipantParams{
		RoomCode: "ABC123", UserId: "bob-id", Username: "bob", Status: room.StatusActive, JoinedAt: 1100,
	}))
	// re-setting alice keeps her first-join position in the roster
	require.NoError(t, r.SetParticipant(ctx, &room.SetParticipantParams{
		RoomCode: "ABC123", UserId: "alice-id", Username: "alice2", IsHost: true, Status: room.StatusActive, JoinedAt: 1200,
	}))

	participants, err := r.ListParticipants(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "alice2", participants[0].Username)
	assert.True(t, participants[0].IsHost)
	assert.Equal(t, "bob", participants[1].Username)
	assert.False(t, participants[1].IsHost)

	require.NoError(t, r.UpdateParticipantStatus(ctx, &room.UpdateParticipantStatusParams{
		RoomCode: "ABC123", UserId: "bob-id", Status: room.StatusLeft, UpdatedAt: 1500,
	}))
	bob, err := r.GetParticipant(ctx, &room.GetParticipantParams{RoomCode: "ABC123", UserId: "bob-id"})
	require.NoError(t, err)
	assert.Equal(t, room.StatusLeft, bob.Status)
	assert.Equal(t, int64(1500), bob.LeftAt)
	assert.Equal(t, int64(1100), bob.JoinedAt)

	require.NoError(t, r.UpdateParticipantStatus(ctx, &room.UpdateParticipantStatusParams{
		RoomCode: "ABC123", UserId: "bob-id", Status: room.StatusActive, Username: "bobby", UpdatedAt: 1600,
	}))
	bob, err = r.GetParticipant(ctx, &room.GetParticipantParams{RoomCode: "ABC123", UserId: "bob-id"})
	require.NoError(t, err)
	assert.Equal(t, room.StatusActive, bob.Status)
	assert.Equal(t, "bobby", bob.Username)
	assert.Equal(t, int64(1600), bob.JoinedAt)
	assert.Zero(t, bob.LeftAt)

	err = r.UpdateParticipantStatus(ctx, &room.UpdateParticipantStatusParams{
		RoomCode: "ABC123", UserId: "carol-id", Status: room.StatusLeft, UpdatedAt: 1700,
	})
	assert.ErrorIs(t, err, room.ErrParticipantNotFound)

	_, err = r.GetParticipant(ctx, &room.GetParticipantParams{RoomCode: "ABC123", UserId: "carol-id"})
	assert.ErrorIs(t, err, room.ErrParticipantNotFound)
}

func TestCreateJoinRequestIsIdempotent(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	first, created, err := r.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id: "req-1", RoomCode: "ABC123", UserId: "bob-id", Username: "bob", Browser: "Chrome", BrowserVersion: "120.0", CreatedAt: 1000,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, room.StatusPending, first.Status)
	assert.Equal(t, "Chrome", first.Browser)

	second, created, err := r.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id: "req-2", RoomCode: "ABC123", UserId: "bob-id", Username: "bob", CreatedAt: 1100,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "req-1", second.Id)

	pending, err := r.GetPendingJoinRequest(ctx, "ABC123", "bob-id")
	require.NoError(t, err)
	assert.Equal(t, "req-1", pending.Id)

	requests, err := r.ListJoinRequests(ctx, "ABC123")
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestGetJoinRequestChecksRoom(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")
	createTestRoom(t, r, "XYZ789")

	_, _, err := r.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id: "req-1", RoomCode: "ABC123", UserId: "bob-id", Username: "bob", CreatedAt: 1000,
	})
	require.NoError(t, err)

	_, err = r.GetJoinRequest(ctx, &room.GetJoinRequestParams{RoomCode: "XYZ789", RequestId: "req-1"})
	assert.ErrorIs(t, err, room.ErrJoinRequestNotFound)

	_, err = r.GetPendingJoinRequest(ctx, "ABC123", "carol-id")
	assert.ErrorIs(t, err, room.ErrJoinRequestNotFound)
}

func TestApproveJoinRequest(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	_, _, err := r.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id: "req-1", RoomCode: "ABC123", UserId: "bob-id", Username: "bob", CreatedAt: 1000,
	})
	require.NoError(t, err)

	params := &room.ResolveJoinRequestParams{RoomCode: "ABC123", RequestId: "req-1", Status: room.StatusApproved, ResolvedAt: 2000}
	jr, changed, err := r.ResolveJoinRequest(ctx, params)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, room.StatusApproved, jr.Status)
	assert.Equal(t, int64(2000), jr.ResolvedAt)

	bob, err := r.GetParticipant(ctx, &room.GetParticipantParams{RoomCode: "ABC123", UserId: "bob-id"})
	require.NoError(t, err)
	assert.Equal(t, room.StatusActive, bob.Status)
	assert.Equal(t, int64(2000), bob.JoinedAt)
	assert.False(t, bob.IsHost)

	_, err = r.GetPendingJoinRequest(ctx, "ABC123", "bob-id")
	assert.ErrorIs(t, err, room.ErrJoinRequestNotFound)

	params.Status = room.StatusRejected
	params.ResolvedAt = 3000
	jr, changed, err = r.ResolveJoinRequest(ctx, params)
	require.NoError(t, err)
	assert.False(t, changed, "resolved request must not change again")
	assert.Equal(t, room.StatusApproved, jr.Status)
	assert.Equal(t, int64(2000), jr.ResolvedAt)
}

func TestRejectJoinRequest(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	_, _, err := r.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id: "req-1", RoomCode: "ABC123", UserId: "bob-id", Username: "bob", CreatedAt: 1000,
	})
	require.NoError(t, err)

	jr, changed, err := r.ResolveJoinRequest(ctx, &room.ResolveJoinRequestParams{
		RoomCode: "ABC123", RequestId: "req-1", Status: room.StatusRejected, ResolvedAt: 2000,
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, room.StatusRejected, jr.Status)

	_, err = r.GetParticipant(ctx, &room.GetParticipantParams{RoomCode: "ABC123", UserId: "bob-id"})
	assert.ErrorIs(t, err, room.ErrParticipantNotFound)

	// a rejected identity may ask again
	jr, created, err := r.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id: "req-2", RoomCode: "ABC123", UserId: "bob-id", Username: "bob", CreatedAt: 3000,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "req-2", jr.Id)

	_, _, err = r.ResolveJoinRequest(ctx, &room.ResolveJoinRequestParams{
		RoomCode: "ABC123", RequestId: "missing", Status: room.StatusRejected, ResolvedAt: 4000,
	})
	assert.ErrorIs(t, err, room.ErrJoinRequestNotFound)
}

func TestReadingRoomRefreshesAllKeys(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	require.NoError(t, r.SetParticipant(ctx, &room.SetParticipantParams{
		RoomCode: "ABC123", UserId: "alice-id", Username: "alice", IsHost: true, Status: room.StatusActive, JoinedAt: 1000,
	}))
	_, _, err := r.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id: "req-1", RoomCode: "ABC123", UserId: "bob-id", Username: "bob", CreatedAt: 1000,
	})
	require.NoError(t, err)

	s.FastForward(50 * time.Minute)
	_, err = r.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	s.FastForward(20 * time.Minute)

	_, err = r.GetRoom(ctx, "ABC123")
	require.NoError(t, err)

	participants, err := r.ListParticipants(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.True(t, participants[0].IsHost)

	alice, err := r.GetParticipant(ctx, &room.GetParticipantParams{RoomCode: "ABC123", UserId: "alice-id"})
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.Username)

	pending, err := r.GetPendingJoinRequest(ctx, "ABC123", "bob-id")
	require.NoError(t, err)
	assert.Equal(t, "req-1", pending.Id)

	for _, key := range []string{
		"room:ABC123",
		"room:ABC123:participants",
		"room:ABC123:participant:alice-id",
		"room:ABC123:join-requests",
		"room:ABC123:pending-join-request:bob-id",
		"join-request:req-1",
	} {
		assert.Equal(t, time.Hour, s.TTL(key), key)
	}
}

func TestStatusUpdateRefreshesRoom(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	require.NoError(t, r.SetParticipant(ctx, &room.SetParticipantParams{
		RoomCode: "ABC123", UserId: "alice-id", Username: "alice", IsHost: true, Status: room.StatusActive, JoinedAt: 1000,
	}))

	s.FastForward(50 * time.Minute)
	require.NoError(t, r.UpdateParticipantStatus(ctx, &room.UpdateParticipantStatusParams{
		RoomCode: "ABC123", UserId: "alice-id", Status: room.StatusLeft, UpdatedAt: 2000,
	}))
	s.FastForward(20 * time.Minute)

	_, err := r.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	participants, err := r.ListParticipants(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, room.StatusLeft, participants[0].Status)
}

func TestUpdateRoomRefreshesTTL(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()
	createTestRoom(t, r, "ABC123")

	s.FastForward(50 * time.Minute)
	playing := true
	_, err := r.UpdateRoom(ctx, &room.UpdateRoomParams{Code: "ABC123", IsPlaying: &playing, UpdatedAt: 2000})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, s.TTL("room:ABC123"))
}
