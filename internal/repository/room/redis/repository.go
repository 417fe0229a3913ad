package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	logger         *slog.Logger
	expireDuration time.Duration
}

func NewRepo(rc *redis.Client, expireDuration time.Duration, logger *slog.Logger) *repo {
	return &repo{
		rc:             rc,
		logger:         logger,
		expireDuration: expireDuration,
	}
}

func (r repo) ttlSeconds() int64 {
	return int64(r.expireDuration / time.Second)
}

// refreshRoom resets the ttl of every key belonging to roomCode. It reports whether the
// room exists.
func (r repo) refreshRoom(ctx context.Context, roomCode string) (bool, error) {
	refreshed, err := refreshRoomScript.Run(ctx, r.rc,
		[]string{
			r.getRoomKey(roomCode),
			r.getParticipantListKey(roomCode),
			r.getJoinRequestListKey(roomCode),
		},
		r.ttlSeconds(),
		r.getParticipantKey(roomCode, ""),
		r.getJoinRequestKey(""),
		r.getPendingJoinRequestKey(roomCode, ""),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh room ttl: %w", err)
	}

	return refreshed == 1, nil
}

func (r repo) getRoomKey(roomCode string) string {
	return "room:" + roomCode
}

func (r repo) getParticipantListKey(roomCode string) string {
	return "room:" + roomCode + ":participants"
}

func (r repo) getParticipantKey(roomCode, userId string) string {
	return "room:" + roomCode + ":participant:" + userId
}

func (r repo) getJoinRequestListKey(roomCode string) string {
	return "room:" + roomCode + ":join-requests"
}

func (r repo) getPendingJoinRequestKey(roomCode, userId string) string {
	return "room:" + roomCode + ":pending-join-request:" + userId
}

func (r repo) getJoinRequestKey(requestId string) string {
	return "join-request:" + requestId
}
