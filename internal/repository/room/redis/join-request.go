package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncserver/internal/repository/room"
)

func (r repo) CreateJoinRequest(ctx context.Context, params *room.CreateJoinRequestParams) (room.JoinRequest, bool, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	res, err := createJoinRequestScript.Run(ctx, r.rc,
		[]string{
			r.getPendingJoinRequestKey(params.RoomCode, params.UserId),
			r.getJoinRequestKey(params.Id),
			r.getJoinRequestListKey(params.RoomCode),
		},
		params.Id,
		params.RoomCode,
		params.UserId,
		params.Username,
		params.Browser,
		params.BrowserVersion,
		params.CreatedAt,
		r.ttlSeconds(),
	).Slice()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, false, fmt.Errorf("failed to create join request: %w", err)
	}

	if len(res) != 2 {
		return room.JoinRequest{}, false, errors.New("unexpected create join request reply")
	}

	requestId, _ := res[0].(string)
	created, _ := res[1].(int64)

	joinRequest, err := r.GetJoinRequest(ctx, &room.GetJoinRequestParams{
		RoomCode:  params.RoomCode,
		RequestId: requestId,
	})
	if err != nil {
		return room.JoinRequest{}, false, err
	}

	return joinRequest, created == 1, nil
}

func (r repo) GetJoinRequest(ctx context.Context, params *room.GetJoinRequestParams) (room.JoinRequest, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	cmd := r.rc.HGetAll(ctx, r.getJoinRequestKey(params.RequestId))
	if err := cmd.Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, fmt.Errorf("failed to get join request: %w", err)
	}

	if len(cmd.Val()) == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrJoinRequestNotFound)
		return room.JoinRequest{}, room.ErrJoinRequestNotFound
	}

	var joinRequest room.JoinRequest
	if err := cmd.Scan(&joinRequest); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, fmt.Errorf("failed to scan join request: %w", err)
	}

	if joinRequest.RoomCode != params.RoomCode {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrJoinRequestNotFound)
		return room.JoinRequest{}, room.ErrJoinRequestNotFound
	}

	return joinRequest, nil
}

func (r repo) GetPendingJoinRequest(ctx context.Context, roomCode, userId string) (room.JoinRequest, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode, "user_id", userId)

	requestId, err := r.rc.Get(ctx, r.getPendingJoinRequestKey(roomCode, userId)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.DebugContext(ctx, "returned", "error", room.ErrJoinRequestNotFound)
			return room.JoinRequest{}, room.ErrJoinRequestNotFound
		}
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, fmt.Errorf("failed to get pending join request: %w", err)
	}

	return r.GetJoinRequest(ctx, &room.GetJoinRequestParams{
		RoomCode:  roomCode,
		RequestId: requestId,
	})
}

func (r repo) ListJoinRequests(ctx context.Context, roomCode string) ([]room.JoinRequest, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode)

	requestIds, err := r.rc.ZRange(ctx, r.getJoinRequestListKey(roomCode), 0, -1).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to get join request ids: %w", err)
	}

	keys := make([]string, 0, len(requestIds))
	for _, requestId := range requestIds {
		keys = append(keys, r.getJoinRequestKey(requestId))
	}

	joinRequests, err := hGetAllMany[room.JoinRequest](ctx, r.rc, keys)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to get join requests: %w", err)
	}

	return joinRequests, nil
}

func (r repo) ResolveJoinRequest(ctx context.Context, params *room.ResolveJoinRequestParams) (room.JoinRequest, bool, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	getParams := &room.GetJoinRequestParams{
		RoomCode:  params.RoomCode,
		RequestId: params.RequestId,
	}
	joinRequest, err := r.GetJoinRequest(ctx, getParams)
	if err != nil {
		return room.JoinRequest{}, false, err
	}

	res, err := resolveJoinRequestScript.Run(ctx, r.rc,
		[]string{
			r.getJoinRequestKey(params.RequestId),
			r.getPendingJoinRequestKey(params.RoomCode, joinRequest.UserId),
			r.getParticipantKey(params.RoomCode, joinRequest.UserId),
			r.getParticipantListKey(params.RoomCode),
		},
		params.Status,
		params.ResolvedAt,
		params.RoomCode,
		joinRequest.UserId,
		joinRequest.Username,
		r.ttlSeconds(),
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, false, fmt.Errorf("failed to resolve join request: %w", err)
	}

	if res < 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrJoinRequestNotFound)
		return room.JoinRequest{}, false, room.ErrJoinRequestNotFound
	}

	joinRequest, err = r.GetJoinRequest(ctx, getParams)
	if err != nil {
		return room.JoinRequest{}, false, err
	}

	return joinRequest, res == 1, nil
}
