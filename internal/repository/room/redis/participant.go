package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/syncserver/internal/repository/room"
)

func (r repo) SetParticipant(ctx context.Context, params *room.SetParticipantParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)

	if err := setParticipantScript.Run(ctx, r.rc,
		[]string{
			r.getParticipantKey(params.RoomCode, params.UserId),
			r.getParticipantListKey(params.RoomCode),
		},
		r.ttlSeconds(),
		params.UserId,
		"room_code", params.RoomCode,
		"user_id", params.UserId,
		"username", params.Username,
		"is_host", boolArg(params.IsHost),
		"status", params.Status,
		"joined_at", params.JoinedAt,
		"left_at", 0,
	).Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to set participant: %w", err)
	}

	return nil
}

func (r repo) GetParticipant(ctx context.Context, params *room.GetParticipantParams) (room.Participant, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	cmd := r.rc.HGetAll(ctx, r.getParticipantKey(params.RoomCode, params.UserId))
	if err := cmd.Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}

	if len(cmd.Val()) == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrParticipantNotFound)
		return room.Participant{}, room.ErrParticipantNotFound
	}

	var participant room.Participant
	if err := cmd.Scan(&participant); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Participant{}, fmt.Errorf("failed to scan participant: %w", err)
	}

	return participant, nil
}

func (r repo) ListParticipants(ctx context.Context, roomCode string) ([]room.Participant, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode)

	userIds, err := r.rc.ZRange(ctx, r.getParticipantListKey(roomCode), 0, -1).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to get participant ids: %w", err)
	}

	keys := make([]string, 0, len(userIds))
	for _, userId := range userIds {
		keys = append(keys, r.getParticipantKey(roomCode, userId))
	}

	participants, err := hGetAllMany[room.Participant](ctx, r.rc, keys)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	return participants, nil
}

func (r repo) UpdateParticipantStatus(ctx context.Context, params *room.UpdateParticipantStatusParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)

	args := []any{r.ttlSeconds(), "status", params.Status}
	switch params.Status {
	case room.StatusActive:
		args = append(args, "joined_at", params.UpdatedAt, "left_at", 0)
	case room.StatusLeft:
		args = append(args, "left_at", params.UpdatedAt)
	}
	if params.Username != "" {
		args = append(args, "username", params.Username)
	}

	updated, err := hSetIfExistsScript.Run(ctx, r.rc,
		[]string{r.getParticipantKey(params.RoomCode, params.UserId)},
		args...,
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to update participant status: %w", err)
	}

	if updated == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrParticipantNotFound)
		return room.ErrParticipantNotFound
	}

	if _, err := r.refreshRoom(ctx, params.RoomCode); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	return nil
}
