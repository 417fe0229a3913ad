package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sharetube/syncserver/internal/repository/room"
	omitnilpointers "github.com/sharetube/syncserver/pkg/omit-nil-pointers"
)

func (r repo) CreateRoom(ctx context.Context, params *room.CreateRoomParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	roomKey := r.getRoomKey(params.Code)

	claimed, err := r.rc.HSetNX(ctx, roomKey, "id", params.Id).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to claim room code: %w", err)
	}

	if !claimed {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomAlreadyExists)
		return room.ErrRoomAlreadyExists
	}

	pipe := r.rc.TxPipeline()
	r.hSetStruct(ctx, pipe, roomKey, room.Room{
		Id:               params.Id,
		Code:             params.Code,
		VideoURL:         params.VideoURL,
		PlaybackPosition: 0,
		IsPlaying:        false,
		SubtitleEnabled:  false,
		CreatedAt:        params.CreatedAt,
		UpdatedAt:        params.CreatedAt,
	})
	pipe.Expire(ctx, roomKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (r repo) GetRoom(ctx context.Context, roomCode string) (room.Room, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode)
	roomKey := r.getRoomKey(roomCode)

	cmd := r.rc.HGetAll(ctx, roomKey)
	if err := cmd.Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to get room: %w", err)
	}

	if len(cmd.Val()) == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return room.Room{}, room.ErrRoomNotFound
	}

	var rm room.Room
	if err := cmd.Scan(&rm); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to scan room: %w", err)
	}

	if _, err := r.refreshRoom(ctx, roomCode); err != nil {
		r.logger.InfoContext(ctx, "failed to refresh room", "room_code", roomCode, "error", err)
	}

	return rm, nil
}

func (r repo) UpdateRoom(ctx context.Context, params *room.UpdateRoomParams) (room.Room, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	fields := omitnilpointers.OmitNilPointers(map[string]any{
		"video_url":         params.VideoURL,
		"playback_position": params.PlaybackPosition,
		"is_playing":        params.IsPlaying,
		"subtitle_enabled":  params.SubtitleEnabled,
	})
	fields["updated_at"] = params.UpdatedAt

	args := make([]any, 0, len(fields)*2+1)
	args = append(args, r.ttlSeconds())
	for _, key := range omitnilpointers.Keys(fields) {
		args = append(args, key, redisArg(fields[key]))
	}

	updated, err := hSetIfExistsScript.Run(ctx, r.rc, []string{r.getRoomKey(params.Code)}, args...).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to update room: %w", err)
	}

	if updated == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return room.Room{}, room.ErrRoomNotFound
	}

	return r.GetRoom(ctx, params.Code)
}

func redisArg(value any) any {
	switch v := value.(type) {
	case bool:
		return boolArg(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return v
	}
}
