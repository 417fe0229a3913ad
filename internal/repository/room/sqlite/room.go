package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sharetube/syncserver/internal/repository/room"
	omitnilpointers "github.com/sharetube/syncserver/pkg/omit-nil-pointers"
)

const roomColumns = "id, code, video_url, playback_position, is_playing, subtitle_enabled, created_at, updated_at"

func (r repo) CreateRoom(ctx context.Context, params *room.CreateRoomParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)

	query := "INSERT INTO rooms (" + roomColumns + ") VALUES (?, ?, ?, 0, 0, 0, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query,
		params.Id, params.Code, params.VideoURL, params.CreatedAt, params.CreatedAt,
	); err != nil {
		if isConstraintError(err) {
			r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomAlreadyExists)
			return room.ErrRoomAlreadyExists
		}
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to insert room: %w", err)
	}

	return nil
}

func (r repo) GetRoom(ctx context.Context, roomCode string) (room.Room, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode)

	var rm room.Room
	query := "SELECT " + roomColumns + " FROM rooms WHERE code = ?"
	if err := r.db.QueryRowContext(ctx, query, roomCode).Scan(
		&rm.Id, &rm.Code, &rm.VideoURL, &rm.PlaybackPosition, &rm.IsPlaying, &rm.SubtitleEnabled, &rm.CreatedAt, &rm.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
			return room.Room{}, room.ErrRoomNotFound
		}
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to query room: %w", err)
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

	keys := omitnilpointers.Keys(fields)
	set := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, key := range keys {
		set = append(set, key+" = ?")
		args = append(args, fields[key])
	}
	args = append(args, params.Code)

	res, err := r.db.ExecContext(ctx, "UPDATE rooms SET "+strings.Join(set, ", ")+" WHERE code = ?", args...)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to update room: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return room.Room{}, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return room.Room{}, room.ErrRoomNotFound
	}

	return r.GetRoom(ctx, params.Code)
}
