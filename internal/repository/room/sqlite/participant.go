package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sharetube/syncserver/internal/repository/room"
)

const participantColumns = "room_code, user_id, username, is_host, status, joined_at, left_at"

func (r repo) SetParticipant(ctx context.Context, params *room.SetParticipantParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)

	query := `INSERT INTO participants (` + participantColumns + `) VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (room_code, user_id) DO UPDATE SET
			username = excluded.username,
			is_host = excluded.is_host,
			status = excluded.status,
			joined_at = excluded.joined_at,
			left_at = 0`
	if _, err := r.db.ExecContext(ctx, query,
		params.RoomCode, params.UserId, params.Username, params.IsHost, params.Status, params.JoinedAt,
	); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to upsert participant: %w", err)
	}

	return nil
}

func scanParticipant(row interface{ Scan(...any) error }) (room.Participant, error) {
	var p room.Participant
	err := row.Scan(&p.RoomCode, &p.UserId, &p.Username, &p.IsHost, &p.Status, &p.JoinedAt, &p.LeftAt)

	return p, err
}

func (r repo) GetParticipant(ctx context.Context, params *room.GetParticipantParams) (room.Participant, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	query := "SELECT " + participantColumns + " FROM participants WHERE room_code = ? AND user_id = ?"
	participant, err := scanParticipant(r.db.QueryRowContext(ctx, query, params.RoomCode, params.UserId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.DebugContext(ctx, "returned", "error", room.ErrParticipantNotFound)
			return room.Participant{}, room.ErrParticipantNotFound
		}
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Participant{}, fmt.Errorf("failed to query participant: %w", err)
	}

	return participant, nil
}

func (r repo) ListParticipants(ctx context.Context, roomCode string) ([]room.Participant, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode)

	query := "SELECT " + participantColumns + " FROM participants WHERE room_code = ? ORDER BY rowid"
	rows, err := r.db.QueryContext(ctx, query, roomCode)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]room.Participant, 0)
	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over participants: %w", err)
	}

	return participants, nil
}

func (r repo) UpdateParticipantStatus(ctx context.Context, params *room.UpdateParticipantStatusParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)

	query := "UPDATE participants SET status = ?"
	args := []any{params.Status}
	switch params.Status {
	case room.StatusActive:
		query += ", joined_at = ?, left_at = 0"
		args = append(args, params.UpdatedAt)
	case room.StatusLeft:
		query += ", left_at = ?"
		args = append(args, params.UpdatedAt)
	}
	if params.Username != "" {
		query += ", username = ?"
		args = append(args, params.Username)
	}
	query += " WHERE room_code = ? AND user_id = ?"
	args = append(args, params.RoomCode, params.UserId)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to update participant status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrParticipantNotFound)
		return room.ErrParticipantNotFound
	}

	return nil
}
