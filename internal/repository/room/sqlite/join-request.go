package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sharetube/syncserver/internal/repository/room"
)

const joinRequestColumns = "id, room_code, user_id, username, browser, browser_version, status, created_at, resolved_at"

func scanJoinRequest(row interface{ Scan(...any) error }) (room.JoinRequest, error) {
	var jr room.JoinRequest
	err := row.Scan(&jr.Id, &jr.RoomCode, &jr.UserId, &jr.Username, &jr.Browser, &jr.BrowserVersion, &jr.Status, &jr.CreatedAt, &jr.ResolvedAt)

	return jr, err
}

func getJoinRequest(ctx context.Context, q queryRower, roomCode, requestId string) (room.JoinRequest, error) {
	query := "SELECT " + joinRequestColumns + " FROM join_requests WHERE id = ? AND room_code = ?"
	joinRequest, err := scanJoinRequest(q.QueryRowContext(ctx, query, requestId, roomCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return room.JoinRequest{}, room.ErrJoinRequestNotFound
		}
		return room.JoinRequest{}, fmt.Errorf("failed to query join request: %w", err)
	}

	return joinRequest, nil
}

func getPendingJoinRequest(ctx context.Context, q queryRower, roomCode, userId string) (room.JoinRequest, error) {
	query := "SELECT " + joinRequestColumns + " FROM join_requests WHERE room_code = ? AND user_id = ? AND status = ?"
	joinRequest, err := scanJoinRequest(q.QueryRowContext(ctx, query, roomCode, userId, room.StatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return room.JoinRequest{}, room.ErrJoinRequestNotFound
		}
		return room.JoinRequest{}, fmt.Errorf("failed to query pending join request: %w", err)
	}

	return joinRequest, nil
}

func (r repo) CreateJoinRequest(ctx context.Context, params *room.CreateJoinRequestParams) (room.JoinRequest, bool, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	var (
		joinRequest room.JoinRequest
		created     bool
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getPendingJoinRequest(ctx, tx, params.RoomCode, params.UserId)
		if err == nil {
			joinRequest = existing
			return nil
		}
		if !errors.Is(err, room.ErrJoinRequestNotFound) {
			return err
		}

		query := "INSERT INTO join_requests (" + joinRequestColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)"
		if _, err := tx.ExecContext(ctx, query,
			params.Id, params.RoomCode, params.UserId, params.Username, params.Browser, params.BrowserVersion,
			room.StatusPending, params.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert join request: %w", err)
		}

		joinRequest = room.JoinRequest{
			Id:             params.Id,
			RoomCode:       params.RoomCode,
			UserId:         params.UserId,
			Username:       params.Username,
			Browser:        params.Browser,
			BrowserVersion: params.BrowserVersion,
			Status:         room.StatusPending,
			CreatedAt:      params.CreatedAt,
		}
		created = true
		return nil
	})
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, false, err
	}

	return joinRequest, created, nil
}

func (r repo) GetJoinRequest(ctx context.Context, params *room.GetJoinRequestParams) (room.JoinRequest, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	joinRequest, err := getJoinRequest(ctx, r.db, params.RoomCode, params.RequestId)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, err
	}

	return joinRequest, nil
}

func (r repo) GetPendingJoinRequest(ctx context.Context, roomCode, userId string) (room.JoinRequest, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode, "user_id", userId)

	joinRequest, err := getPendingJoinRequest(ctx, r.db, roomCode, userId)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, err
	}

	return joinRequest, nil
}

func (r repo) ListJoinRequests(ctx context.Context, roomCode string) ([]room.JoinRequest, error) {
	r.logger.DebugContext(ctx, "called", "room_code", roomCode)

	query := "SELECT " + joinRequestColumns + " FROM join_requests WHERE room_code = ? ORDER BY created_at, rowid"
	rows, err := r.db.QueryContext(ctx, query, roomCode)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to query join requests: %w", err)
	}
	defer rows.Close()

	joinRequests := make([]room.JoinRequest, 0)
	for rows.Next() {
		joinRequest, err := scanJoinRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan join request: %w", err)
		}
		joinRequests = append(joinRequests, joinRequest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over join requests: %w", err)
	}

	return joinRequests, nil
}

func (r repo) ResolveJoinRequest(ctx context.Context, params *room.ResolveJoinRequestParams) (room.JoinRequest, bool, error) {
	r.logger.DebugContext(ctx, "called", "params", params)

	var (
		joinRequest room.JoinRequest
		changed     bool
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getJoinRequest(ctx, tx, params.RoomCode, params.RequestId)
		if err != nil {
			return err
		}

		joinRequest = current
		if current.Status != room.StatusPending {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE join_requests SET status = ?, resolved_at = ? WHERE id = ?",
			params.Status, params.ResolvedAt, params.RequestId,
		); err != nil {
			return fmt.Errorf("failed to resolve join request: %w", err)
		}

		if params.Status == room.StatusApproved {
			query := `INSERT INTO participants (` + participantColumns + `) VALUES (?, ?, ?, 0, ?, ?, 0)
				ON CONFLICT (room_code, user_id) DO UPDATE SET
					username = excluded.username,
					status = excluded.status,
					joined_at = excluded.joined_at,
					left_at = 0`
			if _, err := tx.ExecContext(ctx, query,
				params.RoomCode, current.UserId, current.Username, room.StatusActive, params.ResolvedAt,
			); err != nil {
				return fmt.Errorf("failed to activate participant: %w", err)
			}
		}

		joinRequest.Status = params.Status
		joinRequest.ResolvedAt = params.ResolvedAt
		changed = true
		return nil
	})
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.JoinRequest{}, false, err
	}

	return joinRequest, changed, nil
}
