package room

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sharetube/syncserver/internal/repository/connection"
	"github.com/sharetube/syncserver/internal/repository/room"
)

type JoinParams struct {
	Conn     *connection.Conn
	RoomCode string
	UserId   string
	Username string
}

// JoinResponse has Status active when the connection joined the room, or pending when it
// waits for its join request to be resolved.
type JoinResponse struct {
	Status string
}

// Join binds conn to the room. Active and previously left participants join directly and
// receive the current room. Identities with a pending request wait and only receive their
// approval status, starting with the pending one. A connection stays bound to the first
// room and identity it joined with.
func (s service) Join(ctx context.Context, params *JoinParams) (JoinResponse, error) {
	if binding, ok := s.connRepo.Lookup(params.Conn); ok &&
		(binding.RoomCode != params.RoomCode || binding.UserId != params.UserId) {
		return JoinResponse{}, ErrAlreadyJoined
	}

	rm, err := s.roomRepo.GetRoom(ctx, params.RoomCode)
	if err != nil {
		return JoinResponse{}, mapRepoError(err)
	}

	participant, err := s.admitKnownParticipant(ctx, params.RoomCode, params.UserId, params.Username)
	if err != nil {
		if !errors.Is(err, ErrNotAdmitted) {
			return JoinResponse{}, err
		}

		joinRequest, err := s.roomRepo.GetPendingJoinRequest(ctx, params.RoomCode, params.UserId)
		if err != nil {
			if errors.Is(err, room.ErrJoinRequestNotFound) {
				return JoinResponse{}, ErrNotAdmitted
			}
			s.logger.InfoContext(ctx, "failed to get pending join request", "error", err)
			return JoinResponse{}, err
		}

		username := params.Username
		if username == "" {
			username = joinRequest.Username
		}

		s.connRepo.RegisterWaiting(params.Conn, params.RoomCode, params.UserId, username)
		s.sendToConn(ctx, params.Conn, &ApprovalStatusMessage{
			Type:      MessageTypeApprovalStatus,
			UserId:    params.UserId,
			RequestId: joinRequest.Id,
			Status:    joinRequest.Status,
		})
		s.logger.InfoContext(ctx, "connection waiting for approval", "room_code", params.RoomCode, "user_id", params.UserId)

		return JoinResponse{Status: room.StatusPending}, nil
	}

	username := params.Username
	if username == "" {
		username = participant.Username
	}

	added := s.connRepo.Register(params.Conn, params.RoomCode, params.UserId, username)
	s.sendToConn(ctx, params.Conn, &RoomUpdateMessage{
		Type:    MessageTypeRoomUpdate,
		Payload: newRoom(rm),
	})

	if added {
		s.logger.InfoContext(ctx, "connection joined", "room_code", params.RoomCode, "user_id", params.UserId)
		s.broadcast(ctx, params.RoomCode, &UserJoinedMessage{
			Type:     MessageTypeUserJoined,
			Username: username,
		}, params.Conn)
	}

	return JoinResponse{Status: room.StatusActive}, nil
}

func (s service) joinedBinding(conn *connection.Conn) (connection.Binding, error) {
	binding, ok := s.connRepo.Lookup(conn)
	if !ok || binding.Waiting {
		return connection.Binding{}, ErrNotJoined
	}

	return binding, nil
}

// RoomUpdate forwards payload verbatim to the other joined connections of the sender's
// room. Nothing is validated or persisted.
func (s service) RoomUpdate(ctx context.Context, conn *connection.Conn, payload json.RawMessage) error {
	binding, err := s.joinedBinding(conn)
	if err != nil {
		return err
	}

	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	s.broadcast(ctx, binding.RoomCode, &RoomUpdateMessage{
		Type:    MessageTypeRoomUpdate,
		Payload: payload,
	}, conn)

	return nil
}

// Seek forwards position to the other joined connections of the sender's room.
func (s service) Seek(ctx context.Context, conn *connection.Conn, position float64) error {
	binding, err := s.joinedBinding(conn)
	if err != nil {
		return err
	}

	s.broadcast(ctx, binding.RoomCode, &SeekMessage{
		Type:     MessageTypeSeek,
		Position: position,
		Username: binding.Username,
	}, conn)

	return nil
}

// Disconnect closes conn and releases its binding. Only the call that removes a joined
// binding announces user_left, so concurrent calls for one connection clean up once.
func (s service) Disconnect(ctx context.Context, conn *connection.Conn) {
	conn.Close()

	binding, ok := s.connRepo.Unregister(conn)
	if !ok || binding.Waiting {
		return
	}

	s.logger.InfoContext(ctx, "connection left", "room_code", binding.RoomCode, "user_id", binding.UserId)
	s.broadcast(ctx, binding.RoomCode, &UserLeftMessage{
		Type:     MessageTypeUserLeft,
		Username: binding.Username,
	}, nil)

	if s.connRepo.HasUser(binding.RoomCode, binding.UserId) {
		return
	}

	if err := s.SetParticipantStatus(ctx, &SetParticipantStatusParams{
		RoomCode: binding.RoomCode,
		UserId:   binding.UserId,
		Status:   room.StatusLeft,
	}); err != nil {
		s.logger.InfoContext(ctx, "failed to mark participant as left", "error", err)
		return
	}

	// a reconnect may have joined while the status was written
	if s.connRepo.HasUser(binding.RoomCode, binding.UserId) {
		if err := s.SetParticipantStatus(ctx, &SetParticipantStatusParams{
			RoomCode: binding.RoomCode,
			UserId:   binding.UserId,
			Status:   room.StatusActive,
		}); err != nil {
			s.logger.InfoContext(ctx, "failed to restore participant status", "error", err)
		}
	}
}
