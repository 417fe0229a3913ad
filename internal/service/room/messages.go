package room

import (
	"context"
	"encoding/json"

	"github.com/sharetube/syncserver/internal/repository/connection"
)

const (
	MessageTypeUserJoined     = "user_joined"
	MessageTypeUserLeft       = "user_left"
	MessageTypeRoomUpdate     = "room_update"
	MessageTypeSeek           = "seek"
	MessageTypeApprovalStatus = "approval_status"
	MessageTypeJoinRequest    = "join_request"
)

type UserJoinedMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type UserLeftMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// RoomUpdateMessage carries either a client payload forwarded verbatim or the
// persisted room.
type RoomUpdateMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type SeekMessage struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
	Username string  `json:"username"`
}

type ApprovalStatusMessage struct {
	Type      string `json:"type"`
	UserId    string `json:"userId"`
	RequestId string `json:"requestId"`
	Status    string `json:"status"`
}

type JoinRequestMessage struct {
	Type    string      `json:"type"`
	Request JoinRequest `json:"request"`
}

func (s service) encode(ctx context.Context, msg any) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode message", "error", err)
		return nil, false
	}

	return data, true
}

func (s service) broadcast(ctx context.Context, roomCode string, msg any, exclude *connection.Conn) {
	data, ok := s.encode(ctx, msg)
	if !ok {
		return
	}

	delivered := s.connRepo.Broadcast(roomCode, data, exclude)
	s.logger.DebugContext(ctx, "broadcast", "room_code", roomCode, "delivered", delivered)
}

func (s service) sendTo(ctx context.Context, roomCode, userId string, msg any) {
	data, ok := s.encode(ctx, msg)
	if !ok {
		return
	}

	delivered := s.connRepo.SendTo(roomCode, userId, data)
	s.logger.DebugContext(ctx, "sent to user", "room_code", roomCode, "user_id", userId, "delivered", delivered)
}

func (s service) sendToConn(ctx context.Context, conn *connection.Conn, msg any) {
	data, ok := s.encode(ctx, msg)
	if !ok {
		return
	}

	if err := conn.Enqueue(data); err != nil {
		s.logger.DebugContext(ctx, "failed to send to connection", "conn_id", conn.Id(), "error", err)
	}
}
