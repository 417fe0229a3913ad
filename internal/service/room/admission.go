package room

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/sharetube/syncserver/internal/repository/room"
)

type RequestJoinParams struct {
	RoomCode       string
	UserId         string
	Username       string
	Browser        string
	BrowserVersion string
}

// RequestJoinResponse has Status active with a member Token when the identity is admitted,
// or Status pending with the outstanding JoinRequest and a pending Token.
type RequestJoinResponse struct {
	Status      string
	Participant *Participant
	JoinRequest *JoinRequest
	Token       string
}

func (s service) RequestJoin(ctx context.Context, params *RequestJoinParams) (RequestJoinResponse, error) {
	if _, err := s.roomRepo.GetRoom(ctx, params.RoomCode); err != nil {
		return RequestJoinResponse{}, mapRepoError(err)
	}

	participant, err := s.admitKnownParticipant(ctx, params.RoomCode, params.UserId, params.Username)
	if err == nil {
		token, err := s.issueToken(participant, params.RoomCode)
		if err != nil {
			return RequestJoinResponse{}, err
		}

		return RequestJoinResponse{
			Status:      room.StatusActive,
			Participant: &participant,
			Token:       token,
		}, nil
	}
	if !errors.Is(err, ErrNotAdmitted) {
		return RequestJoinResponse{}, err
	}

	joinRequest, created, err := s.roomRepo.CreateJoinRequest(ctx, &room.CreateJoinRequestParams{
		Id:             ulid.Make().String(),
		RoomCode:       params.RoomCode,
		UserId:         params.UserId,
		Username:       params.Username,
		Browser:        params.Browser,
		BrowserVersion: params.BrowserVersion,
		CreatedAt:      s.nowMillis(),
	})
	if err != nil {
		s.logger.InfoContext(ctx, "failed to create join request", "error", err)
		return RequestJoinResponse{}, err
	}

	jr := newJoinRequest(joinRequest)
	if created {
		s.logger.InfoContext(ctx, "join request created", "room_code", params.RoomCode, "request_id", jr.Id)
		s.notifyHost(ctx, params.RoomCode, jr)
	}

	token, err := s.issuePendingToken(params.RoomCode, params.UserId)
	if err != nil {
		return RequestJoinResponse{}, err
	}

	return RequestJoinResponse{
		Status:      room.StatusPending,
		JoinRequest: &jr,
		Token:       token,
	}, nil
}

// admitKnownParticipant returns the participant when it is active, reactivating it first
// when it left. ErrNotAdmitted means the identity needs host review.
func (s service) admitKnownParticipant(ctx context.Context, roomCode, userId, username string) (Participant, error) {
	participant, err := s.roomRepo.GetParticipant(ctx, &room.GetParticipantParams{
		RoomCode: roomCode,
		UserId:   userId,
	})
	if err != nil {
		if errors.Is(err, room.ErrParticipantNotFound) {
			return Participant{}, ErrNotAdmitted
		}
		s.logger.InfoContext(ctx, "failed to get participant", "error", err)
		return Participant{}, err
	}

	switch participant.Status {
	case room.StatusActive:
		return newParticipant(participant), nil
	case room.StatusLeft:
		if err := s.SetParticipantStatus(ctx, &SetParticipantStatusParams{
			RoomCode: roomCode,
			UserId:   userId,
			Status:   room.StatusActive,
			Username: username,
		}); err != nil {
			return Participant{}, err
		}
		s.logger.InfoContext(ctx, "participant reactivated", "room_code", roomCode, "user_id", userId)

		participant.Status = room.StatusActive
		participant.LeftAt = 0
		if username != "" {
			participant.Username = username
		}
		return newParticipant(participant), nil
	default:
		return Participant{}, ErrNotAdmitted
	}
}

func (s service) notifyHost(ctx context.Context, roomCode string, jr JoinRequest) {
	participants, err := s.roomRepo.ListParticipants(ctx, roomCode)
	if err != nil {
		s.logger.InfoContext(ctx, "failed to list participants", "error", err)
		return
	}

	for _, p := range participants {
		if p.IsHost {
			s.sendTo(ctx, roomCode, p.UserId, &JoinRequestMessage{
				Type:    MessageTypeJoinRequest,
				Request: jr,
			})
			return
		}
	}
}

type ResolveJoinRequestParams struct {
	RoomCode  string
	RequestId string
}

func (s service) Approve(ctx context.Context, params *ResolveJoinRequestParams) (JoinRequest, error) {
	return s.resolve(ctx, params, room.StatusApproved)
}

func (s service) Reject(ctx context.Context, params *ResolveJoinRequestParams) (JoinRequest, error) {
	return s.resolve(ctx, params, room.StatusRejected)
}

// resolve transitions a pending request. Resolving an already resolved request returns it
// unchanged and notifies nobody.
func (s service) resolve(ctx context.Context, params *ResolveJoinRequestParams, status string) (JoinRequest, error) {
	joinRequest, changed, err := s.roomRepo.ResolveJoinRequest(ctx, &room.ResolveJoinRequestParams{
		RoomCode:   params.RoomCode,
		RequestId:  params.RequestId,
		Status:     status,
		ResolvedAt: s.nowMillis(),
	})
	if err != nil {
		s.logger.InfoContext(ctx, "failed to resolve join request", "error", err)
		return JoinRequest{}, mapRepoError(err)
	}

	jr := newJoinRequest(joinRequest)
	if !changed {
		s.logger.DebugContext(ctx, "join request already resolved", "request_id", jr.Id, "status", jr.Status)
		return jr, nil
	}

	s.logger.InfoContext(ctx, "join request resolved", "room_code", params.RoomCode, "request_id", jr.Id, "status", jr.Status)

	s.sendTo(ctx, params.RoomCode, jr.UserId, &ApprovalStatusMessage{
		Type:      MessageTypeApprovalStatus,
		UserId:    jr.UserId,
		RequestId: jr.Id,
		Status:    jr.Status,
	})

	if status == room.StatusRejected {
		s.connRepo.RemoveWaiting(params.RoomCode, jr.UserId)
		return jr, nil
	}

	promoted := s.connRepo.Promote(params.RoomCode, jr.UserId)
	if len(promoted) == 0 {
		return jr, nil
	}

	rm, err := s.roomRepo.GetRoom(ctx, params.RoomCode)
	if err != nil {
		s.logger.InfoContext(ctx, "failed to get room", "error", err)
	}

	for _, entry := range promoted {
		if err == nil {
			s.sendToConn(ctx, entry.Conn, &RoomUpdateMessage{
				Type:    MessageTypeRoomUpdate,
				Payload: newRoom(rm),
			})
		}
		s.broadcast(ctx, params.RoomCode, &UserJoinedMessage{
			Type:     MessageTypeUserJoined,
			Username: entry.Binding.Username,
		}, entry.Conn)
	}

	return jr, nil
}

func (s service) GetJoinRequest(ctx context.Context, roomCode, requestId string) (JoinRequest, error) {
	joinRequest, err := s.roomRepo.GetJoinRequest(ctx, &room.GetJoinRequestParams{
		RoomCode:  roomCode,
		RequestId: requestId,
	})
	if err != nil {
		return JoinRequest{}, mapRepoError(err)
	}

	return newJoinRequest(joinRequest), nil
}

// ListJoinRequests returns the join requests of the room, oldest first. An empty status
// returns every request.
func (s service) ListJoinRequests(ctx context.Context, roomCode, status string) ([]JoinRequest, error) {
	if _, err := s.roomRepo.GetRoom(ctx, roomCode); err != nil {
		return nil, mapRepoError(err)
	}

	joinRequests, err := s.roomRepo.ListJoinRequests(ctx, roomCode)
	if err != nil {
		s.logger.InfoContext(ctx, "failed to list join requests", "error", err)
		return nil, err
	}

	res := make([]JoinRequest, 0, len(joinRequests))
	for _, jr := range joinRequests {
		if status != "" && jr.Status != status {
			continue
		}
		res = append(res, newJoinRequest(jr))
	}

	return res, nil
}
