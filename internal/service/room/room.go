package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sharetube/syncserver/internal/repository/room"
)

type CreateRoomParams struct {
	UserId   string
	Username string
	VideoURL *string
}

type CreateRoomResponse struct {
	Room        Room
	Participant Participant
	Token       string
}

func (s service) CreateRoom(ctx context.Context, params *CreateRoomParams) (CreateRoomResponse, error) {
	roomId := uuid.NewString()
	createdAt := s.nowMillis()

	var videoURL string
	if params.VideoURL != nil {
		videoURL = *params.VideoURL
	}

	var code string
	for attempt := 0; ; attempt++ {
		if attempt == roomCodeAttempts {
			s.logger.ErrorContext(ctx, "room code space exhausted", "attempts", attempt)
			return CreateRoomResponse{}, ErrRoomCodeExhausted
		}

		code = s.generator.GenerateRandomString(roomCodeLength)
		err := s.roomRepo.CreateRoom(ctx, &room.CreateRoomParams{
			Id:        roomId,
			Code:      code,
			VideoURL:  videoURL,
			CreatedAt: createdAt,
		})
		if err == nil {
			break
		}

		if !errors.Is(err, room.ErrRoomAlreadyExists) {
			s.logger.InfoContext(ctx, "failed to create room", "error", err)
			return CreateRoomResponse{}, err
		}
		s.logger.DebugContext(ctx, "room code taken", "room_code", code)
	}

	if err := s.roomRepo.SetParticipant(ctx, &room.SetParticipantParams{
		RoomCode: code,
		UserId:   params.UserId,
		Username: params.Username,
		IsHost:   true,
		Status:   room.StatusActive,
		JoinedAt: createdAt,
	}); err != nil {
		s.logger.InfoContext(ctx, "failed to set host participant", "error", err)
		return CreateRoomResponse{}, err
	}

	rm, err := s.roomRepo.GetRoom(ctx, code)
	if err != nil {
		s.logger.InfoContext(ctx, "failed to get room", "error", err)
		return CreateRoomResponse{}, mapRepoError(err)
	}

	host := Participant{
		UserId:   params.UserId,
		Username: params.Username,
		IsHost:   true,
		Status:   room.StatusActive,
		JoinedAt: fromMillis(createdAt),
	}

	token, err := s.issueToken(host, code)
	if err != nil {
		return CreateRoomResponse{}, err
	}

	s.logger.InfoContext(ctx, "room created", "room_code", code, "room_id", roomId)

	return CreateRoomResponse{
		Room:        newRoom(rm),
		Participant: host,
		Token:       token,
	}, nil
}

func (s service) GetRoom(ctx context.Context, roomCode string) (Room, error) {
	rm, err := s.roomRepo.GetRoom(ctx, roomCode)
	if err != nil {
		return Room{}, mapRepoError(err)
	}

	return newRoom(rm), nil
}

type UpdateRoomParams struct {
	RoomCode         string
	SenderId         string
	VideoURL         *string
	PlaybackPosition *float64
	IsPlaying        *bool
	SubtitleEnabled  *bool
}

// UpdateRoom persists a partial update and broadcasts the resulting room to every joined
// connection of the room.
func (s service) UpdateRoom(ctx context.Context, params *UpdateRoomParams) (Room, error) {
	if params.PlaybackPosition != nil && *params.PlaybackPosition < 0 {
		return Room{}, ErrInvalidPosition
	}

	sender, err := s.roomRepo.GetParticipant(ctx, &room.GetParticipantParams{
		RoomCode: params.RoomCode,
		UserId:   params.SenderId,
	})
	if err != nil {
		if errors.Is(err, room.ErrParticipantNotFound) {
			return Room{}, ErrPermissionDenied
		}
		s.logger.InfoContext(ctx, "failed to get sender", "error", err)
		return Room{}, err
	}

	if sender.Status != room.StatusActive {
		return Room{}, ErrPermissionDenied
	}

	if s.hostOnlyControl && !sender.IsHost {
		s.logger.InfoContext(ctx, "sender is not host", "user_id", params.SenderId)
		return Room{}, ErrPermissionDenied
	}

	rm, err := s.roomRepo.UpdateRoom(ctx, &room.UpdateRoomParams{
		Code:             params.RoomCode,
		VideoURL:         params.VideoURL,
		PlaybackPosition: params.PlaybackPosition,
		IsPlaying:        params.IsPlaying,
		SubtitleEnabled:  params.SubtitleEnabled,
		UpdatedAt:        s.nowMillis(),
	})
	if err != nil {
		s.logger.InfoContext(ctx, "failed to update room", "error", err)
		return Room{}, mapRepoError(err)
	}

	updated := newRoom(rm)
	s.broadcast(ctx, params.RoomCode, &RoomUpdateMessage{
		Type:    MessageTypeRoomUpdate,
		Payload: updated,
	}, nil)

	return updated, nil
}

func (s service) ListParticipants(ctx context.Context, roomCode string) ([]Participant, error) {
	if _, err := s.roomRepo.GetRoom(ctx, roomCode); err != nil {
		return nil, mapRepoError(err)
	}

	participants, err := s.roomRepo.ListParticipants(ctx, roomCode)
	if err != nil {
		s.logger.InfoContext(ctx, "failed to list participants", "error", err)
		return nil, err
	}

	res := make([]Participant, 0, len(participants))
	for _, p := range participants {
		res = append(res, newParticipant(p))
	}

	return res, nil
}

type SetParticipantStatusParams struct {
	RoomCode string
	UserId   string
	Status   string
	Username string
}

// SetParticipantStatus moves an existing participant between active and left.
func (s service) SetParticipantStatus(ctx context.Context, params *SetParticipantStatusParams) error {
	if params.Status != room.StatusActive && params.Status != room.StatusLeft {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, params.Status)
	}

	if err := s.roomRepo.UpdateParticipantStatus(ctx, &room.UpdateParticipantStatusParams{
		RoomCode:  params.RoomCode,
		UserId:    params.UserId,
		Status:    params.Status,
		Username:  params.Username,
		UpdatedAt: s.nowMillis(),
	}); err != nil {
		s.logger.InfoContext(ctx, "failed to update participant status", "error", err)
		return mapRepoError(err)
	}

	return nil
}

func (s service) IsHost(ctx context.Context, roomCode, userId string) (bool, error) {
	participant, err := s.roomRepo.GetParticipant(ctx, &room.GetParticipantParams{
		RoomCode: roomCode,
		UserId:   userId,
	})
	if err != nil {
		if errors.Is(err, room.ErrParticipantNotFound) {
			return false, nil
		}
		return false, err
	}

	return participant.IsHost, nil
}

// IssueToken signs a token for userId when it is an active participant of the room.
func (s service) IssueToken(ctx context.Context, roomCode, userId string) (string, error) {
	participant, err := s.roomRepo.GetParticipant(ctx, &room.GetParticipantParams{
		RoomCode: roomCode,
		UserId:   userId,
	})
	if err != nil {
		return "", mapRepoError(err)
	}

	if participant.Status != room.StatusActive {
		return "", ErrNotAdmitted
	}

	return s.issueToken(newParticipant(participant), roomCode)
}
