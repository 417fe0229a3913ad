package room

import "context"

// Store is the durable room state shared by the redis and sqlite backends.
type Store interface {
	CreateRoom(context.Context, *CreateRoomParams) error
	GetRoom(context.Context, string) (Room, error)
	UpdateRoom(context.Context, *UpdateRoomParams) (Room, error)

	SetParticipant(context.Context, *SetParticipantParams) error
	GetParticipant(context.Context, *GetParticipantParams) (Participant, error)
	ListParticipants(context.Context, string) ([]Participant, error)
	UpdateParticipantStatus(context.Context, *UpdateParticipantStatusParams) error

	CreateJoinRequest(context.Context, *CreateJoinRequestParams) (JoinRequest, bool, error)
	GetJoinRequest(context.Context, *GetJoinRequestParams) (JoinRequest, error)
	GetPendingJoinRequest(ctx context.Context, roomCode, userId string) (JoinRequest, error)
	ListJoinRequests(context.Context, string) ([]JoinRequest, error)
	ResolveJoinRequest(context.Context, *ResolveJoinRequestParams) (JoinRequest, bool, error)
}
