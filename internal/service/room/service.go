package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sharetube/syncserver/internal/repository/connection"
	"github.com/sharetube/syncserver/internal/repository/room"
	"github.com/sharetube/syncserver/pkg/randstr"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrJoinRequestNotFound = errors.New("join request not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrNotAdmitted         = errors.New("identity is not admitted to the room")
	ErrNotJoined           = errors.New("connection has not joined a room")
	ErrAlreadyJoined       = errors.New("connection is bound to another room or identity")
	ErrInvalidPosition     = errors.New("playback position must not be negative")
	ErrInvalidStatus       = errors.New("invalid participant status")
	ErrRoomCodeExhausted   = errors.New("failed to generate a unique room code")
	ErrInvalidToken        = errors.New("invalid token")
)

const (
	roomCodeLength   = 6
	roomCodeAttempts = 10
)

type iRoomRepo interface {
	// room
	CreateRoom(context.Context, *room.CreateRoomParams) error
	GetRoom(context.Context, string) (room.Room, error)
	UpdateRoom(context.Context, *room.UpdateRoomParams) (room.Room, error)
	// participant
	SetParticipant(context.Context, *room.SetParticipantParams) error
	GetParticipant(context.Context, *room.GetParticipantParams) (room.Participant, error)
	ListParticipants(context.Context, string) ([]room.Participant, error)
	UpdateParticipantStatus(context.Context, *room.UpdateParticipantStatusParams) error
	// join request
	CreateJoinRequest(context.Context, *room.CreateJoinRequestParams) (room.JoinRequest, bool, error)
	GetJoinRequest(context.Context, *room.GetJoinRequestParams) (room.JoinRequest, error)
	GetPendingJoinRequest(ctx context.Context, roomCode, userId string) (room.JoinRequest, error)
	ListJoinRequests(context.Context, string) ([]room.JoinRequest, error)
	ResolveJoinRequest(context.Context, *room.ResolveJoinRequestParams) (room.JoinRequest, bool, error)
}

type iConnRepo interface {
	Register(conn *connection.Conn, roomCode, userId, username string) bool
	RegisterWaiting(conn *connection.Conn, roomCode, userId, username string)
	Promote(roomCode, userId string) []connection.Entry
	RemoveWaiting(roomCode, userId string) []*connection.Conn
	Unregister(conn *connection.Conn) (connection.Binding, bool)
	Lookup(conn *connection.Conn) (connection.Binding, bool)
	Broadcast(roomCode string, msg []byte, exclude *connection.Conn) int
	SendTo(roomCode, userId string, msg []byte) int
	HasUser(roomCode, userId string) bool
	Rooms() []string
}

type iGenerator interface {
	GenerateRandomString(length int) string
}

type Config struct {
	Secret string
	// HostOnlyControl restricts durable room updates to the host.
	HostOnlyControl bool
}

type service struct {
	roomRepo        iRoomRepo
	connRepo        iConnRepo
	generator       iGenerator
	logger          *slog.Logger
	secret          string
	hostOnlyControl bool
	now             func() time.Time
}

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, cfg *Config, logger *slog.Logger) *service {
	s := service{
		roomRepo:        roomRepo,
		connRepo:        connRepo,
		logger:          logger,
		secret:          cfg.Secret,
		hostOnlyControl: cfg.HostOnlyControl,
		now:             time.Now,
	}

	letterBytes := []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	s.generator = randstr.New(letterBytes)

	return &s
}

// LiveRooms returns the number of rooms with at least one live connection.
func (s service) LiveRooms() int {
	return len(s.connRepo.Rooms())
}

func (s service) nowMillis() int64 {
	return s.now().UnixMilli()
}

// mapRepoError translates repository sentinels into service sentinels.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, room.ErrJoinRequestNotFound):
		return ErrJoinRequestNotFound
	case errors.Is(err, room.ErrParticipantNotFound):
		return ErrParticipantNotFound
	default:
		return err
	}
}
