package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/syncserver/internal/repository/connection"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/validator"
	"github.com/sharetube/syncserver/pkg/wsrouter"
)

type iRoomService interface {
	// room
	CreateRoom(context.Context, *room.CreateRoomParams) (room.CreateRoomResponse, error)
	GetRoom(context.Context, string) (room.Room, error)
	UpdateRoom(context.Context, *room.UpdateRoomParams) (room.Room, error)
	ListParticipants(context.Context, string) ([]room.Participant, error)
	IsHost(ctx context.Context, roomCode, userId string) (bool, error)
	IssueToken(ctx context.Context, roomCode, userId string) (string, error)
	ParseJWT(string) (room.Claims, error)
	LiveRooms() int
	// admission
	RequestJoin(context.Context, *room.RequestJoinParams) (room.RequestJoinResponse, error)
	GetJoinRequest(ctx context.Context, roomCode, requestId string) (room.JoinRequest, error)
	ListJoinRequests(ctx context.Context, roomCode, status string) ([]room.JoinRequest, error)
	Approve(context.Context, *room.ResolveJoinRequestParams) (room.JoinRequest, error)
	Reject(context.Context, *room.ResolveJoinRequestParams) (room.JoinRequest, error)
	// sync
	Join(context.Context, *room.JoinParams) (room.JoinResponse, error)
	RoomUpdate(ctx context.Context, conn *connection.Conn, payload json.RawMessage) error
	Seek(ctx context.Context, conn *connection.Conn, position float64) error
	Disconnect(ctx context.Context, conn *connection.Conn)
}

type Config struct {
	// Secret keys the browser identity digest.
	Secret       string
	SendBuffer   int
	WriteTimeout time.Duration
	PongWait     time.Duration
	// ReadLimit is the largest websocket frame dispatched, in bytes.
	ReadLimit int64
}

type controller struct {
	roomService iRoomService
	upgrader    websocket.Upgrader
	wsmux       *wsrouter.WSRouter[*connection.Conn]
	validate    *validator.Validator
	logger      *slog.Logger
	cfg         Config
	// websocket handlers outlive http.Server.Shutdown once hijacked
	conns    *sync.Map
	handlers *sync.WaitGroup
	closing  *atomic.Bool
}

func NewController(roomService iRoomService, logger *slog.Logger, cfg Config) *controller {
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = 64 << 10
	}

	c := controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService: roomService,
		validate:    validator.NewValidator(),
		logger:      logger,
		cfg:         cfg,
		conns:       &sync.Map{},
		handlers:    &sync.WaitGroup{},
		closing:     &atomic.Bool{},
	}
	c.wsmux = c.getWSRouter()

	return &c
}

// Shutdown closes every websocket connection and waits until their handlers have
// released them. New connections are closed as soon as they are accepted.
func (c controller) Shutdown(ctx context.Context) error {
	c.closing.Store(true)

	closed := 0
	c.conns.Range(func(key, _ any) bool {
		if key.(*connection.Conn).Close() {
			closed++
		}
		return true
	})
	c.logger.InfoContext(ctx, "closing websocket connections", "closed_connections", closed)

	done := make(chan struct{})
	go func() {
		c.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for websocket handlers: %w", ctx.Err())
	}
}
