package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/syncserver/internal/repository/connection"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/ctxlogger"
	"github.com/sharetube/syncserver/pkg/wsrouter"
)

func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	// counted before the hijack so Shutdown cannot miss this handler
	c.handlers.Add(1)
	defer c.handlers.Done()

	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := connection.New(c.cfg.SendBuffer)
	c.conns.Store(conn, struct{}{})
	defer c.conns.Delete(conn)
	if c.closing.Load() {
		conn.Close()
	}

	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("conn_id", conn.Id()))
	c.logger.InfoContext(ctx, "websocket connected", "remote_addr", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx, ws, conn)
	}()

	defer func() {
		c.roomService.Disconnect(context.WithoutCancel(ctx), conn)
		<-writerDone
		ws.Close()
		c.logger.InfoContext(ctx, "websocket disconnected")
	}()

	if err := c.wsmux.ServeConn(ctx, ws, conn); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			c.logger.InfoContext(ctx, "websocket read failed", "error", err)
		}
	}
}

// writePump is the only writer of ws. It returns once conn is closed or a write fails,
// closing the transport so the reader returns as well.
func (c controller) writePump(ctx context.Context, ws *websocket.Conn, conn *connection.Conn) {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		conn.Close()
		ws.Close()
	}()

	for {
		select {
		case msg := <-conn.Messages():
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.InfoContext(ctx, "failed to write message", "error", err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.InfoContext(ctx, "failed to write ping", "error", err)
				return
			}
		case <-conn.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout),
			)
			return
		}
	}
}

// JoinInput authenticates with a token from the REST API. The identity comes from the
// token, never from the frame.
type JoinInput struct {
	RoomCode string `json:"roomCode" validate:"required,len=6"`
	Token    string `json:"token" validate:"required"`
	Username string `json:"username" validate:"omitempty,max=32"`
}

func (c controller) handleJoin(ctx context.Context, conn *connection.Conn, input JoinInput) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("%w: %v", wsrouter.ErrMalformedMessage, validationErrors)
	}

	claims, err := c.roomService.ParseJWT(input.Token)
	if err != nil {
		return fmt.Errorf("failed to authenticate join: %w", err)
	}

	if claims.RoomCode != input.RoomCode {
		return fmt.Errorf("failed to authenticate join: %w", room.ErrPermissionDenied)
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_code", claims.RoomCode))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", claims.UserId))
	joinResp, err := c.roomService.Join(ctx, &room.JoinParams{
		Conn:     conn,
		RoomCode: claims.RoomCode,
		UserId:   claims.UserId,
		Username: input.Username,
	})
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	c.logger.DebugContext(ctx, "join handled", "status", joinResp.Status)

	return nil
}

type RoomUpdateInput struct {
	Payload json.RawMessage `json:"payload"`
}

func (c controller) handleRoomUpdate(ctx context.Context, conn *connection.Conn, input RoomUpdateInput) error {
	if err := c.roomService.RoomUpdate(ctx, conn, input.Payload); err != nil {
		return fmt.Errorf("failed to forward room update: %w", err)
	}

	return nil
}

type SeekInput struct {
	Payload struct {
		Position *float64 `json:"position"`
	} `json:"payload"`
}

func (c controller) handleSeek(ctx context.Context, conn *connection.Conn, input SeekInput) error {
	if input.Payload.Position == nil {
		return fmt.Errorf("%w: missing position", wsrouter.ErrMalformedMessage)
	}

	if err := c.roomService.Seek(ctx, conn, *input.Payload.Position); err != nil {
		return fmt.Errorf("failed to forward seek: %w", err)
	}

	return nil
}
