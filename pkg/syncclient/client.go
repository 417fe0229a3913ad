package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost/ws.
	URL string
	// Token is the member or pending token returned by the REST API. The room and
	// identity are read from it.
	Token        string
	Username     string
	Header       http.Header
	WriteTimeout time.Duration
}

// ActionHandler receives the state after a message was reconciled and the actions it
// requires.
type ActionHandler func(state LocalState, msg Message, actions []Action)

type Client struct {
	conn    *websocket.Conn
	cfg     Config
	writeMu sync.Mutex
	mu      sync.Mutex
	state   LocalState
	logger  *slog.Logger
	now     func() time.Time
}

type joinMessage struct {
	Type     string `json:"type"`
	RoomCode string `json:"roomCode"`
	Token    string `json:"token"`
	Username string `json:"username,omitempty"`
}

type tokenClaims struct {
	RoomCode string `json:"room_code"`
	UserId   string `json:"user_id"`
	jwt.RegisteredClaims
}

// parseToken reads the claims without verifying the signature, which only the server can.
func parseToken(token string) (tokenClaims, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return tokenClaims{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.RoomCode == "" || claims.UserId == "" {
		return tokenClaims{}, errors.New("token has no room or user")
	}

	return claims, nil
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type seekPayload struct {
	Position float64 `json:"position"`
}

// Dial connects to the server and joins the room of cfg.Token.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	claims, err := parseToken(cfg.Token)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		conn:   conn,
		cfg:    cfg,
		state:  LocalState{UserId: claims.UserId},
		logger: logger.With("room_code", claims.RoomCode, "user_id", claims.UserId),
		now:    time.Now,
	}

	if err := c.write(&joinMessage{
		Type:     MessageTypeJoin,
		RoomCode: claims.RoomCode,
		Token:    cfg.Token,
		Username: cfg.Username,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send join: %w", err)
	}

	return c, nil
}

func (c *Client) write(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

// Run reads pushed messages until ctx is done or the connection fails.
func (c *Client) Run(ctx context.Context, handle ActionHandler) error {
	stop := context.AfterFunc(ctx, func() {
		c.conn.Close()
	})
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("skipping malformed message", "error", err)
			continue
		}

		c.mu.Lock()
		state, actions := Reconcile(c.state, msg, c.now())
		c.state = state
		c.mu.Unlock()

		c.logger.Debug("message reconciled", "message_type", msg.Type, "actions", len(actions))
		if handle != nil {
			handle(state, msg, actions)
		}
	}
}

func (c *Client) State() LocalState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// UpdateRoom applies a local change and pushes it to the room.
func (c *Client) UpdateRoom(payload RoomPayload) error {
	now := c.now()
	if payload.UpdatedAt == nil {
		payload.UpdatedAt = &now
	}

	c.mu.Lock()
	state := c.state.anchored(now).Interacted(now)
	if payload.VideoURL != nil {
		state.VideoURL = *payload.VideoURL
	}
	if payload.PlaybackPosition != nil {
		state.Position = *payload.PlaybackPosition
	}
	if payload.IsPlaying != nil {
		state.IsPlaying = *payload.IsPlaying
	}
	if payload.SubtitleEnabled != nil {
		state.SubtitleEnabled = *payload.SubtitleEnabled
	}
	c.state = state
	c.mu.Unlock()

	return c.write(&outboundMessage{Type: MessageTypeRoomUpdate, Payload: payload})
}

func (c *Client) Seek(position float64) error {
	now := c.now()

	c.mu.Lock()
	c.state = c.state.Interacted(now)
	c.state.Position = position
	c.state.UpdatedAt = now
	c.mu.Unlock()

	return c.write(&outboundMessage{Type: MessageTypeSeek, Payload: seekPayload{Position: position}})
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return c.conn.Close()
}
