package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMessageTooLarge    = errors.New("message too large")
)

// frames larger than ReadLimit are skipped, frames larger than this many ReadLimits close
// the connection
const hardReadLimitFactor = 16

type message struct {
	Type string `json:"type"`
}

// HandlerFunc handles one raw frame on a connection whose per-connection state is C.
type HandlerFunc[C any] func(ctx context.Context, conn C, data []byte) error

type Middleware[C any] func(next HandlerFunc[C]) HandlerFunc[C]

type Config struct {
	// ReadLimit is the largest frame dispatched, in bytes.
	ReadLimit int64
	PongWait  time.Duration
}

type WSRouter[C any] struct {
	routes      map[string]HandlerFunc[C]
	middlewares []Middleware[C]
	cfg         Config
	logger      *slog.Logger
}

func New[C any](logger *slog.Logger, cfg Config) *WSRouter[C] {
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = 64 << 10
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}

	return &WSRouter[C]{
		routes: make(map[string]HandlerFunc[C]),
		cfg:    cfg,
		logger: logger,
	}
}

// Handle registers handler for messageType. The whole frame is decoded into T.
func Handle[C, T any](r *WSRouter[C], messageType string, handler func(ctx context.Context, conn C, input T) error) {
	r.routes[messageType] = func(ctx context.Context, conn C, data []byte) error {
		var input T
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}

		return handler(ctx, conn, input)
	}
}

func (r *WSRouter[C]) Use(mw ...Middleware[C]) {
	r.middlewares = append(r.middlewares, mw...)
}

// Dispatch routes a single frame to its handler.
func (r *WSRouter[C]) Dispatch(ctx context.Context, conn C, data []byte) error {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	if msg.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	handler, ok := r.routes[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	ctx = context.WithValue(ctx, messageTypeKey, msg.Type)

	return handler(ctx, conn, data)
}

// ServeConn reads frames until the connection fails. Handler errors and oversized frames
// are logged and the connection stays open.
func (r *WSRouter[C]) ServeConn(ctx context.Context, ws *websocket.Conn, conn C) error {
	ws.SetReadLimit(r.cfg.ReadLimit * hardReadLimitFactor)
	if err := ws.SetReadDeadline(time.Now().Add(r.cfg.PongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(r.cfg.PongWait))
	})

	for {
		messageType, data, err := r.readFrame(ws)
		if err != nil && !errors.Is(err, ErrMessageTooLarge) {
			return err
		}

		if err := ws.SetReadDeadline(time.Now().Add(r.cfg.PongWait)); err != nil {
			return err
		}

		if err != nil {
			r.logger.InfoContext(ctx, "dropping message", "error", err, "read_limit", r.cfg.ReadLimit)
			continue
		}

		if messageType != websocket.TextMessage {
			r.logger.DebugContext(ctx, "ignoring non-text frame", "frame_type", messageType)
			continue
		}

		if err := r.Dispatch(ctx, conn, data); err != nil {
			r.logger.InfoContext(ctx, "failed to handle message", "error", err)
		}
	}
}

// readFrame reads the next frame, keeping at most ReadLimit bytes in memory. The rest of
// an oversized frame is discarded and ErrMessageTooLarge returned.
func (r *WSRouter[C]) readFrame(ws *websocket.Conn) (int, []byte, error) {
	messageType, reader, err := ws.NextReader()
	if err != nil {
		return 0, nil, err
	}

	data, err := io.ReadAll(io.LimitReader(reader, r.cfg.ReadLimit+1))
	if err != nil {
		return 0, nil, err
	}

	if int64(len(data)) > r.cfg.ReadLimit {
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return 0, nil, err
		}
		return messageType, nil, fmt.Errorf("%w: over %d bytes", ErrMessageTooLarge, r.cfg.ReadLimit)
	}

	return messageType, data, nil
}
