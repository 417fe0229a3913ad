package controller

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/sharetube/syncserver/internal/repository/connection"
	"github.com/sharetube/syncserver/pkg/ctxlogger"
	"github.com/sharetube/syncserver/pkg/wsrouter"
)

func (c controller) wsRequestIdWSMw() wsrouter.Middleware[*connection.Conn] {
	return func(next wsrouter.HandlerFunc[*connection.Conn]) wsrouter.HandlerFunc[*connection.Conn] {
		return func(ctx context.Context, conn *connection.Conn, data []byte) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedId()))
			return next(ctx, conn, data)
		}
	}
}

func (c controller) loggerWSMw() wsrouter.Middleware[*connection.Conn] {
	return func(next wsrouter.HandlerFunc[*connection.Conn]) wsrouter.HandlerFunc[*connection.Conn] {
		return func(ctx context.Context, conn *connection.Conn, data []byte) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
			c.logger.DebugContext(ctx, "websocket message received", "size", len(data))

			start := time.Now()

			err := next(ctx, conn, data)

			c.logger.DebugContext(ctx, "websocket message handled",
				"processing_time_us", time.Since(start).Microseconds(),
				"goroutines", runtime.NumGoroutine(),
			)

			return err
		}
	}
}
