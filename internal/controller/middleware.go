package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/ctxlogger"
	"github.com/sharetube/syncserver/pkg/rest"
)

func (c controller) requestIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = ctxlogger.AppendCtx(ctx, slog.String("request_id", c.generateTimeBasedId()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c controller) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		c.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"url", r.URL.String(),
			"remote_addr", r.RemoteAddr,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// authMw requires a member token issued for the room in the URL.
func (c controller) authMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := c.bearerToken(r)
		if !ok {
			rest.WriteJSON(w, http.StatusUnauthorized, rest.Envelope{"error": "missing bearer token"})
			return
		}

		claims, err := c.roomService.ParseJWT(token)
		if err != nil {
			c.logger.InfoContext(r.Context(), "invalid token", "error", err)
			rest.WriteJSON(w, http.StatusUnauthorized, rest.Envelope{"error": "invalid token"})
			return
		}

		if claims.Pending {
			rest.WriteJSON(w, http.StatusForbidden, rest.Envelope{"error": room.ErrNotAdmitted.Error()})
			return
		}

		if claims.RoomCode != chi.URLParam(r, "code") {
			rest.WriteJSON(w, http.StatusForbidden, rest.Envelope{"error": room.ErrPermissionDenied.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
		ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", claims.UserId))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// hostMw must run after authMw. Host status is read from the store, not the token.
func (c controller) hostMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := c.getClaimsFromCtx(r.Context())

		isHost, err := c.roomService.IsHost(r.Context(), claims.RoomCode, claims.UserId)
		if err != nil {
			c.writeError(w, r, err)
			return
		}

		if !isHost {
			c.logger.InfoContext(r.Context(), "caller is not host")
			rest.WriteJSON(w, http.StatusForbidden, rest.Envelope{"error": room.ErrPermissionDenied.Error()})
			return
		}

		next.ServeHTTP(w, r)
	})
}
