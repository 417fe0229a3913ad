package controller

import (
	"context"

	"github.com/sharetube/syncserver/internal/service/room"
)

type contextKey int

const (
	claimsCtxKey contextKey = iota
)

func (c controller) getClaimsFromCtx(ctx context.Context) room.Claims {
	claims, ok := ctx.Value(claimsCtxKey).(room.Claims)
	if !ok {
		return room.Claims{}
	}

	return claims
}
