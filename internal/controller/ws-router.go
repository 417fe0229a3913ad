package controller

import (
	"github.com/sharetube/syncserver/internal/repository/connection"
	"github.com/sharetube/syncserver/pkg/wsrouter"
)

const (
	inputTypeJoin       = "join"
	inputTypeRoomUpdate = "room_update"
	inputTypeSeek       = "seek"
)

func (c controller) getWSRouter() *wsrouter.WSRouter[*connection.Conn] {
	mux := wsrouter.New[*connection.Conn](c.logger, wsrouter.Config{
		ReadLimit: c.cfg.ReadLimit,
		PongWait:  c.cfg.PongWait,
	})
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())

	wsrouter.Handle(mux, inputTypeJoin, c.handleJoin)
	wsrouter.Handle(mux, inputTypeRoomUpdate, c.handleRoomUpdate)
	wsrouter.Handle(mux, inputTypeSeek, c.handleSeek)

	return mux
}
