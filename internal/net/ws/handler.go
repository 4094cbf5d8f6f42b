// Package ws serves the reliable websocket transport: one connection per
// session, handshake on upgrade, inbound frames fed to the hub, outbound
// frames written by the tick loop through the session's writer.
package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"gridlock/server"
)

type HandlerConfig struct {
	Logger *log.Logger
}

type Handler struct {
	hub      *server.Hub
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle upgrades the request, joins the shard, and pumps inbound frames
// until the connection drops.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	sess, err := h.hub.Join(newWriter(conn))
	if err != nil {
		h.logger.Printf("join failed: %v", err)
		message := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "join failed")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(sess.ID(), "connection closed")
			return
		}
		if err := h.hub.HandleMessage(sess, payload); err != nil {
			h.logger.Printf("session %s dropped: %v", sess.ID(), err)
			h.hub.Disconnect(sess.ID(), "write failure")
			return
		}
	}
}
