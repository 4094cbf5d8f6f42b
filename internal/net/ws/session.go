package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// wsWriter adapts a websocket connection to the hub's message writer.
// WebSocket offers a single ordered reliable channel, so the reliable
// flag only matters for transports that have both.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWriter(conn *websocket.Conn) *wsWriter {
	return &wsWriter{conn: conn}
}

func (w *wsWriter) WriteMessage(data []byte, reliable bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}
