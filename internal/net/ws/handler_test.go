package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridlock/server"
	"gridlock/server/internal/net/proto"
)

func dialTestServer(t *testing.T) (*server.Hub, *websocket.Conn) {
	t.Helper()
	cfg := server.DefaultConfig()
	hub := server.NewHub(cfg, nil, nil, nil)

	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return hub, conn
}

func TestHandshakeAssignsIdentity(t *testing.T) {
	_, conn := dialTestServer(t)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read joined: %v", err)
	}

	var joined struct {
		Ver      int    `json:"ver"`
		Type     string `json:"type"`
		ID       string `json:"id"`
		TickRate int    `json:"tickRate"`
	}
	if err := json.Unmarshal(payload, &joined); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if joined.Type != proto.TypeJoined || joined.ID == "" {
		t.Fatalf("unexpected handshake %+v", joined)
	}
	if joined.TickRate != server.DefaultConfig().TickRate {
		t.Fatalf("tick rate %d", joined.TickRate)
	}
}

func TestTickDeliversKeyframeThenUpdates(t *testing.T) {
	hub, conn := dialTestServer(t)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read joined: %v", err)
	}

	hub.Step()
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read keyframe: %v", err)
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if head.Type != proto.TypeKeyframe {
		t.Fatalf("expected keyframe, got %q", head.Type)
	}

	hub.Step()
	_, payload, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if head.Type != proto.TypeUpdate {
		t.Fatalf("expected update, got %q", head.Type)
	}
}

func TestPingRoundTrip(t *testing.T) {
	_, conn := dialTestServer(t)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read joined: %v", err)
	}

	ping, _ := json.Marshal(proto.ClientMessage{
		Ver:        proto.Version,
		Type:       proto.TypePing,
		ClientTime: time.Now().UnixMilli(),
	})
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	var pong struct {
		Type       string `json:"type"`
		ClientTime int64  `json:"clientTime"`
	}
	if err := json.Unmarshal(payload, &pong); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if pong.Type != proto.TypePong || pong.ClientTime == 0 {
		t.Fatalf("unexpected pong %+v", pong)
	}
}
