package wsconn

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"sfu-server/internal/room"
)

func newTestHandler(maxParticipants int) (*Handler, *httptest.Server) {
	h := &Handler{
		Manager:     room.NewManager(maxParticipants, nil),
		API:         webrtc.NewAPI(),
		JoinTimeout: 2 * time.Second,
	}
	srv := httptest.NewServer(h)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return decoded
}

func TestSingleJoinReceivesJoinedMessage(t *testing.T) {
	_, srv := newTestHandler(0)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "join", "room": "room-1", "name": "alice"}); err != nil {
		t.Fatalf("write join failed: %v", err)
	}

	msg := readJSON(t, conn)
	if msg["type"] != "joined" {
		t.Fatalf("expected joined message, got %+v", msg)
	}
	if _, ok := msg["your_id"].(string); !ok {
		t.Errorf("expected joined message to carry a string your_id, got %+v", msg)
	}
}

func TestRoomFullRejectsSecondJoin(t *testing.T) {
	h, srv := newTestHandler(1)
	defer srv.Close()

	first := dial(t, srv)
	defer first.Close()
	if err := first.WriteJSON(map[string]string{"type": "join", "room": "room-1", "name": "alice"}); err != nil {
		t.Fatalf("write join failed: %v", err)
	}
	readJSON(t, first) // joined

	// Give the first connection's AddPeer a moment to land in the
	// room before the second join races the capacity check.
	for i := 0; i < 20 && (h.Manager.GetRoom("room-1") == nil || h.Manager.GetRoom("room-1").PeerCount() == 0); i++ {
		time.Sleep(10 * time.Millisecond)
	}

	second := dial(t, srv)
	defer second.Close()
	if err := second.WriteJSON(map[string]string{"type": "join", "room": "room-1", "name": "bob"}); err != nil {
		t.Fatalf("write join failed: %v", err)
	}

	msg := readJSON(t, second)
	if msg["type"] != "error" {
		t.Fatalf("expected error message for full room, got %+v", msg)
	}
	if code, _ := msg["code"].(float64); int(code) != 403 {
		t.Errorf("expected error code 403, got %+v", msg["code"])
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	_, srv := newTestHandler(0)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "join", "room": "room-1"}); err != nil {
		t.Fatalf("write join failed: %v", err)
	}
	readJSON(t, conn) // joined

	if err := conn.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("write bogus message failed: %v", err)
	}

	msg := readJSON(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("expected error message for unknown type, got %+v", msg)
	}
}

func TestPingReceivesPong(t *testing.T) {
	_, srv := newTestHandler(0)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "join", "room": "room-1"}); err != nil {
		t.Fatalf("write join failed: %v", err)
	}
	readJSON(t, conn) // joined

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}

	msg := readJSON(t, conn)
	if msg["type"] != "pong" {
		t.Fatalf("expected pong, got %+v", msg)
	}
}
