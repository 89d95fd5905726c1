package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pairpad/api/internal/chat"
	"pairpad/api/internal/presence"
	"pairpad/api/internal/realtime"
)

// socketFrame decodes any server frame; the type field says which payload
// is populated.
type socketFrame struct {
	Type     string                  `json:"type"`
	Cursors  []presence.RemoteCursor `json:"cursors"`
	Messages []chat.Message          `json:"messages"`
}

func dialRoom(t *testing.T, ts *httptest.Server, roomID, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/rooms/" + roomID + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames, skipping those check rejects, until one matches or
// the deadline hits.
func readUntil(t *testing.T, conn *websocket.Conn, check func(socketFrame) bool) socketFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame socketFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if check(frame) {
			return frame
		}
	}
	t.Fatal("no frame matched before deadline")
	return socketFrame{}
}

func TestSocketRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t)
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/rooms/room-1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401 handshake response, got %v", resp)
	}
}

func TestSocketStreamsPeerCursors(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	t.Cleanup(func() { ks.Close() })
	ts := newServerWithKeyspace(t, ks)

	ada := dialRoom(t, ts, "room-1", tokenFor(t, "user-1", "Ada"))
	bob := dialRoom(t, ts, "room-1", tokenFor(t, "user-2", "Bob"))

	if err := bob.WriteJSON(clientEvent{Type: "move", X: 42.5, Y: 17.25}); err != nil {
		t.Fatalf("send move: %v", err)
	}

	frame := readUntil(t, ada, func(f socketFrame) bool {
		return f.Type == "cursors" && len(f.Cursors) == 1
	})
	cursor := frame.Cursors[0]
	if cursor.UserID != "user-2" || cursor.XPercent != 42.5 || cursor.YPercent != 17.25 {
		t.Errorf("unexpected cursor: %+v", cursor)
	}
	if cursor.Color == "" {
		t.Error("expected an assigned color")
	}

	// Own cursor never comes back down.
	if err := ada.WriteJSON(clientEvent{Type: "move", X: 1, Y: 1}); err != nil {
		t.Fatalf("send move: %v", err)
	}
	frame = readUntil(t, bob, func(f socketFrame) bool {
		return f.Type == "cursors" && len(f.Cursors) == 1
	})
	if frame.Cursors[0].UserID != "user-1" {
		t.Errorf("expected only the peer cursor, got %+v", frame.Cursors)
	}
}

func TestSocketStreamsChatMessages(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	t.Cleanup(func() { ks.Close() })
	ts := newServerWithKeyspace(t, ks)

	ada := dialRoom(t, ts, "room-1", tokenFor(t, "user-1", "Ada"))

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/rooms/room-1/chat", tokenFor(t, "user-2", "Bob"), map[string]string{"text": "hello room"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send chat failed: %d", resp.StatusCode)
	}

	frame := readUntil(t, ada, func(f socketFrame) bool {
		return f.Type == "chat" && len(f.Messages) == 1
	})
	msg := frame.Messages[0]
	if msg.Text != "hello room" || msg.AuthorID != "user-2" {
		t.Errorf("unexpected chat message: %+v", msg)
	}
	if msg.ID == "" || msg.TimestampMillis == 0 {
		t.Errorf("expected generated id and timestamp: %+v", msg)
	}
}

func TestSocketChatFramesStaySorted(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	t.Cleanup(func() { ks.Close() })
	ts := newServerWithKeyspace(t, ks)

	bobToken := tokenFor(t, "user-2", "Bob")
	for _, text := range []string{"first", "second", "third"} {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/rooms/room-1/chat", bobToken, map[string]string{"text": text})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("send %q failed: %d", text, resp.StatusCode)
		}
		// Distinct timestamps so display order is deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	// A subscriber joining later still gets the full sorted log.
	ada := dialRoom(t, ts, "room-1", tokenFor(t, "user-1", "Ada"))
	frame := readUntil(t, ada, func(f socketFrame) bool {
		return f.Type == "chat" && len(f.Messages) == 3
	})
	for i, want := range []string{"first", "second", "third"} {
		if frame.Messages[i].Text != want {
			t.Errorf("position %d: expected %q, got %q", i, want, frame.Messages[i].Text)
		}
	}
}

func TestSocketDisconnectRemovesCursor(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	t.Cleanup(func() { ks.Close() })
	ts := newServerWithKeyspace(t, ks)

	bob := dialRoom(t, ts, "room-1", tokenFor(t, "user-2", "Bob"))
	if err := bob.WriteJSON(clientEvent{Type: "move", X: 5, Y: 5}); err != nil {
		t.Fatalf("send move: %v", err)
	}

	subtree := realtime.CursorsSubtree("room-1")
	waitForCursorCount(t, ks, subtree, 1)

	bob.Close()
	waitForCursorCount(t, ks, subtree, 0)
}

func TestSocketDropsSilentPeer(t *testing.T) {
	oldPong, oldPing := pongWait, pingPeriod
	pongWait, pingPeriod = 200*time.Millisecond, 50*time.Millisecond
	defer func() { pongWait, pingPeriod = oldPong, oldPing }()

	ks := realtime.NewMemoryKeyspace()
	t.Cleanup(func() { ks.Close() })
	ts := newServerWithKeyspace(t, ks)

	bob := dialRoom(t, ts, "room-1", tokenFor(t, "user-2", "Bob"))
	// Swallow pings so the server never sees a pong.
	bob.SetPingHandler(func(string) error { return nil })

	if err := bob.WriteJSON(clientEvent{Type: "move", X: 5, Y: 5}); err != nil {
		t.Fatalf("send move: %v", err)
	}
	subtree := realtime.CursorsSubtree("room-1")
	waitForCursorCount(t, ks, subtree, 1)

	// The server must drop the connection, not us timing out locally.
	bob.SetReadDeadline(time.Now().Add(3 * time.Second))
	var err error
	for err == nil {
		_, _, err = bob.ReadMessage()
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatalf("server never dropped the silent peer: %v", err)
	}

	waitForCursorCount(t, ks, subtree, 0)
}

func waitForCursorCount(t *testing.T, ks realtime.Keyspace, subtree string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := ks.Read(context.Background(), subtree)
		if err != nil {
			t.Fatalf("read cursors: %v", err)
		}
		if len(snap) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cursor count never reached %d", want)
}

// Guard against the wire shape drifting: clients key off these exact names.
func TestClientEventShape(t *testing.T) {
	var event clientEvent
	raw := `{"type":"move","x":12.5,"y":80.0,"file":"main.go"}`
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != "move" || event.X != 12.5 || event.Y != 80.0 || event.File != "main.go" {
		t.Errorf("unexpected event: %+v", event)
	}
}
