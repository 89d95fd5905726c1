package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pairpad/api/internal/chat"
	"pairpad/api/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser origins are enforced by the CORS policy on the REST
	// surface; the socket carries the same bearer identity.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// Liveness deadlines. A peer that neither answers pings nor sends data
// within pongWait gets its read loop torn down, which releases the
// publisher, watcher, and chat subscription. Vars so tests can shorten them.
var (
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// clientEvent is what the editor sends up the socket.
type clientEvent struct {
	Type string  `json:"type"` // "move", "keystroke", "file", "leave"
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	File string  `json:"file"`
}

// serverEvent is what the server streams down: classified peer cursors.
type serverEvent struct {
	Type    string                  `json:"type"`
	Cursors []presence.RemoteCursor `json:"cursors"`
}

// chatEvent carries the room's full message log, sorted for display, on
// every change to the chat subtree.
type chatEvent struct {
	Type     string         `json:"type"`
	Messages []chat.Message `json:"messages"`
}

// handleRoomSocket is the live room transport: the client streams pointer and
// typing events up, the server streams classified cursor views and chat
// snapshots down. Closing the socket is a clean leave for the cursor record.
func (s *HTTPServer) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	roomID := mux.Vars(r)["roomId"]
	activeFile := r.URL.Query().Get("file")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade for %s: %v", id.UserID, err)
		return
	}
	defer conn.Close()

	// The request context dies with the hijacked connection; presence
	// cleanup must still run, so the socket session uses its own.
	ctx := context.Background()

	publisher := s.service.NewPublisher(roomID, id, activeFile)
	defer publisher.Leave(ctx)

	watcher, err := s.service.NewWatcher(ctx, roomID, id.UserID, activeFile)
	if err != nil {
		log.Printf("presence watcher for %s: %v", id.UserID, err)
		return
	}
	defer watcher.Close()

	chatSub, err := s.service.WatchChat(ctx, roomID)
	if err != nil {
		log.Printf("chat subscription for %s: %v", id.UserID, err)
		return
	}
	defer chatSub.Close()

	// Single writer goroutine; gorilla connections allow one concurrent
	// writer. It ends when the watcher closes, and a write failure tears
	// down the read loop via conn.Close.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		chatUpdates := chatSub.Updates()
		for {
			select {
			case view, ok := <-watcher.Views():
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(serverEvent{Type: "cursors", Cursors: view}); err != nil {
					conn.Close()
					return
				}
			case snap, ok := <-chatUpdates:
				if !ok {
					chatUpdates = nil
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(chatEvent{Type: "chat", Messages: chat.SortMessages(snap)}); err != nil {
					conn.Close()
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var event clientEvent
		if err := conn.ReadJSON(&event); err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		switch event.Type {
		case "move":
			publisher.Move(ctx, event.X, event.Y)
		case "keystroke":
			publisher.Keystroke(ctx)
		case "file":
			publisher.SetActiveFile(ctx, event.File)
			watcher.SetActiveFile(event.File)
		case "leave":
			// Pointer left the viewport: drop the record but keep
			// the socket for when it returns.
			publisher.Exit(ctx)
		}
	}

	watcher.Close()
	<-writerDone
}
