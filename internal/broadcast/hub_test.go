package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, _ := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(hub, conn, sessionID).Start()
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, sessionID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session_id=" + strconv.FormatInt(sessionID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversOnlyToSubscribedSession(t *testing.T) {
	hub, srv, _ := startHub(t)
	watcher := dial(t, srv, 1)
	other := dial(t, srv, 2)
	all := dial(t, srv, 0)
	waitForClients(t, hub, 3)

	hub.Broadcast(1, "alert", map[string]string{"severity": "RED"})

	for name, conn := range map[string]*websocket.Conn{"session watcher": watcher, "all-sessions watcher": all} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("%s: ReadJSON: %v", name, err)
		}
		if msg.Type != "alert" || msg.SessionID != 1 {
			t.Fatalf("%s: unexpected message %+v", name, msg)
		}
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var msg Message
	if err := other.ReadJSON(&msg); err == nil {
		t.Fatalf("client of session 2 received %+v", msg)
	}
}

func TestHubAnswersPing(t *testing.T) {
	hub, srv, _ := startHub(t)
	conn := dial(t, srv, 5)
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Fatalf("got %q, want pong", msg.Type)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, srv, cancel := startHub(t)
	conn := dial(t, srv, 1)
	waitForClients(t, hub, 1)

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed on shutdown")
	}
	// Broadcasting after shutdown must not block.
	hub.Broadcast(1, "alert", nil)
}
