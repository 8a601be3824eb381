package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiritolabs/tirito/internal/market"
)

func TestPushWithoutConnections(t *testing.T) {
	h := NewHub(nil, 4)
	err := h.PushToUser("alice", "notification", map[string]string{"hi": "there"})
	if !errors.Is(err, ErrNoConnections) {
		t.Fatalf("PushToUser() error = %v, want ErrNoConnections", err)
	}
	if h.Connected("alice") {
		t.Fatalf("Connected() = true, want false")
	}
}

func TestPushRoundTrip(t *testing.T) {
	h := NewHub(nil, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Attach("alice", conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	// Attach registers asynchronously relative to the dial returning.
	deadline := time.Now().Add(2 * time.Second)
	for !h.Connected("alice") {
		if time.Now().After(deadline) {
			t.Fatalf("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := h.PushToUser("alice", "notification", map[string]string{"title": "hola"}); err != nil {
		t.Fatalf("PushToUser() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var env struct {
		Event   string            `json:"event"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame %q: %v", frame, err)
	}
	if env.Event != "notification" || env.Payload["title"] != "hola" {
		t.Fatalf("envelope = %+v, want notification with title hola", env)
	}

	// Dropping the client eventually clears the registry.
	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.Connected("alice") {
		if time.Now().After(deadline) {
			t.Fatalf("connection never unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := h.PushToUser("alice", "notification", nil); !errors.Is(err, ErrNoConnections) {
		t.Fatalf("PushToUser() after close error = %v, want ErrNoConnections", err)
	}
}

func TestPushFansOutToAllConnections(t *testing.T) {
	h := NewHub(nil, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Attach(market.UserID(r.URL.Query().Get("user")), conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=alice"
	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer second.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !h.Connected("alice") {
		if time.Now().After(deadline) {
			t.Fatalf("connections never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Both sockets must be registered before pushing.
	time.Sleep(50 * time.Millisecond)

	if err := h.PushToUser("alice", "notification", map[string]string{"n": "1"}); err != nil {
		t.Fatalf("PushToUser() error = %v", err)
	}
	for i, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("connection %d never received the push: %v", i, err)
		}
	}

	h.Shutdown()
}
