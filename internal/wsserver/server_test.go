package wsserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"orion/internal/lobby"
	"orion/internal/protocol"
	"orion/internal/router"
	"orion/internal/session"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry, *lobby.Registry) {
	t.Helper()
	sessions := session.NewRegistry()
	lobbies := lobby.NewRegistry()
	r := router.New(sessions, lobbies)
	e := echo.New()
	New(sessions, lobbies, r).Register(e)
	return httptest.NewServer(e), sessions, lobbies
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestUpgradeSendsClientRegistered(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	method, _, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if method != protocol.MethodClientRegistered {
		t.Fatalf("expected %s, got %s", protocol.MethodClientRegistered, method)
	}
}

func TestDisconnectTriggersSessionClose(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage() // drain client_registered
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sessions.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sessions.Count() != 0 {
		t.Fatal("expected the session to be removed after disconnect")
	}
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.ReadMessage() // drain client_registered

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not-a-valid-frame")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Connection must survive the malformed frame: the read loop drops
	// it and keeps reading, so the session stays registered.
	time.Sleep(50 * time.Millisecond)
	if sessions.Count() != 1 {
		t.Fatalf("expected the session to remain alive after a malformed frame, count=%d", sessions.Count())
	}
}
