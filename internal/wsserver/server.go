// Package wsserver implements the reliable-stream transport: an
// HTTP/1.1 upgrade to a persistent bidirectional websocket carrying
// Frame Codec text frames (spec.md §6).
package wsserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"orion/internal/lobby"
	"orion/internal/protocol"
	"orion/internal/router"
	"orion/internal/session"
)

const writeTimeout = 5 * time.Second

// Server upgrades incoming HTTP requests to websocket connections and
// owns the per-connection read loop. It does not own an *echo.Echo
// itself — Register binds its route onto one shared with
// internal/httpapi, since both are HTTP/1.1 surfaces on spec.md §6's
// single `httpPort`.
type Server struct {
	sessions *session.Registry
	lobbies  *lobby.Registry
	router   *router.Router
	upgrader websocket.Upgrader
}

// New constructs a Server bound to the given registries and router.
func New(sessions *session.Registry, lobbies *lobby.Registry, r *router.Router) *Server {
	return &Server{
		sessions: sessions,
		lobbies:  lobbies,
		router:   r,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the websocket upgrade route onto e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws", s.handleUpgrade)
}

func (s *Server) handleUpgrade(c echo.Context) error {
	remoteAddr := c.RealIP()
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[wsserver] upgrade failed for %s: %v", remoteAddr, err)
		return err
	}
	s.serveConn(conn, remoteAddr)
	return nil
}

// connStream adapts a *websocket.Conn to the session.Stream interface.
type connStream struct {
	conn *websocket.Conn
}

func (c connStream) WriteFrame(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c connStream) Close() error { return c.conn.Close() }

func (s *Server) serveConn(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()
	conn.SetReadLimit(1 << 16)

	sess := s.sessions.Open(connStream{conn: conn})
	log.Printf("[wsserver] connected session %d from %s", sess.ID, remoteAddr)

	defer func() {
		s.sessions.Close(sess.ID)
		s.lobbies.OnSessionClose(sess)
		log.Printf("[wsserver] disconnected session %d from %s", sess.ID, remoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[wsserver] session %d read error: %v", sess.ID, err)
			}
			return
		}
		method, raw, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[wsserver] session %d sent malformed frame, dropping: %v", sess.ID, err)
			continue
		}
		s.router.HandleStreamFrame(method, raw)
	}
}
