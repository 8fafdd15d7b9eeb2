// Package datagram implements the Datagram Handler: the server's
// receive-only UDP socket that feeds observed peer addresses into the
// mediator owning each sender's lobby (spec.md §4.6).
package datagram

import (
	"log"
	"net"

	"orion/internal/lobby"
	"orion/internal/protocol"
	"orion/internal/session"
)

// Handler owns the UDP listener and routes inbound ptpMediation_connect
// datagrams to the right mediator.
type Handler struct {
	sessions *session.Registry
	lobbies  *lobby.Registry
	conn     *net.UDPConn
}

// Listen opens a receive-only UDP socket on addr.
func Listen(addr string, sessions *session.Registry, lobbies *lobby.Registry) (*Handler, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Handler{sessions: sessions, lobbies: lobbies, conn: conn}, nil
}

// Close closes the underlying UDP socket.
func (h *Handler) Close() error { return h.conn.Close() }

// Run reads datagrams until the socket is closed, dispatching each one
// to the mediator owning its sender's lobby. Payload-supplied ports are
// never trusted; only the OS-reported source address is used.
func (h *Handler) Run() {
	buf := make([]byte, 2048)
	for {
		n, srcAddr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("[datagram] listener stopped: %v", err)
			return
		}
		h.handle(buf[:n], srcAddr)
	}
}

func (h *Handler) handle(data []byte, src *net.UDPAddr) {
	var payload protocol.PtpMediationConnectPayload
	method, err := protocol.DecodePayload(data, &payload)
	if err != nil {
		log.Printf("[datagram] malformed frame from %s, dropping: %v", src, err)
		return
	}
	if method != protocol.MethodPtpMediationConnect {
		log.Printf("[datagram] unexpected method %q from %s, dropping", method, src)
		return
	}

	sess, ok := h.sessions.LookupByToken(payload.Token)
	if !ok {
		log.Printf("[datagram] unknown token from %s, dropping", src)
		return
	}
	l, ok := h.lobbies.LobbyForToken(sess.Token)
	if !ok {
		return
	}
	med := l.Mediator()
	if med == nil {
		return
	}
	med.Observe(payload.Token, src.IP.String(), src.Port)
}
