// Package session tracks live reliable-stream connections and mints the
// per-session secret tokens that correlate a stream identity with lobby
// membership and datagram observations.
package session

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"orion/internal/protocol"
)

// Stream is the minimal write/close surface a transport must offer.
// Implementations must make Write safe to call concurrently with Close,
// and must treat a write after Close as a silent no-op rather than an
// error — writes racing a disconnect are a normal consequence of cascade
// notifications (spec.md "Stream closing during write" design note).
type Stream interface {
	WriteFrame(frame []byte) error
	Close() error
}

// Session is one live reliable-stream connection.
type Session struct {
	ID    uint64
	Token string

	mu      sync.Mutex
	stream  Stream
	closing bool
}

// SendFrame encodes method/payload and writes it to the session's stream.
// It is a silent no-op once the session is closing, per spec.md's design
// note on races between cascades and disconnects.
func (s *Session) SendFrame(method string, payload any) error {
	frame, err := protocol.Encode(method, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	if err := s.stream.WriteFrame(frame); err != nil {
		log.Printf("[session %d] write error: %v", s.ID, err)
		return err
	}
	return nil
}

// markClosing flags the session so later SendFrame calls no-op. It does
// not close the underlying stream — the caller (registry.Close or the
// read-loop's own defer) owns that.
func (s *Session) markClosing() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

// Registry tracks every live session, indexed by both opaque internal ID
// and secret token. Token <-> Session is a bijection over all live
// sessions (spec.md §3).
type Registry struct {
	mu      sync.RWMutex
	byID    map[uint64]*Session
	byToken map[string]*Session
	nextID  atomic.Uint64
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[uint64]*Session),
		byToken: make(map[string]*Session),
	}
}

// Open registers stream as a new session, minting a fresh UUID-grade
// token (re-rolled on the astronomically unlikely collision), and sends
// the client_registered frame on that stream — and only that stream —
// before returning, per spec.md §4.2.
func (r *Registry) Open(stream Stream) *Session {
	var sess *Session
	r.mu.Lock()
	for {
		token := uuid.NewString()
		if _, exists := r.byToken[token]; exists {
			continue
		}
		id := r.nextID.Add(1)
		sess = &Session{ID: id, Token: token, stream: stream}
		r.byID[id] = sess
		r.byToken[token] = sess
		break
	}
	r.mu.Unlock()

	if err := sess.SendFrame(protocol.MethodClientRegistered, protocol.ClientRegisteredPayload{Token: sess.Token}); err != nil {
		log.Printf("[session] registration frame failed for session %d: %v", sess.ID, err)
	}
	log.Printf("[session] opened session %d, total=%d", sess.ID, r.Count())
	return sess
}

// LookupByToken returns the session for token, or (nil, false).
func (r *Registry) LookupByToken(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byToken[token]
	return s, ok
}

// LookupByID returns the session for id, or (nil, false).
func (r *Registry) LookupByID(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Close removes the session from both indices and invalidates its token.
// It does not by itself drive lobby cleanup — the caller of Close (the
// read-loop's disconnect handler) is responsible for the session-close
// cascade into the lobby registry, before or after this call.
func (r *Registry) Close(id uint64) {
	r.mu.Lock()
	sess, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byToken, sess.Token)
	}
	total := len(r.byID)
	r.mu.Unlock()
	if ok {
		sess.markClosing()
		log.Printf("[session] closed session %d, total=%d", id, total)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown closes every stream that is not already closing and clears
// all registry state. No closure cascade is dispatched — the process is
// going down and every peer is being disconnected anyway (spec.md §5).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = make(map[uint64]*Session)
	r.byToken = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.markClosing()
		if err := s.stream.Close(); err != nil {
			log.Printf("[session] shutdown close session %d: %v", s.ID, err)
		}
	}
}

// ErrUnknownToken is returned by callers that need a typed sentinel for
// an unresolved token; the registry itself reports absence via the
// (value, bool) idiom above.
var ErrUnknownToken = fmt.Errorf("session: unknown token")
