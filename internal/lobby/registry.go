package lobby

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"orion/internal/cascade"
	"orion/internal/protocol"
	"orion/internal/session"
)

// State-conflict errors returned by Registry operations (spec.md §4.3).
var (
	ErrClientAlreadyInLobby = errors.New("already in a lobby")
	ErrLobbyNotFound        = errors.New("lobby doesn't exist")
	ErrLobbyFull            = errors.New("lobby is full")
	ErrLobbyLocked          = errors.New("lobby is locked")
	ErrNameTaken            = errors.New("name is taken")
	ErrNotHost              = errors.New("not the host")
	ErrAlreadyMediating     = errors.New("already mediating")
	ErrInsufficientMembers  = errors.New("must be at least 2")
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const idLength = 5

// Summary is the public-listing view of a lobby (spec.md §4.3 list_public).
type Summary struct {
	Name           string
	ID             string
	CurrentMembers int
	Capacity       int
}

// JoinResult is the joiner's view returned on a successful join.
type JoinResult struct {
	LobbyID      string
	LobbyName    string
	LobbyMembers []string
	HostName     string
}

// CreateParams are the caller-validated inputs to Create.
type CreateParams struct {
	HostName  string
	LobbyName string
	IsPublic  bool
	Capacity  int
}

// Registry is the catalogue of all live lobbies, indexed by ID and, for
// every current member, by session token (spec.md §4.3).
type Registry struct {
	mu           sync.RWMutex
	lobbies      map[string]*Lobby
	tokenToLobby map[string]*Lobby
	newMediator  func(l *Lobby, r *Registry) MediatorHandle
	rng          *rand.Rand
	rngMu        sync.Mutex
}

// NewRegistry returns an empty lobby registry.
func NewRegistry() *Registry {
	return &Registry{
		lobbies:      make(map[string]*Lobby),
		tokenToLobby: make(map[string]*Lobby),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetMediatorFactory registers the constructor used to create a Mediator
// when a host starts mediation. Injected rather than imported directly so
// package lobby never depends on package mediator (spec.md §9 design
// notes: pass-through method calls are an acceptable observer substitute).
func (r *Registry) SetMediatorFactory(fn func(l *Lobby, reg *Registry) MediatorHandle) {
	r.mu.Lock()
	r.newMediator = fn
	r.mu.Unlock()
}

func (r *Registry) randomID() string {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	b := make([]byte, idLength)
	for i := range b {
		b[i] = idAlphabet[r.rng.Intn(len(idAlphabet))]
	}
	return string(b)
}

// Create creates a new lobby owned by host. Fails with
// ErrClientAlreadyInLobby if host's token already maps to a lobby.
func (r *Registry) Create(host *session.Session, p CreateParams) (*Lobby, error) {
	r.mu.Lock()
	if _, exists := r.tokenToLobby[host.Token]; exists {
		r.mu.Unlock()
		return nil, ErrClientAlreadyInLobby
	}

	var id string
	for {
		id = r.randomID()
		if _, taken := r.lobbies[id]; !taken {
			break
		}
	}

	l := newLobby(id, p.LobbyName, p.Capacity, p.IsPublic, host, p.HostName)
	r.lobbies[id] = l
	r.tokenToLobby[host.Token] = l
	r.mu.Unlock()

	log.Printf("[lobby] created %s %q by %q (capacity=%d public=%v)", id, p.LobbyName, p.HostName, p.Capacity, p.IsPublic)
	return l, nil
}

// Get returns the lobby with the given ID, or (nil, false).
func (r *Registry) Get(id string) (*Lobby, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lobbies[id]
	return l, ok
}

// LobbyForToken returns the lobby the given token currently belongs to.
func (r *Registry) LobbyForToken(token string) (*Lobby, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.tokenToLobby[token]
	return l, ok
}

// ListPublic returns a summary of every public lobby.
func (r *Registry) ListPublic() []Summary {
	r.mu.RLock()
	lobbies := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		lobbies = append(lobbies, l)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(lobbies))
	for _, l := range lobbies {
		if !l.Public {
			continue
		}
		out = append(out, Summary{
			Name:           l.Name,
			ID:             l.ID,
			CurrentMembers: l.MemberCount(),
			Capacity:       l.Capacity,
		})
	}
	return out
}

// Join adds joiningSession to the named lobby under peerName.
func (r *Registry) Join(lobbyID string, joiningSession *session.Session, peerName string) (JoinResult, error) {
	r.mu.Lock()
	if _, exists := r.tokenToLobby[joiningSession.Token]; exists {
		r.mu.Unlock()
		return JoinResult{}, ErrClientAlreadyInLobby
	}
	l, ok := r.lobbies[lobbyID]
	r.mu.Unlock()
	if !ok {
		return JoinResult{}, ErrLobbyNotFound
	}

	l.mu.Lock()
	if l.locked {
		l.mu.Unlock()
		return JoinResult{}, ErrLobbyLocked
	}
	if len(l.members) >= l.Capacity {
		l.mu.Unlock()
		return JoinResult{}, ErrLobbyFull
	}
	if l.hasName(peerName) {
		l.mu.Unlock()
		return JoinResult{}, ErrNameTaken
	}
	l.members = append(l.members, &Member{Session: joiningSession, Name: peerName})
	others := make([]*session.Session, 0, len(l.members)-1)
	for _, m := range l.members[:len(l.members)-1] {
		others = append(others, m.Session)
	}
	hostName := l.members[0].Name
	names := make([]string, len(l.members))
	for i, m := range l.members {
		names[i] = m.Name
	}
	lobbyName := l.Name
	l.mu.Unlock()

	r.mu.Lock()
	r.tokenToLobby[joiningSession.Token] = l
	r.mu.Unlock()

	// Dispatched after the membership change has been committed, so a
	// peer querying lobby state immediately sees the new member
	// (spec.md §4.3 ordering tie-break).
	cascade.Dispatch(others, protocol.MethodLobbyPeerConnect, protocol.LobbyPeerConnectPayload{
		LobbyID:  lobbyID,
		PeerName: peerName,
	})

	log.Printf("[lobby] %s: %q joined (%d/%d)", lobbyID, peerName, len(names), l.Capacity)
	return JoinResult{
		LobbyID:      lobbyID,
		LobbyName:    lobbyName,
		LobbyMembers: names,
		HostName:     hostName,
	}, nil
}

// StartMediation begins a mediation attempt for lobbyID on behalf of
// sess. Preconditions are checked in the order spec.md §4.5 prescribes:
// (token validity is the caller's responsibility before calling this),
// then lobby existence, then host-ness, then not-already-mediating, then
// member count >= 2.
func (r *Registry) StartMediation(sess *session.Session, lobbyID string) error {
	r.mu.RLock()
	l, ok := r.lobbies[lobbyID]
	factory := r.newMediator
	r.mu.RUnlock()
	if !ok {
		return ErrLobbyNotFound
	}

	l.mu.Lock()
	if l.members[0].Session.ID != sess.ID {
		l.mu.Unlock()
		return ErrNotHost
	}
	if l.locked {
		l.mu.Unlock()
		return ErrAlreadyMediating
	}
	if len(l.members) < 2 {
		l.mu.Unlock()
		return ErrInsufficientMembers
	}
	l.locked = true
	l.mu.Unlock()

	if factory == nil {
		log.Printf("[lobby] %s: no mediator factory configured", lobbyID)
		return nil
	}
	m := factory(l, r)
	l.mu.Lock()
	l.mediator = m
	l.mu.Unlock()

	log.Printf("[lobby] %s: mediation started by %q", lobbyID, l.members[0].Name)
	return nil
}

// unlock clears the locked flag and the active mediator, letting the
// host start mediation again. Called by the mediator on abort.
func (r *Registry) unlock(l *Lobby) {
	l.mu.Lock()
	l.locked = false
	l.mediator = nil
	l.mu.Unlock()
}

// Unlock is the public entry point mediators use on abort to reopen the
// lobby for another mediation attempt (spec.md §4.4 "After abort, the
// lobby remains open").
func (r *Registry) Unlock(l *Lobby) { r.unlock(l) }

// Close destroys the lobby: tears down any live mediator, dispatches
// lobby_closed to every current member, clears their token->lobby
// entries, and deletes the lobby (spec.md §4.3 close cascade).
func (r *Registry) Close(id string) {
	r.mu.RLock()
	l, ok := r.lobbies[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.closeLobby(l, nil)
}

// closeLobby runs the full closure cascade for l, excluding excludeSessionID
// from the lobby_closed recipient set (used when the trigger was the
// host's own disconnect — spec.md scenario S3).
func (r *Registry) closeLobby(l *Lobby, excludeSessionID *uint64) {
	l.mu.Lock()
	mediator := l.mediator
	l.mediator = nil
	l.locked = true
	recipients := make([]*session.Session, 0, len(l.members))
	tokens := make([]string, 0, len(l.members))
	for _, m := range l.members {
		if excludeSessionID != nil && m.Session.ID == *excludeSessionID {
			tokens = append(tokens, m.Token())
			continue
		}
		recipients = append(recipients, m.Session)
		tokens = append(tokens, m.Token())
	}
	name := l.Name
	id := l.ID
	l.mu.Unlock()

	if mediator != nil {
		mediator.Shutdown()
	}

	cascade.Dispatch(recipients, protocol.MethodLobbyClosed, protocol.LobbyClosedPayload{
		LobbyID:   id,
		LobbyName: name,
	})

	r.mu.Lock()
	delete(r.lobbies, id)
	for _, t := range tokens {
		delete(r.tokenToLobby, t)
	}
	r.mu.Unlock()

	log.Printf("[lobby] %s: closed, %d members notified", id, len(recipients))
}

// OnSessionClose handles a reliable-stream disconnect: a no-op if sess
// was not in any lobby, a full closure cascade if it was the host, or a
// single-member departure notification otherwise (spec.md §4.3).
func (r *Registry) OnSessionClose(sess *session.Session) {
	r.mu.RLock()
	l, ok := r.tokenToLobby[sess.Token]
	r.mu.RUnlock()
	if !ok {
		return
	}

	l.mu.Lock()
	isHost := l.members[0].Session.ID == sess.ID
	l.mu.Unlock()

	if isHost {
		id := sess.ID
		r.closeLobby(l, &id)
		return
	}

	l.mu.Lock()
	idx := l.memberIndex(sess.ID)
	if idx < 0 {
		l.mu.Unlock()
		return
	}
	departedName := l.members[idx].Name
	l.members = append(l.members[:idx], l.members[idx+1:]...)
	remaining := make([]*session.Session, len(l.members))
	for i, m := range l.members {
		remaining[i] = m.Session
	}
	mediator := l.mediator
	lobbyID := l.ID
	l.mu.Unlock()

	r.mu.Lock()
	delete(r.tokenToLobby, sess.Token)
	r.mu.Unlock()

	cascade.Dispatch(remaining, protocol.MethodLobbyPeerDisconnect, protocol.LobbyPeerDisconnectPayload{
		LobbyID:  lobbyID,
		PeerName: departedName,
	})

	if mediator != nil {
		mediator.OnMembershipChanged()
	}

	log.Printf("[lobby] %s: %q left, %d members remain", lobbyID, departedName, len(remaining))
}

// Shutdown tears down every mediator and clears all state without
// dispatching closure notifications — sessions are being torn down
// anyway (spec.md §4.3).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	lobbies := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		lobbies = append(lobbies, l)
	}
	r.lobbies = make(map[string]*Lobby)
	r.tokenToLobby = make(map[string]*Lobby)
	r.mu.Unlock()

	for _, l := range lobbies {
		l.mu.Lock()
		m := l.mediator
		l.mediator = nil
		l.mu.Unlock()
		if m != nil {
			m.Shutdown()
		}
	}
}
