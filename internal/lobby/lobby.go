// Package lobby implements the lobby state machine: creation, membership,
// host/non-host roles, locking while a mediation attempt is in flight,
// and the closure cascade (spec.md §3, §4.3).
package lobby

import (
	"strings"
	"sync"

	"orion/internal/session"
)

// MediatorHandle is the narrow surface the lobby registry needs from an
// active mediation attempt. It is implemented by package mediator; lobby
// depends only on this interface so the two packages don't import each
// other.
type MediatorHandle interface {
	// Observe records a member's datagram-observed source address.
	Observe(token, ip string, port int)
	// ReportSuccess records a peers-connection-success ack from a member.
	ReportSuccess(token string)
	// OnMembershipChanged aborts the mediation: lobby membership changed
	// underneath it (spec.md §4.4 abort path 3).
	OnMembershipChanged()
	// Shutdown tears the mediator down without dispatching any frame —
	// used when the lobby itself is being closed, since the lobby-closed
	// cascade already covers the notification (spec.md §4.4 abort path 4).
	Shutdown()
}

// Member is a session joined to a lobby under a display name.
type Member struct {
	Session *session.Session
	Name    string
}

// Token returns the member's session token, the identity carried on the
// datagram channel and the request-response surface.
func (m *Member) Token() string { return m.Session.Token }

// Lobby is the in-memory aggregate described in spec.md §3.
type Lobby struct {
	ID       string
	Name     string
	Capacity int
	Public   bool

	mu       sync.RWMutex
	locked   bool
	members  []*Member // join order; members[0] is always the host
	mediator MediatorHandle
}

func newLobby(id, name string, capacity int, public bool, host *session.Session, hostName string) *Lobby {
	return &Lobby{
		ID:       id,
		Name:     name,
		Capacity: capacity,
		Public:   public,
		members:  []*Member{{Session: host, Name: hostName}},
	}
}

// Locked reports whether the lobby currently refuses new members and a
// second mediation start.
func (l *Lobby) Locked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.locked
}

// HostSession returns the current host's session.
func (l *Lobby) HostSession() *session.Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.members[0].Session
}

// HostName returns the current host's display name.
func (l *Lobby) HostName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.members[0].Name
}

// MemberCount returns the current number of members, including the host.
func (l *Lobby) MemberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

// Members returns a snapshot of the current member list, in join order.
func (l *Lobby) Members() []*Member {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Member, len(l.members))
	copy(out, l.members)
	return out
}

// MemberNames returns display names in join order.
func (l *Lobby) MemberNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.members))
	for i, m := range l.members {
		out[i] = m.Name
	}
	return out
}

// hasName reports whether name is already taken by a current member
// (case-insensitive, matching the teacher's duplicate-name convention).
func (l *Lobby) hasName(name string) bool {
	for _, m := range l.members {
		if strings.EqualFold(m.Name, name) {
			return true
		}
	}
	return false
}

// memberIndex returns the index of the member owning sessionID, or -1.
func (l *Lobby) memberIndex(sessionID uint64) int {
	for i, m := range l.members {
		if m.Session.ID == sessionID {
			return i
		}
	}
	return -1
}

// Mediator returns the lobby's currently active mediator, or nil.
func (l *Lobby) Mediator() MediatorHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mediator
}
