// Package mediator implements the two-phase peer-to-peer mediation
// protocol described in spec.md §4.4: capturing each member's UDP
// source address, then driving them through a peer-connect handshake.
package mediator

import (
	"context"
	"log"
	"sync"
	"time"

	"orion/internal/cascade"
	"orion/internal/lobby"
	"orion/internal/protocol"
	"orion/internal/session"
)

// Phase is the mediator's current step in the protocol.
type Phase int

const (
	PhaseCapturing Phase = iota
	PhaseConnecting
	PhaseDone
)

// Config carries the three tunable timers from spec.md §6.
type Config struct {
	ReminderInterval time.Duration // ptpmConnectRequestIntervalMs, default 10s
	CaptureTimeout   time.Duration // ptpmServerConnectTimeoutMs, default 5m
	ConnectTimeout   time.Duration // ptpmConnectTimeoutMs, default 5m
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		ReminderInterval: 10 * time.Second,
		CaptureTimeout:   5 * time.Minute,
		ConnectTimeout:   5 * time.Minute,
	}
}

type addr struct {
	ip   string
	port int
}

// Mediator is the per-lobby state machine. Exactly one exists per lobby
// at any instant (spec.md §3 invariant); the lobby registry owns its
// lifecycle via the lobby.MediatorHandle interface.
type Mediator struct {
	lobbyHandle *lobby.Lobby
	registry    *lobby.Registry
	udpPort     int
	cfg         Config

	mu           sync.Mutex
	phase        Phase
	members      []*lobby.Member   // snapshot at mediation start
	byToken      map[string]*lobby.Member
	hostToken    string
	observed     map[string]addr
	acked        map[string]bool
	stopped      bool
	reminderStop context.CancelFunc
	captureTimer *time.Timer
	connectTimer *time.Timer
}

// New constructs a Mediator for l and immediately begins the capturing
// phase: it is an error to hold a reference to l across a membership
// change without going through the lobby.Registry, since a changed
// membership aborts the mediation entirely.
func New(l *lobby.Lobby, registry *lobby.Registry, udpPort int, cfg Config) *Mediator {
	members := l.Members()
	byToken := make(map[string]*lobby.Member, len(members))
	for _, m := range members {
		byToken[m.Token()] = m
	}

	m := &Mediator{
		lobbyHandle: l,
		registry:    registry,
		udpPort:     udpPort,
		cfg:         cfg,
		phase:       PhaseCapturing,
		members:     members,
		byToken:     byToken,
		hostToken:   members[0].Token(),
		observed:    make(map[string]addr),
		acked:       make(map[string]bool),
	}
	m.enterCapturing()
	return m
}

func (m *Mediator) sessions() []*session.Session {
	out := make([]*session.Session, len(m.members))
	for i, mem := range m.members {
		out[i] = mem.Session
	}
	return out
}

// enterCapturing sends the initial ptpMediation_send to every member and
// arms the reminder and capture-deadline timers (spec.md §4.4 "Capturing
// phase (entry)").
func (m *Mediator) enterCapturing() {
	cascade.Dispatch(m.sessions(), protocol.MethodPtpMediationSend, protocol.PtpMediationSendPayload{Port: m.udpPort})

	ctx, cancel := context.WithCancel(context.Background())
	m.reminderStop = cancel
	go m.reminderLoop(ctx)

	m.captureTimer = time.AfterFunc(m.cfg.CaptureTimeout, m.onCaptureTimeout)
}

// reminderLoop resends ptpMediation_send to uncaptured members every R.
func (m *Mediator) reminderLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReminderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendReminders()
		}
	}
}

func (m *Mediator) sendReminders() {
	m.mu.Lock()
	if m.phase != PhaseCapturing {
		m.mu.Unlock()
		return
	}
	var targets []*session.Session
	for _, mem := range m.members {
		if _, captured := m.observed[mem.Token()]; !captured {
			targets = append(targets, mem.Session)
		}
	}
	m.mu.Unlock()
	if len(targets) > 0 {
		cascade.Dispatch(targets, protocol.MethodPtpMediationSend, protocol.PtpMediationSendPayload{Port: m.udpPort})
	}
}

func (m *Mediator) onCaptureTimeout() {
	m.mu.Lock()
	if m.phase != PhaseCapturing {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.abort("timed out waiting for peers to send UDP packets")
}

func (m *Mediator) onConnectTimeout() {
	m.mu.Lock()
	if m.phase != PhaseConnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.abort("timed out waiting for peers to connect to one another")
}

// Observe records a member's datagram-observed source address. Overwrites
// any prior observation for the same token (re-send idempotence, spec.md
// §8). A token outside the mediation's current member set is ignored,
// preserving the observed ⊆ current-members invariant.
func (m *Mediator) Observe(token, ip string, port int) {
	m.mu.Lock()
	if m.stopped || m.phase != PhaseCapturing {
		m.mu.Unlock()
		return
	}
	if _, known := m.byToken[token]; !known {
		m.mu.Unlock()
		return
	}
	m.observed[token] = addr{ip: ip, port: port}
	allCaptured := len(m.observed) == len(m.members)
	m.mu.Unlock()

	if allCaptured {
		m.enterConnecting()
	}
}

// enterConnecting cancels the reminder and capture timers, builds and
// dispatches the peer-connect lists, and arms the peer-connect deadline
// (spec.md §4.4 "All-captured transition").
func (m *Mediator) enterConnecting() {
	m.mu.Lock()
	if m.phase != PhaseCapturing {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseConnecting
	m.reminderStop()
	m.captureTimer.Stop()

	hostAddr := m.observed[m.hostToken]
	var toHost []protocol.PeerAddr
	perMember := make(map[string]protocol.PtpMediationPeersConnectionStartPayload, len(m.members))
	for _, mem := range m.members {
		if mem.Token() == m.hostToken {
			continue
		}
		a := m.observed[mem.Token()]
		toHost = append(toHost, protocol.PeerAddr{IP: a.ip, Port: a.port})
		perMember[mem.Token()] = protocol.PtpMediationPeersConnectionStartPayload{
			Peers: []protocol.PeerAddr{{IP: hostAddr.ip, Port: hostAddr.port}},
		}
	}
	perMember[m.hostToken] = protocol.PtpMediationPeersConnectionStartPayload{Peers: toHost}
	members := m.members
	m.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, m.onConnectTimeout)
	m.mu.Unlock()

	for _, mem := range members {
		cascade.DispatchOne(mem.Session, protocol.MethodPtpMediationPeersConnectionStart, perMember[mem.Token()])
	}
	log.Printf("[mediator] %s: all %d members captured, entering connecting phase", m.lobbyHandle.ID, len(members))
}

// ReportSuccess records a peers-connection-success ack. A duplicate ack
// from the same member is a no-op (spec.md §8 idempotence law).
func (m *Mediator) ReportSuccess(token string) {
	m.mu.Lock()
	if m.stopped || m.phase != PhaseConnecting {
		m.mu.Unlock()
		return
	}
	if _, known := m.byToken[token]; !known {
		m.mu.Unlock()
		return
	}
	if m.acked[token] {
		m.mu.Unlock()
		return
	}
	m.acked[token] = true
	allAcked := len(m.acked) == len(m.members)
	m.mu.Unlock()

	if allAcked {
		m.succeed()
	}
}

// succeed dispatches ptpMediation_success to every member and closes the
// lobby, which in turn dispatches lobby_closed (spec.md §4.4).
func (m *Mediator) succeed() {
	m.mu.Lock()
	if m.phase != PhaseConnecting {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseDone
	m.stopTimersLocked()
	sessions := m.sessions()
	lobbyID := m.lobbyHandle.ID
	m.mu.Unlock()

	cascade.Dispatch(sessions, protocol.MethodPtpMediationSuccess, protocol.PtpMediationSuccessPayload{})
	log.Printf("[mediator] %s: mediation succeeded", lobbyID)
	m.registry.Close(lobbyID)
}

// OnMembershipChanged aborts the mediation because the lobby's member set
// changed underneath it (spec.md §4.4 abort path 3).
func (m *Mediator) OnMembershipChanged() {
	m.abort("Lobby members changed.")
}

// abort dispatches ptpMediation_aborted to every current member, tears
// down all timers and per-mediator state, and reopens the lobby for a
// future mediation attempt (spec.md §4.4 abort paths 1-3).
func (m *Mediator) abort(reason string) {
	m.mu.Lock()
	if m.stopped || m.phase == PhaseDone {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseDone
	m.stopTimersLocked()
	sessions := m.sessions()
	m.mu.Unlock()

	cascade.Dispatch(sessions, protocol.MethodPtpMediationAborted, protocol.PtpMediationAbortedPayload{AbortReason: reason})
	log.Printf("[mediator] %s: aborted: %s", m.lobbyHandle.ID, reason)
	m.registry.Unlock(m.lobbyHandle)
}

// Shutdown tears the mediator down silently: used when the lobby itself
// is closing, since the lobby-closed cascade subsumes the notification
// (spec.md §4.4 abort path 4).
func (m *Mediator) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseDone
	m.stopTimersLocked()
	m.mu.Unlock()
}

// stopTimersLocked cancels the reminder goroutine and both deadline
// timers. Must be called with m.mu held. Cancels the timer handle, never
// a duration value (spec.md §9 Open Question 2).
func (m *Mediator) stopTimersLocked() {
	if m.stopped {
		return
	}
	m.stopped = true
	if m.reminderStop != nil {
		m.reminderStop()
	}
	if m.captureTimer != nil {
		m.captureTimer.Stop()
	}
	if m.connectTimer != nil {
		m.connectTimer.Stop()
	}
}
