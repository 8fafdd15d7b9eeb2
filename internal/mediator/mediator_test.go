package mediator

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"orion/internal/lobby"
	"orion/internal/protocol"
	"orion/internal/session"
)

type fakeStream struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeStream) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}
func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, frame := range f.frames {
		out[i], _ = decodeMethod(frame)
	}
	return out
}

func (f *fakeStream) last(method string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		m, raw := decodeFrame(f.frames[i])
		if m == method {
			return raw, true
		}
	}
	return nil, false
}

func decodeMethod(frame []byte) (string, error) {
	parts := strings.SplitN(string(frame), ":", 2)
	return parts[0], nil
}

func decodeFrame(frame []byte) (string, map[string]any) {
	parts := strings.SplitN(string(frame), ":", 2)
	if len(parts) != 2 {
		return parts[0], nil
	}
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return parts[0], nil
	}
	var payload map[string]any
	_ = json.Unmarshal(raw, &payload)
	return parts[0], payload
}

func newLobbyWithMembers(t *testing.T, n int) (*lobby.Lobby, *lobby.Registry, []*fakeStream) {
	t.Helper()
	sessions := session.NewRegistry()
	lobbies := lobby.NewRegistry()
	streams := make([]*fakeStream, 0, n)

	hostStream := &fakeStream{}
	host := sessions.Open(hostStream)
	streams = append(streams, hostStream)
	l, err := lobbies.Create(host, lobby.CreateParams{HostName: "host", LobbyName: "room", Capacity: n})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 1; i < n; i++ {
		s := &fakeStream{}
		sess := sessions.Open(s)
		if _, err := lobbies.Join(l.ID, sess, "peer"+string(rune('0'+i))); err != nil {
			t.Fatalf("join: %v", err)
		}
		streams = append(streams, s)
	}
	return l, lobbies, streams
}

func fastConfig() Config {
	return Config{
		ReminderInterval: 10 * time.Millisecond,
		CaptureTimeout:   50 * time.Millisecond,
		ConnectTimeout:   50 * time.Millisecond,
	}
}

func TestMediatorSendsInitialCaptureFrameToAllMembers(t *testing.T) {
	l, lobbies, streams := newLobbyWithMembers(t, 3)
	m := New(l, lobbies, 9000, fastConfig())
	defer m.Shutdown()

	for i, s := range streams {
		if _, ok := s.last(protocol.MethodPtpMediationSend); !ok {
			t.Fatalf("member %d did not receive ptpMediation_send", i)
		}
	}
}

func TestMediatorAllCapturedTransitionsToConnecting(t *testing.T) {
	l, lobbies, streams := newLobbyWithMembers(t, 3)
	m := New(l, lobbies, 9000, fastConfig())
	defer m.Shutdown()

	members := l.Members()
	for _, mem := range members {
		m.Observe(mem.Token(), "203.0.113.1", 4000)
	}

	hostPayload, ok := streams[0].last(protocol.MethodPtpMediationPeersConnectionStart)
	if !ok {
		t.Fatal("expected host to receive ptpMediation_peersConnection_start")
	}
	peers, _ := hostPayload["peers"].([]any)
	if len(peers) != 2 {
		t.Fatalf("expected host to receive 2 peers, got %d", len(peers))
	}

	peerPayload, ok := streams[1].last(protocol.MethodPtpMediationPeersConnectionStart)
	if !ok {
		t.Fatal("expected non-host member to receive ptpMediation_peersConnection_start")
	}
	nonHostPeers, _ := peerPayload["peers"].([]any)
	if len(nonHostPeers) != 1 {
		t.Fatalf("expected non-host member to receive exactly the host address, got %d entries", len(nonHostPeers))
	}
}

func TestMediatorSuccessClosesLobby(t *testing.T) {
	l, lobbies, streams := newLobbyWithMembers(t, 2)
	m := New(l, lobbies, 9000, fastConfig())
	defer m.Shutdown()

	members := l.Members()
	for _, mem := range members {
		m.Observe(mem.Token(), "203.0.113.1", 4000)
	}
	for _, mem := range members {
		m.ReportSuccess(mem.Token())
	}

	for i, s := range streams {
		if _, ok := s.last(protocol.MethodPtpMediationSuccess); !ok {
			t.Fatalf("member %d did not receive ptpMediation_success", i)
		}
	}
	if _, ok := lobbies.Get(l.ID); ok {
		t.Fatal("expected the lobby to be closed after successful mediation")
	}
}

func TestMediatorDuplicateReportSuccessIsIdempotent(t *testing.T) {
	l, lobbies, _ := newLobbyWithMembers(t, 2)
	m := New(l, lobbies, 9000, fastConfig())
	defer m.Shutdown()

	members := l.Members()
	for _, mem := range members {
		m.Observe(mem.Token(), "203.0.113.1", 4000)
	}
	m.ReportSuccess(members[0].Token())
	m.ReportSuccess(members[0].Token())
	m.ReportSuccess(members[0].Token())

	if _, ok := lobbies.Get(l.ID); !ok {
		t.Fatal("expected the lobby to remain open until every member has acked once")
	}
}

func TestMediatorMembershipChangeAborts(t *testing.T) {
	l, lobbies, streams := newLobbyWithMembers(t, 2)
	m := New(l, lobbies, 9000, fastConfig())

	m.OnMembershipChanged()

	for i, s := range streams {
		if _, ok := s.last(protocol.MethodPtpMediationAborted); !ok {
			t.Fatalf("member %d did not receive ptpMediation_aborted", i)
		}
	}
	if l.Locked() {
		t.Fatal("expected the lobby to be unlocked after an abort")
	}
}

func TestMediatorCaptureTimeoutAborts(t *testing.T) {
	l, lobbies, streams := newLobbyWithMembers(t, 2)
	cfg := fastConfig()
	m := New(l, lobbies, 9000, cfg)
	defer m.Shutdown()

	time.Sleep(cfg.CaptureTimeout + 100*time.Millisecond)

	for i, s := range streams {
		if _, ok := s.last(protocol.MethodPtpMediationAborted); !ok {
			t.Fatalf("member %d did not receive ptpMediation_aborted after capture timeout", i)
		}
	}
}

func TestMediatorShutdownIsSilent(t *testing.T) {
	l, lobbies, streams := newLobbyWithMembers(t, 2)
	m := New(l, lobbies, 9000, fastConfig())

	m.Shutdown()

	for i, s := range streams {
		if _, ok := s.last(protocol.MethodPtpMediationAborted); ok {
			t.Fatalf("member %d received an abort frame on a silent shutdown", i)
		}
	}
}
