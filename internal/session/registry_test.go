package session

import (
	"errors"
	"sync"
	"testing"
)

// mockStream implements Stream for tests.
type mockStream struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	err    error
}

func (m *mockStream) WriteFrame(frame []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.frames = append(m.frames, cp)
	return nil
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStream) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func TestRegistryOpenSendsClientRegistered(t *testing.T) {
	r := NewRegistry()
	stream := &mockStream{}
	sess := r.Open(stream)

	if sess.Token == "" {
		t.Fatal("expected a non-empty token")
	}
	if stream.frameCount() != 1 {
		t.Fatalf("expected exactly 1 frame sent on open, got %d", stream.frameCount())
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 live session, got %d", r.Count())
	}
}

func TestRegistryLookupByTokenAndID(t *testing.T) {
	r := NewRegistry()
	sess := r.Open(&mockStream{})

	byToken, ok := r.LookupByToken(sess.Token)
	if !ok || byToken.ID != sess.ID {
		t.Fatalf("LookupByToken failed to resolve the session just opened")
	}
	byID, ok := r.LookupByID(sess.ID)
	if !ok || byID.Token != sess.Token {
		t.Fatalf("LookupByID failed to resolve the session just opened")
	}

	if _, ok := r.LookupByToken("not-a-real-token"); ok {
		t.Fatal("expected lookup of an unknown token to fail")
	}
}

func TestRegistryCloseInvalidatesToken(t *testing.T) {
	r := NewRegistry()
	stream := &mockStream{}
	sess := r.Open(stream)

	r.Close(sess.ID)

	if r.Count() != 0 {
		t.Fatalf("expected 0 live sessions after close, got %d", r.Count())
	}
	if _, ok := r.LookupByToken(sess.Token); ok {
		t.Fatal("expected token to be invalidated after close")
	}
	if err := sess.SendFrame("whatever", struct{}{}); err != nil {
		t.Fatalf("SendFrame on a closing session should no-op, got error: %v", err)
	}
	if stream.frameCount() != 1 {
		t.Fatalf("expected no new frames written after close, still got %d", stream.frameCount())
	}
}

func TestRegistryShutdownClosesAllStreams(t *testing.T) {
	r := NewRegistry()
	s1 := &mockStream{}
	s2 := &mockStream{}
	r.Open(s1)
	r.Open(s2)

	r.Shutdown()

	if !s1.closed || !s2.closed {
		t.Fatal("expected Shutdown to close every underlying stream")
	}
	if r.Count() != 0 {
		t.Fatalf("expected 0 sessions after shutdown, got %d", r.Count())
	}
}

func TestSendFrameWriteErrorPropagates(t *testing.T) {
	r := NewRegistry()
	stream := &mockStream{err: errors.New("boom")}
	sess := r.Open(stream) // the registration send itself will fail silently (logged)

	if err := sess.SendFrame("m", struct{}{}); err == nil {
		t.Fatal("expected SendFrame to propagate the stream write error")
	}
}
