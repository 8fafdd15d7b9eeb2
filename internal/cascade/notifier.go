// Package cascade sends observation frames to a recipient set without
// letting one slow or dead recipient block delivery to the others.
package cascade

import "orion/internal/session"

// Dispatch sends method/payload to every session in recipients. A send
// failure on one recipient never aborts delivery to the rest (spec.md §5
// fan-out guarantee); the session package itself already no-ops writes
// to a closing stream.
func Dispatch(recipients []*session.Session, method string, payload any) {
	for _, s := range recipients {
		if s == nil {
			continue
		}
		_ = s.SendFrame(method, payload)
	}
}

// DispatchOne sends method/payload to a single session, tolerating a nil
// session (the recipient having already disconnected).
func DispatchOne(s *session.Session, method string, payload any) {
	if s == nil {
		return
	}
	_ = s.SendFrame(method, payload)
}
