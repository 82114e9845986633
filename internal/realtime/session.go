// Package realtime implements the session registry (C4) and push fabric
// (C5): in-memory connection bookkeeping plus typed event fan-out over
// WebSocket connections.
package realtime

import "time"

// Session mirrors the ephemeral SocketSession described in §3. It is never
// persisted; registry state is lost on process restart by design.
type Session struct {
	SID            string
	Username       string // empty until the handshake authenticates
	SessionID      string // client-generated, survives reconnects
	ConnectedAt    time.Time
	SubscribedCVEs map[string]struct{}
}

func newSession(sid, username, sessionID string, connectedAt time.Time) *Session {
	return &Session{
		SID:            sid,
		Username:       username,
		SessionID:      sessionID,
		ConnectedAt:    connectedAt,
		SubscribedCVEs: make(map[string]struct{}),
	}
}

// snapshot returns a value copy safe to hand to callers outside the
// registry's mutex.
func (s *Session) snapshot() Session {
	cp := *s
	cp.SubscribedCVEs = make(map[string]struct{}, len(s.SubscribedCVEs))
	for k := range s.SubscribedCVEs {
		cp.SubscribedCVEs[k] = struct{}{}
	}
	return cp
}
