package realtime

import (
	"sync"
	"time"

	"github.com/cvehub/cvehub/internal/clock"
)

// Registry holds the five in-memory maps described in §4.3, all mutated
// only through this type's methods and all guarded by a single mutex.
// Holding the mutex while doing I/O is forbidden; callers receive snapshot
// copies and do I/O after releasing it.
type Registry struct {
	mu sync.Mutex

	sessions           map[string]*Session            // sid -> session
	userSessions       map[string]map[string]struct{} // username -> set<sid>
	sessionGroups      map[string]map[string]struct{} // session_id -> set<sid>
	cveSubscribers     map[string]map[string]struct{} // cve_id -> set<username>
	userSubscriptions  map[string]map[string]struct{} // username -> set<cve_id>
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:          make(map[string]*Session),
		userSessions:      make(map[string]map[string]struct{}),
		sessionGroups:     make(map[string]map[string]struct{}),
		cveSubscribers:    make(map[string]map[string]struct{}),
		userSubscriptions: make(map[string]map[string]struct{}),
	}
}

// Register records a new connection and returns its session snapshot.
func (r *Registry) Register(sid, username, sessionID string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := newSession(sid, username, sessionID, time.Now().UTC())
	r.sessions[sid] = s

	if username != "" {
		if r.userSessions[username] == nil {
			r.userSessions[username] = make(map[string]struct{})
		}
		r.userSessions[username][sid] = struct{}{}
	}
	if sessionID != "" {
		if r.sessionGroups[sessionID] == nil {
			r.sessionGroups[sessionID] = make(map[string]struct{})
		}
		r.sessionGroups[sessionID][sid] = struct{}{}
	}

	return s.snapshot()
}

// Remove tears a connection down, cleaning every map it appears in,
// including releasing its CVE subscriptions per the same rule Unsubscribe
// uses.
func (r *Registry) Remove(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sid)
}

func (r *Registry) removeLocked(sid string) {
	s, ok := r.sessions[sid]
	if !ok {
		return
	}

	for cveID := range s.SubscribedCVEs {
		r.unsubscribeLocked(sid, cveID)
	}

	if s.Username != "" {
		if set := r.userSessions[s.Username]; set != nil {
			delete(set, sid)
			if len(set) == 0 {
				delete(r.userSessions, s.Username)
			}
		}
	}
	if s.SessionID != "" {
		if set := r.sessionGroups[s.SessionID]; set != nil {
			delete(set, sid)
			if len(set) == 0 {
				delete(r.sessionGroups, s.SessionID)
			}
		}
	}

	delete(r.sessions, sid)
}

// CleanupBySessionID removes every physical connection belonging to a
// logical session, used when a client reports a new tab replacing an old
// one.
func (r *Registry) CleanupBySessionID(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sids := r.sessionGroups[sessionID]
	for sid := range sids {
		r.removeLocked(sid)
	}
}

// SubscribeResult reports enough state for the caller to build the
// subscription_status and cve_subscribers_updated events without
// re-entering the registry.
type SubscribeResult struct {
	SubscriberCount int
	Subscribers     []string
}

// Subscribe binds (sid, cveID) in both directions. Returns the resulting
// subscriber set for cveID.
func (r *Registry) Subscribe(sid, cveID string) SubscribeResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return SubscribeResult{}
	}
	s.SubscribedCVEs[cveID] = struct{}{}

	if r.cveSubscribers[cveID] == nil {
		r.cveSubscribers[cveID] = make(map[string]struct{})
	}
	if s.Username != "" {
		r.cveSubscribers[cveID][s.Username] = struct{}{}

		if r.userSubscriptions[s.Username] == nil {
			r.userSubscriptions[s.Username] = make(map[string]struct{})
		}
		r.userSubscriptions[s.Username][cveID] = struct{}{}
	}

	return r.subscribersLocked(cveID)
}

// Unsubscribe releases (sid, cveID). If no other session belonging to the
// same user still holds the subscription, the user's entry in
// cve_subscribers[cveID] is removed — resolving the Open Question on
// orphan-session cleanup in favor of per-user (not per-session) scope.
func (r *Registry) Unsubscribe(sid, cveID string) SubscribeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(sid, cveID)
	return r.subscribersLocked(cveID)
}

func (r *Registry) unsubscribeLocked(sid, cveID string) {
	s, ok := r.sessions[sid]
	if !ok {
		return
	}
	delete(s.SubscribedCVEs, cveID)

	if s.Username == "" {
		return
	}

	stillHeld := false
	for otherSID := range r.userSessions[s.Username] {
		if otherSID == sid {
			continue
		}
		if other, ok := r.sessions[otherSID]; ok {
			if _, subscribed := other.SubscribedCVEs[cveID]; subscribed {
				stillHeld = true
				break
			}
		}
	}

	if !stillHeld {
		if set := r.cveSubscribers[cveID]; set != nil {
			delete(set, s.Username)
			if len(set) == 0 {
				delete(r.cveSubscribers, cveID)
			}
		}
		if set := r.userSubscriptions[s.Username]; set != nil {
			delete(set, cveID)
			if len(set) == 0 {
				delete(r.userSubscriptions, s.Username)
			}
		}
	}
}

func (r *Registry) subscribersLocked(cveID string) SubscribeResult {
	set := r.cveSubscribers[cveID]
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return SubscribeResult{SubscriberCount: len(out), Subscribers: out}
}

// SubscribersOf returns the current subscriber usernames for cveID.
func (r *Registry) SubscribersOf(cveID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribersLocked(cveID).Subscribers
}

// SIDsForUser returns every physical connection id for username.
func (r *Registry) SIDsForUser(username string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.userSessions[username]
	out := make([]string, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	return out
}

// AllSIDs returns every currently registered connection id.
func (r *Registry) AllSIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for sid := range r.sessions {
		out = append(out, sid)
	}
	return out
}

// Stats is a point-in-time snapshot used by diagnostics and tests.
type Stats struct {
	Connections      int
	AuthenticatedUsers int
	Subscriptions    int
}

// Stats returns a snapshot of registry size.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Connections:        len(r.sessions),
		AuthenticatedUsers: len(r.userSessions),
		Subscriptions:      len(r.cveSubscribers),
	}
}

// NewSessionID returns an opaque client session identifier; exposed here
// so handshake code doesn't need to import clock directly.
func NewSessionID() string { return clock.NewID() }
