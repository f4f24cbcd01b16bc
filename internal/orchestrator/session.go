package orchestrator

import (
	"sync"
	"time"
)

// defaultSessionTTL is how long an idle session survives before
// eviction.
const defaultSessionTTL = 30 * time.Minute

// Session is the explicit session-scoped context carried through the
// pipeline. Created on the first turn of a session, evicted after
// inactivity.
type Session struct {
	SubjectID string
	SessionID string
	CreatedAt time.Time
	LastSeen  time.Time
	TurnCount int
}

// SessionRegistry tracks live sessions keyed by subject and session ID.
// Safe for concurrent use.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionRegistry creates a registry. ttl <= 0 uses the default.
func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Touch returns the session for the pair, creating it on first use, and
// refreshes its activity clock. Stale sessions are swept opportunistically.
func (r *SessionRegistry) Touch(subjectID, sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	key := subjectID + "/" + sessionID
	session, ok := r.sessions[key]
	if !ok {
		session = &Session{
			SubjectID: subjectID,
			SessionID: sessionID,
			CreatedAt: now,
		}
		r.sessions[key] = session
	}
	session.LastSeen = now
	session.TurnCount++
	return session
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) sweepLocked(now time.Time) {
	for key, session := range r.sessions {
		if now.Sub(session.LastSeen) > r.ttl {
			delete(r.sessions, key)
		}
	}
}
