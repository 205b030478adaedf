package registry

import (
	"sync"
	"time"

	"github.com/signbridge/signaling-server/pkg/protocol"
)

type Session struct {
	SessionID   protocol.SessionID
	UserID      protocol.UserID
	ConnectedAt time.Time
}

// Registry maps live socket sessions onto authenticated users and supports
// the inverse fan-out lookup for multi-device delivery. Purely in-process:
// it starts empty on every boot and clients re-register by reconnecting.
type Registry struct {
	mu       sync.RWMutex
	sessions map[protocol.SessionID]Session
	byUser   map[protocol.UserID]map[protocol.SessionID]struct{}
}

func New() *Registry {
	return &Registry{
		sessions: make(map[protocol.SessionID]Session),
		byUser:   make(map[protocol.UserID]map[protocol.SessionID]struct{}),
	}
}

// Register is idempotent; re-registering an existing session keeps its
// original ConnectedAt.
func (r *Registry) Register(userID protocol.UserID, sessionID protocol.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exist := r.sessions[sessionID]; exist {
		return
	}
	r.sessions[sessionID] = Session{
		SessionID:   sessionID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
	}
	set, exist := r.byUser[userID]
	if !exist {
		set = make(map[protocol.SessionID]struct{})
		r.byUser[userID] = set
	}
	set[sessionID] = struct{}{}
}

// Unregister removes the session and returns its owner. Unknown sessions
// return "" without error: a disconnect can race registration and must
// no-op safely.
func (r *Registry) Unregister(sessionID protocol.SessionID) protocol.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exist := r.sessions[sessionID]
	if !exist {
		return ""
	}
	delete(r.sessions, sessionID)

	if set, exist := r.byUser[session.UserID]; exist {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byUser, session.UserID)
		}
	}
	return session.UserID
}

// SessionsForUser returns every live session of the user, empty for unknown
// users.
func (r *Registry) SessionsForUser(userID protocol.UserID) []protocol.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	result := make([]protocol.SessionID, 0, len(set))
	for sessionID := range set {
		result = append(result, sessionID)
	}
	return result
}

// UserOf resolves the owner of a session, "" when unknown.
func (r *Registry) UserOf(sessionID protocol.SessionID) protocol.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessions[sessionID].UserID
}
