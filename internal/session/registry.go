package session

import (
	"strings"
	"sync"
)

// ConnID identifies one transport connection for its whole lifetime.
type ConnID string

// Session is the registered identity bound to a connection.
type Session struct {
	ConnectionID ConnID `json:"connectionId"`
	UserName     string `json:"userName"`
	Registered   bool   `json:"registered"`
}

// Registry maps connection ids to registered sessions and keeps user names
// unique among them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[ConnID]Session
	byName   map[string]ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[ConnID]Session),
		byName:   make(map[string]ConnID),
	}
}

// Register binds userName to id. The uniqueness check and the insert happen
// under the same write lock, so two connections racing for one name cannot
// both win. A name collision is reported before a re-registration attempt.
func (r *Registry) Register(id ConnID, userName string) (Session, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return Session{}, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[userName]; taken {
		return Session{}, ErrDuplicateName
	}
	if _, ok := r.sessions[id]; ok {
		return Session{}, ErrAlreadyRegistered
	}

	s := Session{ConnectionID: id, UserName: userName, Registered: true}
	r.sessions[id] = s
	r.byName[userName] = id
	return s, nil
}

func (r *Registry) Lookup(id ConnID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session of id and frees its user name.
func (r *Registry) Remove(id ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	if owner, exists := r.byName[s.UserName]; exists && owner == id {
		delete(r.byName, s.UserName)
	}
	return s, true
}

// Snapshot returns a point-in-time copy of all registered sessions in no
// particular order.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// IDs returns the ids of all registered connections.
func (r *Registry) IDs() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
