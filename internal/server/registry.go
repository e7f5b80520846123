package server

import (
	"sync"

	"github.com/ktauchathuranga/notebud-sub000/internal/chat"
	"github.com/ktauchathuranga/notebud-sub000/internal/metrics"
)

// Registry tracks live connections and the user id to session bindings
// the dispatcher routes through. It implements chat.Peers.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Conn
	users map[string]chat.Session
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uint64]*Conn),
		users: make(map[string]chat.Session),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	_, ok := r.conns[c.id]
	delete(r.conns, c.id)
	r.mu.Unlock()
	if ok {
		metrics.ConnectionsActive.Dec()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) BoundUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Bind points userID at s. A previous binding for the same user is
// replaced silently; the old connection stays open but no longer
// receives routed messages.
func (r *Registry) Bind(userID string, s chat.Session) {
	r.mu.Lock()
	_, rebind := r.users[userID]
	r.users[userID] = s
	r.mu.Unlock()
	if !rebind {
		metrics.UsersOnline.Inc()
	}
}

// Unbind removes the binding only if s still owns it.
func (r *Registry) Unbind(userID string, s chat.Session) {
	r.mu.Lock()
	current, ok := r.users[userID]
	if ok && current == s {
		delete(r.users, userID)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		metrics.UsersOnline.Dec()
	}
}

func (r *Registry) Lookup(userID string) (chat.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.users[userID]
	return s, ok
}

// Snapshot returns the live connections for shutdown fan-out.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
