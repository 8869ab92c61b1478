package server

import "sync"

// Conn is a live connection as seen by the coordinator.
type Conn interface {
	ID() string
	// UserId returns the authenticated user behind the connection, or 0
	// for anonymous connections.
	UserId() int
	// Send queues msg for delivery. It never blocks and reports whether
	// the message was queued.
	Send(msg *ServerMessage) bool
	Close()
}

// connRegistry is the raw table of open connections, keyed by id.
type connRegistry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[string]Conn)}
}

func (r *connRegistry) add(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.ID()] = c
}

func (r *connRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *connRegistry) get(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

func (r *connRegistry) all() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *connRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
