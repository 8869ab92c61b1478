package server

import "sync"

// Presence maps a user to the connection that most recently registered
// for it. A user has at most one entry; registering again replaces it.
type Presence struct {
	mu     sync.RWMutex
	byUser map[int]string
	byConn map[string]int
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[int]string),
		byConn: make(map[string]int),
	}
}

func (p *Presence) Register(userId int, connId string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.byUser[userId]; ok && prev != connId {
		delete(p.byConn, prev)
	}
	if prevUser, ok := p.byConn[connId]; ok && prevUser != userId {
		if p.byUser[prevUser] == connId {
			delete(p.byUser, prevUser)
		}
	}

	p.byUser[userId] = connId
	p.byConn[connId] = userId
}

// Unregister drops the entry owned by connId and returns the user it
// belonged to. A connection that was superseded owns nothing.
func (p *Presence) Unregister(connId string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userId, ok := p.byConn[connId]
	if !ok {
		return 0, false
	}
	delete(p.byConn, connId)
	if p.byUser[userId] == connId {
		delete(p.byUser, userId)
	}
	return userId, true
}

func (p *Presence) Lookup(userId int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	connId, ok := p.byUser[userId]
	return connId, ok
}
