package server

import (
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
)

type RoomKind int

const (
	// Temporary rooms are password gated and live only while occupied.
	Temporary RoomKind = iota
	// Permanent rooms are membership gated and survive being emptied.
	Permanent
)

func (k RoomKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "temporary"
}

// Participant is a live occupant of a room, bound to one connection.
type Participant struct {
	conn     Conn
	UserId   int
	Username string
	IsAdmin  bool
	JoinedAt time.Time
	seq      int
}

func (p *Participant) ConnectionId() string {
	return p.conn.ID()
}

func (p *Participant) view() types.Participant {
	return types.Participant{
		ConnectionId: p.conn.ID(),
		UserId:       p.UserId,
		Username:     p.Username,
		IsAdmin:      p.IsAdmin,
		JoinedAt:     p.JoinedAt,
	}
}

// Room is the live state of a room. Its fields are only read or written
// by the job currently executing on the room's actor.
type Room struct {
	Id        string
	Kind      RoomKind
	IsActive  bool
	CreatedBy int
	CreatedAt time.Time

	// credential is the password hash of a temporary room.
	credential   string
	admins       map[int]struct{}
	participants map[string]*Participant
	presenters   map[string]struct{}
	sessionOpen  bool
	nextSeq      int
}

func newRoom(id string, kind RoomKind, credential string, createdBy int, createdAt time.Time) *Room {
	r := &Room{
		Id:           id,
		Kind:         kind,
		CreatedBy:    createdBy,
		CreatedAt:    createdAt,
		credential:   credential,
		admins:       make(map[int]struct{}),
		participants: make(map[string]*Participant),
		presenters:   make(map[string]struct{}),
	}
	if createdBy != 0 {
		r.admins[createdBy] = struct{}{}
	}
	return r
}

func (r *Room) isAdmin(userId int) bool {
	if userId == 0 {
		return false
	}
	_, ok := r.admins[userId]
	return ok
}

// setAdmin updates the admin set and every live participant of userId so
// that IsAdmin always mirrors membership in the admin set.
func (r *Room) setAdmin(userId int, admin bool) {
	if userId == 0 {
		return
	}
	if admin {
		r.admins[userId] = struct{}{}
	} else {
		delete(r.admins, userId)
	}
	for _, p := range r.participants {
		if p.UserId == userId {
			p.IsAdmin = admin
		}
	}
}

func (r *Room) participant(connId string) (*Participant, bool) {
	p, ok := r.participants[connId]
	return p, ok
}

func (r *Room) size() int {
	return len(r.participants)
}

// roster returns the participants in admission order.
func (r *Room) roster() []*Participant {
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Room) presenterList() []string {
	out := make([]string, 0, len(r.presenters))
	for name := range r.presenters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Room) view(viewer int) types.Room {
	return types.Room{
		RoomId:       r.Id,
		IsPermanent:  r.Kind == Permanent,
		IsInviteOnly: r.Kind == Permanent,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		IsAdmin:      r.isAdmin(viewer),
	}
}

// snapshot builds the roster delivered to a newly admitted participant.
func (r *Room) snapshot(self *Participant) AllUsers {
	users := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.roster() {
		if p == self {
			continue
		}
		users = append(users, p.view())
	}
	return AllUsers{
		Room:       r.view(self.UserId),
		Self:       self.view(),
		Users:      users,
		Presenters: r.presenterList(),
	}
}

// broadcast delivers msg to every participant except skip.
func (r *Room) broadcast(msg *ServerMessage, skip string) {
	for id, p := range r.participants {
		if id == skip {
			continue
		}
		p.conn.Send(msg)
	}
}

// Registry is the table of live rooms. It also indexes which room each
// seated connection occupies.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		byConn: make(map[string]string),
	}
}

func (reg *Registry) Get(roomId string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomId]
	return r, ok
}

func (reg *Registry) Create(room *Room) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[room.Id]; ok {
		return ErrRoomExists
	}
	reg.rooms[room.Id] = room
	return nil
}

func (reg *Registry) Delete(roomId string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomId]
	if !ok {
		return
	}
	for connId := range room.participants {
		if reg.byConn[connId] == roomId {
			delete(reg.byConn, connId)
		}
	}
	delete(reg.rooms, roomId)
}

// ForEach calls fn for every live room. fn must not read room state
// unless no room jobs can be running.
func (reg *Registry) ForEach(fn func(*Room)) {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	for _, r := range rooms {
		fn(r)
	}
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.rooms)
}

// RoomOf returns the room the connection is seated in.
func (reg *Registry) RoomOf(connId string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	roomId, ok := reg.byConn[connId]
	return roomId, ok
}

func (reg *Registry) AddParticipant(room *Room, p *Participant) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room.nextSeq++
	p.seq = room.nextSeq
	room.participants[p.ConnectionId()] = p
	reg.byConn[p.ConnectionId()] = room.Id
}

func (reg *Registry) RemoveParticipant(room *Room, connId string) (*Participant, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	p, ok := room.participants[connId]
	if !ok {
		return nil, false
	}
	delete(room.participants, connId)
	if reg.byConn[connId] == room.Id {
		delete(reg.byConn, connId)
	}
	return p, true
}
