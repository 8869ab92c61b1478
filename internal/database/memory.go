package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
)

type memberKey struct {
	roomId string
	userId int
}

// MemoryRepository is a Repository held entirely in process memory. It is
// used when no database is configured and in tests.
type MemoryRepository struct {
	mu          sync.Mutex
	nextId      int
	rooms       map[string]Room
	members     map[memberKey]Member
	invitations map[int]Invitation
	messages    []Message
	sessions    map[string]int
	now         func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rooms:       make(map[string]Room),
		members:     make(map[memberKey]Member),
		invitations: make(map[int]Invitation),
		sessions:    make(map[string]int),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) id() int {
	m.nextId++
	return m.nextId
}

func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) RoomExists(ctx context.Context, roomId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.rooms[roomId]
	return ok, nil
}

func (m *MemoryRepository) GetRoom(ctx context.Context, roomId string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return Room{}, ErrNotFound
	}
	return room, nil
}

func (m *MemoryRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.rooms[params.RoomId]; ok {
		if existing.IsPermanent {
			return Room{}, fmt.Errorf("room %q: %w", params.RoomId, ErrConflict)
		}
		m.deleteRoomLocked(params.RoomId)
	}

	now := m.now()
	room := Room{
		Id:          m.id(),
		RoomId:      params.RoomId,
		IsPermanent: params.IsPermanent,
		CreatedBy:   params.CreatedBy,
		CreatedAt:   now,
	}
	m.rooms[room.RoomId] = room

	if params.IsPermanent && params.CreatedBy != 0 {
		m.members[memberKey{room.RoomId, params.CreatedBy}] = Member{
			RoomId:   room.RoomId,
			UserId:   params.CreatedBy,
			IsAdmin:  true,
			AddedBy:  params.CreatedBy,
			JoinedAt: now,
		}
	}

	return room, nil
}

func (m *MemoryRepository) DeleteRoom(ctx context.Context, roomId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomId]; !ok {
		return ErrNotFound
	}
	m.deleteRoomLocked(roomId)
	return nil
}

func (m *MemoryRepository) deleteRoomLocked(roomId string) {
	delete(m.rooms, roomId)
	delete(m.sessions, roomId)
	for k := range m.members {
		if k.roomId == roomId {
			delete(m.members, k)
		}
	}
	for id, inv := range m.invitations {
		if inv.RoomId == roomId {
			delete(m.invitations, id)
		}
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.RoomId != roomId {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
}

func (m *MemoryRepository) GetUserRooms(ctx context.Context, userId int) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Member, 0)
	for k, member := range m.members {
		if k.userId != userId {
			continue
		}
		member.Room = m.rooms[k.roomId]
		out = append(out, member)
	}
	sortMembers(out)
	return out, nil
}

func (m *MemoryRepository) IsMember(ctx context.Context, roomId string, userId int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.members[memberKey{roomId, userId}]
	return ok, nil
}

func (m *MemoryRepository) GetMember(ctx context.Context, roomId string, userId int) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[memberKey{roomId, userId}]
	if !ok {
		return Member{}, ErrNotFound
	}
	return member, nil
}

func (m *MemoryRepository) AddMember(ctx context.Context, params AddMemberParams) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[params.RoomId]; !ok {
		return Member{}, ErrNotFound
	}

	key := memberKey{params.RoomId, params.UserId}
	if _, ok := m.members[key]; ok {
		return Member{}, fmt.Errorf("member %d of %q: %w", params.UserId, params.RoomId, ErrConflict)
	}

	member := Member{
		RoomId:   params.RoomId,
		UserId:   params.UserId,
		IsAdmin:  params.IsAdmin,
		AddedBy:  params.AddedBy,
		JoinedAt: m.now(),
	}
	m.members[key] = member
	return member, nil
}

func (m *MemoryRepository) RemoveMember(ctx context.Context, roomId string, userId int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.members, memberKey{roomId, userId})
	return nil
}

func (m *MemoryRepository) SetMemberAdmin(ctx context.Context, roomId string, userId int, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memberKey{roomId, userId}
	member, ok := m.members[key]
	if !ok {
		return ErrNotFound
	}
	member.IsAdmin = isAdmin
	m.members[key] = member
	return nil
}

func (m *MemoryRepository) ListMembers(ctx context.Context, roomId string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Member, 0)
	for k, member := range m.members {
		if k.roomId == roomId {
			out = append(out, member)
		}
	}
	sortMembers(out)
	return out, nil
}

func sortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserId < members[j].UserId
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
}

func (m *MemoryRepository) CreateInvitation(ctx context.Context, params CreateInvitationParams) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[params.RoomId]; !ok {
		return Invitation{}, ErrNotFound
	}

	now := m.now()
	inv := Invitation{
		Id:            m.id(),
		RoomId:        params.RoomId,
		InvitedUserId: params.InvitedUserId,
		InvitedBy:     params.InvitedBy,
		Message:       params.Message,
		Status:        types.InvitationPending,
		CreatedAt:     now,
		ExpiresAt:     params.ExpiresAt.UTC(),
		UpdatedAt:     now,
	}
	m.invitations[inv.Id] = inv
	return inv, nil
}

func (m *MemoryRepository) GetInvitation(ctx context.Context, id int) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invitations[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (m *MemoryRepository) GetPendingInvitation(ctx context.Context, roomId string, userId int) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found Invitation
		ok    bool
	)
	for _, inv := range m.invitations {
		if inv.RoomId != roomId || inv.InvitedUserId != userId || inv.Status != types.InvitationPending {
			continue
		}
		if !ok || inv.Id > found.Id {
			found, ok = inv, true
		}
	}
	if !ok {
		return Invitation{}, ErrNotFound
	}
	return found, nil
}

func (m *MemoryRepository) SetInvitationStatus(ctx context.Context, id int, status types.InvitationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invitations[id]
	if !ok || inv.Status != types.InvitationPending {
		return ErrNotFound
	}
	inv.Status = status
	inv.UpdatedAt = m.now()
	m.invitations[id] = inv
	return nil
}

func (m *MemoryRepository) AcceptInvitation(ctx context.Context, id int) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invitations[id]
	if !ok || inv.Status != types.InvitationPending {
		return Invitation{}, ErrNotFound
	}
	if _, ok := m.rooms[inv.RoomId]; !ok {
		return Invitation{}, ErrNotFound
	}

	now := m.now()
	inv.Status = types.InvitationAccepted
	inv.UpdatedAt = now
	m.invitations[id] = inv

	key := memberKey{inv.RoomId, inv.InvitedUserId}
	if _, ok := m.members[key]; !ok {
		m.members[key] = Member{
			RoomId:   inv.RoomId,
			UserId:   inv.InvitedUserId,
			AddedBy:  inv.InvitedBy,
			JoinedAt: now,
		}
	}
	return inv, nil
}

func (m *MemoryRepository) ListInvitations(ctx context.Context, userId int) ([]Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Invitation, 0)
	for _, inv := range m.invitations {
		if inv.InvitedUserId == userId && inv.Status == types.InvitationPending {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id > out[j].Id })
	return out, nil
}

func (m *MemoryRepository) CreateMessage(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[msg.RoomId]; !ok {
		return ErrNotFound
	}
	msg.Id = m.id()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryRepository) IncrementMessageCount(ctx context.Context, roomId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	room.MessageCount++
	m.rooms[roomId] = room
	return nil
}

func (m *MemoryRepository) StartSession(ctx context.Context, roomId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomId]; !ok {
		return ErrNotFound
	}
	m.sessions[roomId]++
	return nil
}

func (m *MemoryRepository) EndSession(ctx context.Context, roomId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[roomId] > 0 {
		m.sessions[roomId]--
	}
	return nil
}

// OpenSessions reports how many sessions for roomId were started and not
// yet ended.
func (m *MemoryRepository) OpenSessions(roomId string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sessions[roomId]
}

// Messages returns the stored messages of roomId in insertion order.
func (m *MemoryRepository) Messages(roomId string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.RoomId == roomId {
			out = append(out, msg)
		}
	}
	return out
}
