package database

import (
	"context"

	"github.com/npezzotti/go-huddle/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) RoomExists(ctx context.Context, roomId string) (bool, error) {
	args := m.Called(roomId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) GetRoom(ctx context.Context, roomId string) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) DeleteRoom(ctx context.Context, roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockRepository) GetUserRooms(ctx context.Context, userId int) ([]Member, error) {
	args := m.Called(userId)
	return args.Get(0).([]Member), args.Error(1)
}
func (m *MockRepository) IsMember(ctx context.Context, roomId string, userId int) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) GetMember(ctx context.Context, roomId string, userId int) (Member, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) AddMember(ctx context.Context, params AddMemberParams) (Member, error) {
	args := m.Called(params)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) RemoveMember(ctx context.Context, roomId string, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockRepository) SetMemberAdmin(ctx context.Context, roomId string, userId int, isAdmin bool) error {
	args := m.Called(roomId, userId, isAdmin)
	return args.Error(0)
}
func (m *MockRepository) ListMembers(ctx context.Context, roomId string) ([]Member, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Member), args.Error(1)
}
func (m *MockRepository) CreateInvitation(ctx context.Context, params CreateInvitationParams) (Invitation, error) {
	args := m.Called(params)
	return args.Get(0).(Invitation), args.Error(1)
}
func (m *MockRepository) GetInvitation(ctx context.Context, id int) (Invitation, error) {
	args := m.Called(id)
	return args.Get(0).(Invitation), args.Error(1)
}
func (m *MockRepository) GetPendingInvitation(ctx context.Context, roomId string, userId int) (Invitation, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Invitation), args.Error(1)
}
func (m *MockRepository) SetInvitationStatus(ctx context.Context, id int, status types.InvitationStatus) error {
	args := m.Called(id, status)
	return args.Error(0)
}
func (m *MockRepository) AcceptInvitation(ctx context.Context, id int) (Invitation, error) {
	args := m.Called(id)
	return args.Get(0).(Invitation), args.Error(1)
}
func (m *MockRepository) ListInvitations(ctx context.Context, userId int) ([]Invitation, error) {
	args := m.Called(userId)
	return args.Get(0).([]Invitation), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockRepository) IncrementMessageCount(ctx context.Context, roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockRepository) StartSession(ctx context.Context, roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockRepository) EndSession(ctx context.Context, roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
