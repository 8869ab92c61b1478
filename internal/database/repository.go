package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-huddle/internal/types"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type RoomStore interface {
	RoomExists(ctx context.Context, roomId string) (bool, error)
	GetRoom(ctx context.Context, roomId string) (Room, error)
	// CreateRoom inserts a room record. A stale temporary record with the
	// same id is replaced; an existing permanent record yields ErrConflict.
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	DeleteRoom(ctx context.Context, roomId string) error
	GetUserRooms(ctx context.Context, userId int) ([]Member, error)
}

type MembershipStore interface {
	IsMember(ctx context.Context, roomId string, userId int) (bool, error)
	GetMember(ctx context.Context, roomId string, userId int) (Member, error)
	AddMember(ctx context.Context, params AddMemberParams) (Member, error)
	RemoveMember(ctx context.Context, roomId string, userId int) error
	SetMemberAdmin(ctx context.Context, roomId string, userId int, isAdmin bool) error
	ListMembers(ctx context.Context, roomId string) ([]Member, error)
}

type InvitationStore interface {
	CreateInvitation(ctx context.Context, params CreateInvitationParams) (Invitation, error)
	GetInvitation(ctx context.Context, id int) (Invitation, error)
	GetPendingInvitation(ctx context.Context, roomId string, userId int) (Invitation, error)
	SetInvitationStatus(ctx context.Context, id int, status types.InvitationStatus) error
	// AcceptInvitation marks a pending invitation accepted and adds the
	// invitee as a member in one step. A non-pending invitation yields
	// ErrNotFound and no membership is written. An existing membership is
	// left as is.
	AcceptInvitation(ctx context.Context, id int) (Invitation, error)
	// ListInvitations returns the invitations addressed to userId that
	// are stored as pending. Expiry is not evaluated here.
	ListInvitations(ctx context.Context, userId int) ([]Invitation, error)
}

type ChatStore interface {
	CreateMessage(ctx context.Context, msg Message) error
	IncrementMessageCount(ctx context.Context, roomId string) error
	StartSession(ctx context.Context, roomId string) error
	EndSession(ctx context.Context, roomId string) error
}

type Repository interface {
	Ping(ctx context.Context) error
	Close() error
	RoomStore
	MembershipStore
	InvitationStore
	ChatStore
}
