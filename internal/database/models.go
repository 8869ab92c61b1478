package database

import (
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
)

type Room struct {
	Id           int
	RoomId       string
	IsPermanent  bool
	CreatedBy    int
	MessageCount int
	CreatedAt    time.Time
}

// Member is the durable standing of a user in a permanent room. Room is
// only populated by queries that join the rooms table.
type Member struct {
	RoomId   string
	UserId   int
	IsAdmin  bool
	AddedBy  int
	JoinedAt time.Time
	Room     Room
}

type Invitation struct {
	Id            int
	RoomId        string
	InvitedUserId int
	InvitedBy     int
	Message       string
	Status        types.InvitationStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

type Message struct {
	Id        int
	RoomId    string
	UserId    int
	Username  string
	Content   string
	CreatedAt time.Time
}

type CreateRoomParams struct {
	RoomId      string
	IsPermanent bool
	// CreatedBy is added as an admin member when the room is permanent.
	CreatedBy int
}

type AddMemberParams struct {
	RoomId  string
	UserId  int
	IsAdmin bool
	AddedBy int
}

type CreateInvitationParams struct {
	RoomId        string
	InvitedUserId int
	InvitedBy     int
	Message       string
	ExpiresAt     time.Time
}

func (i Invitation) ToType() types.Invitation {
	return types.Invitation{
		Id:            i.Id,
		RoomId:        i.RoomId,
		InvitedUserId: i.InvitedUserId,
		InvitedBy:     i.InvitedBy,
		Message:       i.Message,
		Status:        i.Status,
		CreatedAt:     i.CreatedAt,
		ExpiresAt:     i.ExpiresAt,
	}
}
