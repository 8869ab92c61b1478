package types

import (
	"errors"
	"time"
)

type Room struct {
	RoomId       string    `json:"roomId"`
	IsPermanent  bool      `json:"isPermanent"`
	IsInviteOnly bool      `json:"isInviteOnly"`
	CreatedBy    int       `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	IsAdmin      bool      `json:"isAdmin,omitempty"`
}

type Participant struct {
	ConnectionId string    `json:"connectionId"`
	UserId       int       `json:"userId,omitempty"`
	Username     string    `json:"username"`
	IsAdmin      bool      `json:"isAdmin"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type Invitation struct {
	Id            int              `json:"id"`
	RoomId        string           `json:"roomId"`
	InvitedUserId int              `json:"invitedUserId"`
	InvitedBy     int              `json:"invitedBy"`
	Message       string           `json:"message,omitempty"`
	Status        InvitationStatus `json:"status"`
	CreatedAt     time.Time        `json:"createdAt"`
	ExpiresAt     time.Time        `json:"expiresAt"`
}

type Message struct {
	RoomId       string    `json:"roomId"`
	ConnectionId string    `json:"connectionId"`
	UserId       int       `json:"userId,omitempty"`
	Username     string    `json:"username"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
}

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationExpired   InvitationStatus = "expired"
)

var ErrInvalidTransition = errors.New("invalid invitation status transition")

// Terminal reports whether no further transitions are permitted.
func (s InvitationStatus) Terminal() bool {
	switch s {
	case InvitationAccepted, InvitationDeclined, InvitationCancelled, InvitationExpired:
		return true
	}
	return false
}

func (s InvitationStatus) Valid() bool {
	return s == InvitationPending || s.Terminal()
}

// Transition returns the status after moving from s to next. Only
// pending invitations may move, and only into a terminal status.
func (s InvitationStatus) Transition(next InvitationStatus) (InvitationStatus, error) {
	if s != InvitationPending || !next.Terminal() {
		return s, ErrInvalidTransition
	}
	return next, nil
}

// Effective returns the status of an invitation as observed at now.
// Expiry is evaluated lazily: a pending invitation past its deadline
// reads as expired.
func (i Invitation) Effective(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}
