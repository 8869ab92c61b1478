package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
)

// Events consumed from connections.
const (
	EventJoinRoom            = "join-room"
	EventCreatePermanentRoom = "create-permanent-room"
	EventLeaveRoom           = "leave-room"
	EventDeletePermanentRoom = "delete-permanent-room"
	EventKickUser            = "kick-user"
	EventPromoteUser         = "promote-user"
	EventDemoteUser          = "demote-user"
	EventSendInvitation      = "send-room-invitation"
	EventAcceptInvitation    = "accept-room-invitation"
	EventDeclineInvitation   = "decline-room-invitation"
	EventCancelInvitation    = "cancel-room-invitation"
	EventListInvitations     = "list-room-invitations"
	EventListUserRooms       = "list-user-rooms"
	EventRegisterUser        = "register-user"
	EventOffer               = "offer"
	EventAnswer              = "answer"
	EventIceCandidate        = "ice-candidate"
	EventSendMessage         = "send-message"
	EventStartScreenShare    = "start-screen-share"
	EventStopScreenShare     = "stop-screen-share"
)

// Events produced for connections.
const (
	EventJoinError            = "join-error"
	EventRoomFull             = "room-full"
	EventAllUsers             = "all-users"
	EventUserJoined           = "user-joined"
	EventUserLeft             = "user-left"
	EventLeftRoom             = "left-room"
	EventUserKicked           = "user-kicked"
	EventUserPromoted         = "user-promoted"
	EventUserDemoted          = "user-demoted"
	EventKickedFromRoom       = "kicked-from-room"
	EventPromotedToAdmin      = "promoted-to-admin"
	EventDemotedFromAdmin     = "demoted-from-admin"
	EventRoomDeleted          = "room-deleted"
	EventPermanentRoomCreated = "permanent-room-created"
	EventInvitationSent       = "room-invitation-sent"
	EventInvitationReceived   = "room-invitation-received"
	EventInvitationAccepted   = "room-invitation-accepted"
	EventInvitationDeclined   = "room-invitation-declined"
	EventInvitationCancelled  = "room-invitation-cancelled"
	EventInvitations          = "room-invitations"
	EventUserRooms            = "user-rooms"
	EventUserRegistered       = "user-registered"
	EventChatMessage          = "chat-message"
	EventScreenShareStarted   = "screen-share-started"
	EventScreenShareStopped   = "screen-share-stopped"
	EventError                = "error"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type JoinRoom struct {
	RoomId   string `json:"roomId"`
	Password string `json:"password,omitempty"`
	Username string `json:"username"`
	UserId   int    `json:"userId,omitempty"`
}

type CreatePermanentRoom struct {
	RoomId   string `json:"roomId"`
	UserId   int    `json:"userId"`
	Username string `json:"username"`
}

type LeaveRoom struct {
	RoomId string `json:"roomId"`
	UserId int    `json:"userId,omitempty"`
}

type DeletePermanentRoom struct {
	RoomId string `json:"roomId"`
	UserId int    `json:"userId"`
}

type RoleChange struct {
	TargetConnectionId string `json:"targetConnectionId"`
	RoomId             string `json:"roomId"`
}

type SendInvitation struct {
	RoomId        string     `json:"roomId"`
	InvitedUserId int        `json:"invitedUserId"`
	InvitedBy     int        `json:"invitedBy"`
	Message       string     `json:"message,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type InvitationReply struct {
	InvitationId int `json:"invitationId"`
	UserId       int `json:"userId"`
}

type CancelInvitation struct {
	InvitationId int    `json:"invitationId"`
	CancelledBy  int    `json:"cancelledBy"`
	RoomId       string `json:"roomId"`
}

type RegisterUser struct {
	UserId int `json:"userId"`
}

type RoomRef struct {
	RoomId string `json:"roomId"`
}

type ChatMessage struct {
	RoomId  string `json:"roomId"`
	Content string `json:"content"`
}

type signalTarget struct {
	Target string `json:"target"`
}

type InvitationList struct {
	Invitations []types.Invitation `json:"invitations"`
}

type RoomList struct {
	Rooms []types.Room `json:"rooms"`
}

type ErrorData struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// AllUsers is the roster snapshot delivered to a newly admitted
// connection. Users excludes the recipient, who is described by Self.
type AllUsers struct {
	Room       types.Room          `json:"room"`
	Self       types.Participant   `json:"self"`
	Users      []types.Participant `json:"users"`
	Presenters []string            `json:"presenters"`
}

type ParticipantEvent struct {
	RoomId string `json:"roomId"`
	types.Participant
}

type RoleEvent struct {
	RoomId       string `json:"roomId"`
	ConnectionId string `json:"connectionId"`
	UserId       int    `json:"userId,omitempty"`
	Username     string `json:"username"`
	By           string `json:"by"`
}

type ScreenShareEvent struct {
	RoomId       string `json:"roomId"`
	ConnectionId string `json:"connectionId"`
	Username     string `json:"username"`
}

func newEvent(event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

func replyEvent(id int, event string, data any) *ServerMessage {
	msg := newEvent(event, data)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func errorEvent(id int, event string, err *RoomError) *ServerMessage {
	return replyEvent(id, event, ErrorData{Message: err.Message, Reason: err.Reason})
}

func ErrInvalidMessage(id int) *ServerMessage {
	return errorEvent(id, EventError, validationError("invalid message format"))
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
