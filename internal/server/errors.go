package server

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindPermission
	KindConflict
	KindCapacity
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindCapacity:
		return "capacity"
	case KindPersistence:
		return "persistence"
	}
	return "unknown"
}

// RoomError is a typed rejection delivered to the connection that
// initiated an operation. Reason is a stable code, Message is shown to
// users.
type RoomError struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Err     error
}

func (e *RoomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *RoomError) Unwrap() error {
	return e.Err
}

// Is matches on Reason so wrapped copies compare equal to the sentinels.
func (e *RoomError) Is(target error) bool {
	t, ok := target.(*RoomError)
	return ok && t.Reason == e.Reason
}

func newError(kind ErrorKind, reason, message string) *RoomError {
	return &RoomError{Kind: kind, Reason: reason, Message: message}
}

var (
	ErrRoomNotFound            = newError(KindNotFound, "room_not_found", "Room not found.")
	ErrRoomExists              = newError(KindConflict, "room_exists", "Room already exists.")
	ErrNotPermanentRoom        = newError(KindValidation, "not_permanent", "Room is not a permanent room.")
	ErrNotInvited              = newError(KindPermission, "not_invited", "You are not a member of this room.")
	ErrInvalidPassword         = newError(KindPermission, "invalid_password", "Invalid room password.")
	ErrPasswordRequired        = newError(KindValidation, "password_required", "A password is required to create a room.")
	ErrRoomFull                = newError(KindCapacity, "room_full", "Room is full.")
	ErrAlreadyInRoom           = newError(KindValidation, "already_in_room", "Already in a room.")
	ErrNotInRoom               = newError(KindPermission, "not_in_room", "You are not in this room.")
	ErrAuthenticationRequired  = newError(KindPermission, "authentication_required", "Authentication required")
	ErrUserMismatch            = newError(KindPermission, "user_mismatch", "User does not match the authenticated user")
	ErrInsufficientPermissions = newError(KindPermission, "insufficient_permissions", "Insufficient permissions")
	ErrParticipantNotFound     = newError(KindNotFound, "participant_not_found", "User not found in room")
	ErrCannotKickAdmin         = newError(KindPermission, "cannot_kick_admin", "Cannot kick an admin")
	ErrAlreadyAdmin            = newError(KindConflict, "already_admin", "User is already an admin")
	ErrNotAdmin                = newError(KindConflict, "not_admin", "User is not an admin")
	ErrCannotDemoteCreator     = newError(KindPermission, "cannot_demote_creator", "Cannot demote the room creator")
	ErrCannotLeaveOwnRoom      = newError(KindPermission, "cannot_leave_own_room", "The room creator cannot leave the room")
	ErrAnonymousParticipant    = newError(KindValidation, "anonymous_participant", "Anonymous participants cannot be promoted")
	ErrUnauthorized            = newError(KindPermission, "unauthorized", "Only the room creator or an admin can do this")
	ErrNotCreator              = newError(KindPermission, "not_creator", "Only the room creator can do this")
	ErrAlreadyMember           = newError(KindConflict, "already_member", "User is already a member of this room")
	ErrDuplicateInvitation     = newError(KindConflict, "duplicate_invitation", "A pending invitation already exists for this user")
	ErrInvitationNotFound      = newError(KindNotFound, "invitation_not_found", "Invitation not found")
	ErrForbidden               = newError(KindPermission, "forbidden", "This invitation is not addressed to you")
	ErrAlreadyProcessed        = newError(KindConflict, "already_processed", "Invitation has already been processed")
	ErrInvitationExpired       = newError(KindConflict, "invitation_expired", "Invitation has expired")
	ErrTooManyRequests         = newError(KindCapacity, "rate_limited", "Too many requests")
	ErrShuttingDown            = newError(KindCapacity, "shutting_down", "Server is shutting down")
	ErrUnknownEvent            = newError(KindValidation, "unknown_event", "Unknown event")
)

func validationError(message string) *RoomError {
	return newError(KindValidation, "invalid_request", message)
}

func persistenceError(op string, err error) *RoomError {
	return &RoomError{
		Kind:    KindPersistence,
		Reason:  "persistence",
		Message: "Internal server error",
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

// asRoomError converts any error into a RoomError, treating unknown
// errors as persistence failures.
func asRoomError(err error) *RoomError {
	var re *RoomError
	if errors.As(err, &re) {
		return re
	}
	return persistenceError("unexpected", err)
}
