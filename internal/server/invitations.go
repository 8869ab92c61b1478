package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/types"
)

const maxInvitationMessage = 500

// SendInvitation records a pending invitation to a permanent room and
// pushes it to the invitee when they are online.
func (s *Server) SendInvitation(ctx context.Context, c Conn, id int, req SendInvitation) (Outcome, error) {
	inviter, err := s.actingUser(c, req.InvitedBy)
	if err != nil {
		return Outcome{}, err
	}
	req.RoomId = strings.TrimSpace(req.RoomId)
	if req.RoomId == "" || req.InvitedUserId <= 0 {
		return Outcome{}, validationError("roomId and invitedUserId are required")
	}
	if len(req.Message) > maxInvitationMessage {
		return Outcome{}, validationError("invitation message is too long")
	}

	expiresAt := s.now().Add(s.opts.InvitationTTL)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(s.now()) {
			return Outcome{}, validationError("expiresAt must be in the future")
		}
		expiresAt = *req.ExpiresAt
	}

	var (
		out  Outcome
		jerr error
	)
	if err := s.actors.do(req.RoomId, func() {
		jerr = s.sendInvitation(ctx, c, id, inviter, req, expiresAt, &out)
	}); err != nil {
		return out, err
	}
	return out, jerr
}

func (s *Server) sendInvitation(ctx context.Context, c Conn, id, inviter int, req SendInvitation, expiresAt time.Time, out *Outcome) error {
	if err := s.requireManager(ctx, req.RoomId, inviter); err != nil {
		return err
	}

	member, err := s.db.IsMember(ctx, req.RoomId, req.InvitedUserId)
	if err != nil {
		return persistenceError("is_member", err)
	}
	if member {
		return ErrAlreadyMember
	}

	pending, err := s.db.GetPendingInvitation(ctx, req.RoomId, req.InvitedUserId)
	switch {
	case err == nil:
		if pending.ToType().Effective(s.now()) != types.InvitationExpired {
			return ErrDuplicateInvitation
		}
		out.add(s.expire(ctx, pending))
	case !errors.Is(err, database.ErrNotFound):
		return persistenceError("get_pending_invitation", err)
	}

	inv, err := s.db.CreateInvitation(ctx, database.CreateInvitationParams{
		RoomId:        req.RoomId,
		InvitedUserId: req.InvitedUserId,
		InvitedBy:     inviter,
		Message:       req.Message,
		ExpiresAt:     expiresAt,
	})
	if errors.Is(err, database.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return persistenceError("create_invitation", err)
	}

	view := inv.ToType()
	c.Send(replyEvent(id, EventInvitationSent, view))
	if !s.notifyUser(req.InvitedUserId, newEvent(EventInvitationReceived, view)) {
		s.log.Debug().Int("user", req.InvitedUserId).Int("invitation", inv.Id).Msg("invitee offline, delivery deferred")
	}
	return nil
}

// requireManager checks that userId is the creator or an admin member of
// the permanent room roomId.
func (s *Server) requireManager(ctx context.Context, roomId string, userId int) error {
	rec, err := s.db.GetRoom(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return persistenceError("get_room", err)
	}
	if !rec.IsPermanent {
		return ErrNotPermanentRoom
	}
	if rec.CreatedBy == userId {
		return nil
	}

	m, err := s.db.GetMember(ctx, roomId, userId)
	if errors.Is(err, database.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return persistenceError("get_member", err)
	}
	if !m.IsAdmin {
		return ErrUnauthorized
	}
	return nil
}

// expire marks a lapsed invitation as expired.
func (s *Server) expire(ctx context.Context, inv database.Invitation) MirrorResult {
	return s.mirror(ctx, "expire_invitation", inv.RoomId, func(ctx context.Context) error {
		err := s.db.SetInvitationStatus(ctx, inv.Id, types.InvitationExpired)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	})
}

func (s *Server) AcceptInvitation(ctx context.Context, c Conn, id int, req InvitationReply) (Outcome, error) {
	return s.replyInvitation(ctx, c, id, req, types.InvitationAccepted)
}

func (s *Server) DeclineInvitation(ctx context.Context, c Conn, id int, req InvitationReply) (Outcome, error) {
	return s.replyInvitation(ctx, c, id, req, types.InvitationDeclined)
}

func (s *Server) replyInvitation(ctx context.Context, c Conn, id int, req InvitationReply, next types.InvitationStatus) (Outcome, error) {
	userId, err := s.actingUser(c, req.UserId)
	if err != nil {
		return Outcome{}, err
	}
	if req.InvitationId <= 0 {
		return Outcome{}, validationError("invitationId is required")
	}

	roomId, err := s.invitationRoom(ctx, req.InvitationId)
	if err != nil {
		return Outcome{}, err
	}

	var (
		out  Outcome
		jerr error
	)
	if err := s.actors.do(roomId, func() {
		jerr = s.resolveInvitation(ctx, c, id, req.InvitationId, userId, next, &out)
	}); err != nil {
		return out, err
	}
	return out, jerr
}

func (s *Server) invitationRoom(ctx context.Context, invitationId int) (string, error) {
	inv, err := s.loadInvitation(ctx, invitationId)
	if err != nil {
		return "", err
	}
	return inv.RoomId, nil
}

// checkPending reports whether inv can still move. A lapsed invitation
// is marked expired on the way.
func (s *Server) checkPending(ctx context.Context, inv database.Invitation, out *Outcome) error {
	switch inv.ToType().Effective(s.now()) {
	case types.InvitationPending:
		return nil
	case types.InvitationExpired:
		if inv.Status == types.InvitationPending {
			out.add(s.expire(ctx, inv))
			return ErrInvitationExpired
		}
	}
	return ErrAlreadyProcessed
}

func (s *Server) loadInvitation(ctx context.Context, invitationId int) (database.Invitation, error) {
	inv, err := s.db.GetInvitation(ctx, invitationId)
	if errors.Is(err, database.ErrNotFound) {
		return inv, ErrInvitationNotFound
	}
	if err != nil {
		return inv, persistenceError("get_invitation", err)
	}
	return inv, nil
}

func (s *Server) resolveInvitation(ctx context.Context, c Conn, id, invitationId, userId int, next types.InvitationStatus, out *Outcome) error {
	inv, err := s.loadInvitation(ctx, invitationId)
	if err != nil {
		return err
	}
	if inv.InvitedUserId != userId {
		return ErrForbidden
	}
	if err := s.checkPending(ctx, inv, out); err != nil {
		return err
	}
	status, err := inv.Status.Transition(next)
	if err != nil {
		return ErrAlreadyProcessed
	}

	if status == types.InvitationAccepted {
		if inv, err = s.accept(ctx, inv.Id); err != nil {
			return err
		}
	} else {
		if err := s.setStatus(ctx, inv.Id, status); err != nil {
			return err
		}
		inv.Status = status
	}

	event := EventInvitationDeclined
	if status == types.InvitationAccepted {
		event = EventInvitationAccepted
	}
	view := inv.ToType()
	c.Send(replyEvent(id, event, view))
	s.notifyUser(inv.InvitedBy, newEvent(event, view))

	s.log.Info().Int("invitation", inv.Id).Str("room", inv.RoomId).Str("status", string(status)).Msg("invitation resolved")
	return nil
}

// accept writes the accepted status and the membership together.
func (s *Server) accept(ctx context.Context, invitationId int) (database.Invitation, error) {
	inv, err := s.db.AcceptInvitation(ctx, invitationId)
	if errors.Is(err, database.ErrNotFound) {
		return inv, ErrAlreadyProcessed
	}
	if err != nil {
		return inv, persistenceError("accept_invitation", err)
	}
	return inv, nil
}

func (s *Server) setStatus(ctx context.Context, invitationId int, status types.InvitationStatus) error {
	err := s.db.SetInvitationStatus(ctx, invitationId, status)
	if errors.Is(err, database.ErrNotFound) {
		return ErrAlreadyProcessed
	}
	if err != nil {
		return persistenceError("set_invitation_status", err)
	}
	return nil
}

// CancelInvitation withdraws a pending invitation on behalf of a room
// manager.
func (s *Server) CancelInvitation(ctx context.Context, c Conn, id int, req CancelInvitation) (Outcome, error) {
	userId, err := s.actingUser(c, req.CancelledBy)
	if err != nil {
		return Outcome{}, err
	}
	if req.InvitationId <= 0 {
		return Outcome{}, validationError("invitationId is required")
	}

	roomId, err := s.invitationRoom(ctx, req.InvitationId)
	if err != nil {
		return Outcome{}, err
	}
	if req.RoomId != "" && req.RoomId != roomId {
		return Outcome{}, ErrInvitationNotFound
	}

	var (
		out  Outcome
		jerr error
	)
	if err := s.actors.do(roomId, func() {
		jerr = s.cancelInvitation(ctx, c, id, roomId, req.InvitationId, userId, &out)
	}); err != nil {
		return out, err
	}
	return out, jerr
}

func (s *Server) cancelInvitation(ctx context.Context, c Conn, id int, roomId string, invitationId, userId int, out *Outcome) error {
	if err := s.requireManager(ctx, roomId, userId); err != nil {
		return err
	}

	inv, err := s.loadInvitation(ctx, invitationId)
	if err != nil {
		return err
	}
	if err := s.checkPending(ctx, inv, out); err != nil {
		return err
	}
	status, err := inv.Status.Transition(types.InvitationCancelled)
	if err != nil {
		return ErrAlreadyProcessed
	}
	if err := s.setStatus(ctx, inv.Id, status); err != nil {
		return err
	}
	inv.Status = status

	view := inv.ToType()
	c.Send(replyEvent(id, EventInvitationCancelled, view))
	s.notifyUser(inv.InvitedUserId, newEvent(EventInvitationCancelled, view))
	return nil
}

// Invitations lists the invitations addressed to userId that were
// pending when stored. Lapsed ones are reported and persisted as expired.
func (s *Server) Invitations(ctx context.Context, userId int) ([]types.Invitation, error) {
	stored, err := s.db.ListInvitations(ctx, userId)
	if err != nil {
		return nil, persistenceError("list_invitations", err)
	}

	now := s.now()
	out := make([]types.Invitation, 0, len(stored))
	for _, inv := range stored {
		view := inv.ToType()
		if st := view.Effective(now); st != view.Status {
			s.expireOnRoom(ctx, inv)
			view.Status = st
		}
		out = append(out, view)
	}
	return out, nil
}

// expireOnRoom persists a lapsed invitation as expired from outside the
// room's actor.
func (s *Server) expireOnRoom(ctx context.Context, inv database.Invitation) {
	if err := s.actors.do(inv.RoomId, func() { s.expire(ctx, inv) }); err != nil {
		s.log.Debug().Err(err).Int("invitation", inv.Id).Msg("expiry not persisted")
	}
}

// UserRooms lists the permanent rooms userId is a member of.
func (s *Server) UserRooms(ctx context.Context, userId int) ([]types.Room, error) {
	members, err := s.db.GetUserRooms(ctx, userId)
	if err != nil {
		return nil, persistenceError("get_user_rooms", err)
	}

	out := make([]types.Room, 0, len(members))
	for _, m := range members {
		out = append(out, types.Room{
			RoomId:       m.RoomId,
			IsPermanent:  m.Room.IsPermanent,
			IsInviteOnly: m.Room.IsPermanent,
			CreatedBy:    m.Room.CreatedBy,
			CreatedAt:    m.Room.CreatedAt,
			IsAdmin:      m.IsAdmin || m.Room.CreatedBy == userId,
		})
	}
	return out, nil
}

func (s *Server) ListInvitations(ctx context.Context, c Conn, id int, _ struct{}) (Outcome, error) {
	userId, err := s.actingUser(c, 0)
	if err != nil {
		return Outcome{}, err
	}
	list, err := s.Invitations(ctx, userId)
	if err != nil {
		return Outcome{}, err
	}
	c.Send(replyEvent(id, EventInvitations, InvitationList{Invitations: list}))
	return Outcome{}, nil
}

func (s *Server) ListUserRooms(ctx context.Context, c Conn, id int, _ struct{}) (Outcome, error) {
	userId, err := s.actingUser(c, 0)
	if err != nil {
		return Outcome{}, err
	}
	list, err := s.UserRooms(ctx, userId)
	if err != nil {
		return Outcome{}, err
	}
	c.Send(replyEvent(id, EventUserRooms, RoomList{Rooms: list}))
	return Outcome{}, nil
}
