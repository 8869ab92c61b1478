package server

import (
	"context"
	"strings"
)

type roleAction int

const (
	actionKick roleAction = iota
	actionPromote
	actionDemote
)

func (a roleAction) String() string {
	switch a {
	case actionKick:
		return "kick"
	case actionPromote:
		return "promote"
	case actionDemote:
		return "demote"
	}
	return "unknown"
}

type role int

const (
	roleMember role = iota
	roleAdmin
	roleCreator
)

// roleRules holds the rejection for applying an action to a target of a
// given role. A nil entry means the action is allowed.
var roleRules = [3][3]*RoomError{
	actionKick: {
		roleMember:  nil,
		roleAdmin:   ErrCannotKickAdmin,
		roleCreator: ErrCannotKickAdmin,
	},
	actionPromote: {
		roleMember:  nil,
		roleAdmin:   ErrAlreadyAdmin,
		roleCreator: ErrAlreadyAdmin,
	},
	actionDemote: {
		roleMember:  ErrNotAdmin,
		roleAdmin:   nil,
		roleCreator: ErrCannotDemoteCreator,
	},
}

func roleOf(room *Room, p *Participant) role {
	switch {
	case p.UserId != 0 && p.UserId == room.CreatedBy:
		return roleCreator
	case p.IsAdmin:
		return roleAdmin
	}
	return roleMember
}

func (s *Server) KickUser(ctx context.Context, c Conn, id int, req RoleChange) (Outcome, error) {
	return s.changeRole(ctx, c, actionKick, req)
}

func (s *Server) PromoteUser(ctx context.Context, c Conn, id int, req RoleChange) (Outcome, error) {
	return s.changeRole(ctx, c, actionPromote, req)
}

func (s *Server) DemoteUser(ctx context.Context, c Conn, id int, req RoleChange) (Outcome, error) {
	return s.changeRole(ctx, c, actionDemote, req)
}

func (s *Server) changeRole(ctx context.Context, c Conn, action roleAction, req RoleChange) (Outcome, error) {
	req.RoomId = strings.TrimSpace(req.RoomId)
	if req.RoomId == "" || req.TargetConnectionId == "" {
		return Outcome{}, validationError("roomId and targetConnectionId are required")
	}

	var jerr error
	if err := s.actors.do(req.RoomId, func() {
		jerr = s.applyRole(ctx, c, action, req)
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, jerr
}

func (s *Server) applyRole(ctx context.Context, c Conn, action roleAction, req RoleChange) error {
	room, ok := s.registry.Get(req.RoomId)
	if !ok {
		return ErrRoomNotFound
	}
	acting, ok := room.participant(c.ID())
	if !ok || !acting.IsAdmin {
		return ErrInsufficientPermissions
	}
	target, ok := room.participant(req.TargetConnectionId)
	if !ok {
		return ErrParticipantNotFound
	}
	if rej := roleRules[action][roleOf(room, target)]; rej != nil {
		return rej
	}

	switch action {
	case actionKick:
		s.kick(room, acting, target)
	case actionPromote:
		if target.UserId == 0 {
			return ErrAnonymousParticipant
		}
		if err := s.persistAdmin(ctx, room, target.UserId, true); err != nil {
			return err
		}
		room.setAdmin(target.UserId, true)
		s.announceRole(room, acting, target, EventPromotedToAdmin, EventUserPromoted)
	case actionDemote:
		if err := s.persistAdmin(ctx, room, target.UserId, false); err != nil {
			return err
		}
		room.setAdmin(target.UserId, false)
		s.announceRole(room, acting, target, EventDemotedFromAdmin, EventUserDemoted)
	}

	s.log.Info().
		Str("room", room.Id).
		Str("action", action.String()).
		Str("by", acting.ConnectionId()).
		Str("target", target.ConnectionId()).
		Msg("role change applied")
	return nil
}

// persistAdmin writes a role change through to the membership of a
// permanent room before it is applied live.
func (s *Server) persistAdmin(ctx context.Context, room *Room, userId int, admin bool) error {
	if room.Kind != Permanent {
		return nil
	}
	if err := s.db.SetMemberAdmin(ctx, room.Id, userId, admin); err != nil {
		return persistenceError("set_member_admin", err)
	}
	return nil
}

func (s *Server) kick(room *Room, acting, target *Participant) {
	s.unseat(room, target.ConnectionId())

	ev := RoleEvent{
		RoomId:       room.Id,
		ConnectionId: target.ConnectionId(),
		UserId:       target.UserId,
		Username:     target.Username,
		By:           acting.Username,
	}
	target.conn.Send(newEvent(EventKickedFromRoom, ev))
	room.broadcast(newEvent(EventUserKicked, ev), "")
}

func (s *Server) announceRole(room *Room, acting, target *Participant, direct, roster string) {
	ev := RoleEvent{
		RoomId:       room.Id,
		ConnectionId: target.ConnectionId(),
		UserId:       target.UserId,
		Username:     target.Username,
		By:           acting.Username,
	}
	target.conn.Send(newEvent(direct, ev))
	room.broadcast(newEvent(roster, ev), target.ConnectionId())
}
