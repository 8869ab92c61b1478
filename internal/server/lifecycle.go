package server

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/go-huddle/internal/database"
)

// LeaveRoom takes the caller out of a room. Leaving a temporary room is a
// departure like a disconnect. Leaving a permanent room gives up the
// caller's membership and unseats every connection of that user.
func (s *Server) LeaveRoom(ctx context.Context, c Conn, id int, req LeaveRoom) (Outcome, error) {
	req.RoomId = strings.TrimSpace(req.RoomId)
	if req.RoomId == "" {
		return Outcome{}, validationError("roomId is required")
	}

	var jerr error
	if err := s.actors.do(req.RoomId, func() {
		jerr = s.leave(ctx, c, id, req)
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, jerr
}

func (s *Server) leave(ctx context.Context, c Conn, id int, req LeaveRoom) error {
	ack := replyEvent(id, EventLeftRoom, RoomRef{RoomId: req.RoomId})

	room, live := s.registry.Get(req.RoomId)
	if live && room.Kind == Temporary {
		if _, ok := s.depart(ctx, room.Id, c.ID()); !ok {
			return ErrNotInRoom
		}
		c.Send(ack)
		return nil
	}

	userId, err := s.actingUser(c, req.UserId)
	if err != nil {
		return err
	}

	createdBy := 0
	if live {
		createdBy = room.CreatedBy
	} else {
		rec, err := s.db.GetRoom(ctx, req.RoomId)
		if errors.Is(err, database.ErrNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return persistenceError("get_room", err)
		}
		if !rec.IsPermanent {
			return ErrRoomNotFound
		}
		createdBy = rec.CreatedBy
	}
	if userId == createdBy {
		return ErrCannotLeaveOwnRoom
	}

	member, err := s.db.IsMember(ctx, req.RoomId, userId)
	if err != nil {
		return persistenceError("is_member", err)
	}
	if !member {
		return ErrNotInvited
	}
	if err := s.db.RemoveMember(ctx, req.RoomId, userId); err != nil {
		return persistenceError("remove_member", err)
	}

	if live {
		room.setAdmin(userId, false)
		for _, p := range room.roster() {
			if p.UserId != userId {
				continue
			}
			s.depart(ctx, room.Id, p.ConnectionId())
			if p.conn != c {
				p.conn.Send(newEvent(EventLeftRoom, RoomRef{RoomId: req.RoomId}))
			}
		}
	}
	c.Send(ack)

	s.log.Info().Str("room", req.RoomId).Int("user", userId).Msg("membership given up")
	return nil
}

// DeletePermanentRoom removes a permanent room for good. Only its creator
// may do this; everyone seated in it is told and unseated.
func (s *Server) DeletePermanentRoom(ctx context.Context, c Conn, id int, req DeletePermanentRoom) (Outcome, error) {
	userId, err := s.actingUser(c, req.UserId)
	if err != nil {
		return Outcome{}, err
	}
	req.RoomId = strings.TrimSpace(req.RoomId)
	if req.RoomId == "" {
		return Outcome{}, validationError("roomId is required")
	}

	var jerr error
	if err := s.actors.do(req.RoomId, func() {
		jerr = s.deletePermanent(ctx, c, id, req.RoomId, userId)
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, jerr
}

func (s *Server) deletePermanent(ctx context.Context, c Conn, id int, roomId string, userId int) error {
	room, live := s.registry.Get(roomId)

	createdBy := 0
	if live {
		if room.Kind != Permanent {
			return ErrNotPermanentRoom
		}
		createdBy = room.CreatedBy
	} else {
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
		createdBy = rec.CreatedBy
	}
	if createdBy != userId {
		return ErrNotCreator
	}

	if err := s.db.DeleteRoom(ctx, roomId); err != nil && !errors.Is(err, database.ErrNotFound) {
		return persistenceError("delete_room", err)
	}

	if live {
		notice := newEvent(EventRoomDeleted, RoomRef{RoomId: roomId})
		for _, p := range room.roster() {
			s.unseat(room, p.ConnectionId())
			if p.conn != c {
				p.conn.Send(notice)
			}
		}
		room.sessionOpen = false
		s.deactivate(room)
		s.registry.Delete(roomId)
	}
	c.Send(replyEvent(id, EventRoomDeleted, RoomRef{RoomId: roomId}))

	s.log.Info().Str("room", roomId).Int("user", userId).Msg("permanent room deleted")
	return nil
}

// RegisterUser binds the caller's connection in the presence directory
// so out-of-band notifications reach it.
func (s *Server) RegisterUser(ctx context.Context, c Conn, id int, req RegisterUser) (Outcome, error) {
	userId, err := s.actingUser(c, req.UserId)
	if err != nil {
		return Outcome{}, err
	}
	s.presence.Register(userId, c.ID())
	c.Send(replyEvent(id, EventUserRegistered, RegisterUser{UserId: userId}))
	return Outcome{}, nil
}
