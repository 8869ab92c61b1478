package server

import (
	"context"
	"strings"

	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/types"
)

const maxChatContent = 2000

// SendMessage broadcasts a chat message to the caller's room, sender
// included. Storing the message is best-effort.
func (s *Server) SendMessage(ctx context.Context, c Conn, id int, req ChatMessage) (Outcome, error) {
	req.RoomId = strings.TrimSpace(req.RoomId)
	if req.RoomId == "" {
		return Outcome{}, validationError("roomId is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return Outcome{}, validationError("content is required")
	}
	if len(req.Content) > maxChatContent {
		return Outcome{}, validationError("message is too long")
	}

	var (
		out  Outcome
		jerr error
	)
	if err := s.actors.do(req.RoomId, func() {
		room, p, err := s.seatedIn(req.RoomId, c)
		if err != nil {
			jerr = err
			return
		}

		msg := types.Message{
			RoomId:       room.Id,
			ConnectionId: c.ID(),
			UserId:       p.UserId,
			Username:     p.Username,
			Content:      req.Content,
			Timestamp:    s.now(),
		}
		room.broadcast(newEvent(EventChatMessage, msg), c.ID())
		c.Send(replyEvent(id, EventChatMessage, msg))

		out.add(s.mirror(ctx, "create_message", room.Id, func(ctx context.Context) error {
			return s.db.CreateMessage(ctx, database.Message{
				RoomId:    msg.RoomId,
				UserId:    msg.UserId,
				Username:  msg.Username,
				Content:   msg.Content,
				CreatedAt: msg.Timestamp,
			})
		}))
		out.add(s.mirror(ctx, "increment_message_count", room.Id, func(ctx context.Context) error {
			return s.db.IncrementMessageCount(ctx, room.Id)
		}))
	}); err != nil {
		return out, err
	}
	return out, jerr
}

func (s *Server) StartScreenShare(ctx context.Context, c Conn, id int, req RoomRef) (Outcome, error) {
	return s.screenShare(c, req, true)
}

func (s *Server) StopScreenShare(ctx context.Context, c Conn, id int, req RoomRef) (Outcome, error) {
	return s.screenShare(c, req, false)
}

func (s *Server) screenShare(c Conn, req RoomRef, start bool) (Outcome, error) {
	req.RoomId = strings.TrimSpace(req.RoomId)
	if req.RoomId == "" {
		return Outcome{}, validationError("roomId is required")
	}

	var jerr error
	if err := s.actors.do(req.RoomId, func() {
		room, p, err := s.seatedIn(req.RoomId, c)
		if err != nil {
			jerr = err
			return
		}

		_, presenting := room.presenters[p.Username]
		if presenting == start {
			return
		}

		event := EventScreenShareStopped
		if start {
			room.presenters[p.Username] = struct{}{}
			event = EventScreenShareStarted
		} else {
			delete(room.presenters, p.Username)
		}
		room.broadcast(newEvent(event, ScreenShareEvent{
			RoomId:       room.Id,
			ConnectionId: c.ID(),
			Username:     p.Username,
		}), "")
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, jerr
}

// seatedIn returns the room and the caller's participant, rejecting
// callers who are not seated there.
func (s *Server) seatedIn(roomId string, c Conn) (*Room, *Participant, error) {
	room, ok := s.registry.Get(roomId)
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	p, ok := room.participant(c.ID())
	if !ok {
		return nil, nil, ErrNotInRoom
	}
	return room, p, nil
}
