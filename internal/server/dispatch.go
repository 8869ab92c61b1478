package server

import (
	"context"
	"encoding/json"
	"errors"
)

type handlerFunc func(ctx context.Context, c Conn, msg *ClientMessage) (Outcome, error)

// route adapts an operation taking a decoded payload of type T.
func route[T any](op func(context.Context, Conn, int, T) (Outcome, error)) handlerFunc {
	return func(ctx context.Context, c Conn, msg *ClientMessage) (Outcome, error) {
		req, err := decode[T](msg.Data)
		if err != nil {
			return Outcome{}, err
		}
		return op(ctx, c, msg.Id, req)
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		re := validationError("invalid message format")
		re.Err = err
		return v, re
	}
	return v, nil
}

func (s *Server) relayHandler(event string) handlerFunc {
	return func(ctx context.Context, c Conn, msg *ClientMessage) (Outcome, error) {
		return Outcome{}, s.Relay(c, event, msg.Data)
	}
}

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		EventJoinRoom:            route(s.JoinRoom),
		EventCreatePermanentRoom: route(s.CreatePermanentRoom),
		EventLeaveRoom:           route(s.LeaveRoom),
		EventDeletePermanentRoom: route(s.DeletePermanentRoom),
		EventKickUser:            route(s.KickUser),
		EventPromoteUser:         route(s.PromoteUser),
		EventDemoteUser:          route(s.DemoteUser),
		EventSendInvitation:      route(s.SendInvitation),
		EventAcceptInvitation:    route(s.AcceptInvitation),
		EventDeclineInvitation:   route(s.DeclineInvitation),
		EventCancelInvitation:    route(s.CancelInvitation),
		EventListInvitations:     route(s.ListInvitations),
		EventListUserRooms:       route(s.ListUserRooms),
		EventRegisterUser:        route(s.RegisterUser),
		EventSendMessage:         route(s.SendMessage),
		EventStartScreenShare:    route(s.StartScreenShare),
		EventStopScreenShare:     route(s.StopScreenShare),
		EventOffer:               s.relayHandler(EventOffer),
		EventAnswer:              s.relayHandler(EventAnswer),
		EventIceCandidate:        s.relayHandler(EventIceCandidate),
	}
}

// Handle dispatches one event from c. Rejections are delivered to c only.
func (s *Server) Handle(ctx context.Context, c Conn, msg *ClientMessage) {
	log := s.log.With().Str("conn", c.ID()).Str("event", msg.Event).Logger()

	h, ok := s.routes[msg.Event]
	if !ok {
		log.Debug().Msg("unknown event")
		c.Send(errorEvent(msg.Id, EventError, ErrUnknownEvent))
		return
	}

	out, err := h(ctx, c, msg)
	if out.Degraded() {
		log.Debug().Int("mirrors", len(out.Mirrors)).Msg("completed with failed durable writes")
	}
	if err != nil {
		s.reject(c, msg, err)
	}
}

func (s *Server) reject(c Conn, msg *ClientMessage, err error) {
	re := asRoomError(err)
	ev := s.log.Debug()
	if re.Kind == KindPersistence {
		ev = s.log.Error()
	}
	ev.Err(err).Str("conn", c.ID()).Str("event", msg.Event).Str("reason", re.Reason).Msg("request rejected")

	event := EventError
	if msg.Event == EventJoinRoom {
		event = EventJoinError
		if errors.Is(re, ErrRoomFull) {
			event = EventRoomFull
		}
	}
	c.Send(errorEvent(msg.Id, event, re))
}
