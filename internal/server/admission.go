package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-huddle/internal/auth"
	"github.com/npezzotti/go-huddle/internal/database"
)

type admissionState int

const (
	stateUnvalidated admissionState = iota
	stateRoomResolved
	stateAuthorized
	stateCapacityChecked
	stateAdmitted
	stateRejected
)

func (st admissionState) String() string {
	switch st {
	case stateUnvalidated:
		return "unvalidated"
	case stateRoomResolved:
		return "room_resolved"
	case stateAuthorized:
		return "authorized"
	case stateCapacityChecked:
		return "capacity_checked"
	case stateAdmitted:
		return "admitted"
	case stateRejected:
		return "rejected"
	}
	return "unknown"
}

// admissionSteps lists the only forward transition out of each state.
// Any state may move to stateRejected.
var admissionSteps = map[admissionState]admissionState{
	stateUnvalidated:     stateRoomResolved,
	stateRoomResolved:    stateAuthorized,
	stateAuthorized:      stateCapacityChecked,
	stateCapacityChecked: stateAdmitted,
}

// admission tracks one join attempt through the join protocol.
type admission struct {
	state admissionState
	req   JoinRoom
	room  *Room
	// fresh is set when the room was provisioned or loaded by this
	// attempt and is not yet in the registry.
	fresh bool
	err   error
}

func (a *admission) advance(next admissionState) {
	if want, ok := admissionSteps[a.state]; !ok || want != next {
		panic(fmt.Sprintf("admission: illegal transition %s -> %s", a.state, next))
	}
	a.state = next
}

func (a *admission) reject(err error) error {
	if a.state == stateAdmitted || a.state == stateRejected {
		panic(fmt.Sprintf("admission: cannot reject from %s", a.state))
	}
	a.state = stateRejected
	a.err = err
	return err
}

// JoinRoom runs the join protocol for c. The caller joins a permanent
// room when it names a user id and a temporary room otherwise.
func (s *Server) JoinRoom(ctx context.Context, c Conn, id int, req JoinRoom) (Outcome, error) {
	req.RoomId = strings.TrimSpace(req.RoomId)
	req.Username = strings.TrimSpace(req.Username)
	if req.RoomId == "" {
		return Outcome{}, validationError("roomId is required")
	}
	if req.Username == "" {
		return Outcome{}, validationError("username is required")
	}
	if req.UserId != 0 {
		if _, err := s.actingUser(c, req.UserId); err != nil {
			return Outcome{}, err
		}
	}
	if _, seated := s.registry.RoomOf(c.ID()); seated {
		return Outcome{}, ErrAlreadyInRoom
	}

	var (
		out  Outcome
		jerr error
	)
	if err := s.actors.do(req.RoomId, func() {
		out, jerr = s.admit(ctx, c, id, req)
	}); err != nil {
		return out, err
	}
	return out, jerr
}

func (s *Server) admit(ctx context.Context, c Conn, id int, req JoinRoom) (Outcome, error) {
	var out Outcome
	a := &admission{state: stateUnvalidated, req: req}

	room, ok := s.registry.Get(req.RoomId)
	if !ok {
		var err error
		if req.UserId != 0 {
			room, err = s.loadPermanent(ctx, req.RoomId)
		} else {
			room, err = s.provisionTemporary(ctx, req, &out)
		}
		if err != nil {
			return out, a.reject(err)
		}
		a.fresh = true
	}
	a.room = room
	a.advance(stateRoomResolved)

	if err := s.authorize(ctx, a); err != nil {
		return out, a.reject(err)
	}
	a.advance(stateAuthorized)

	if room.size() >= s.opts.Capacity {
		return out, a.reject(ErrRoomFull)
	}
	a.advance(stateCapacityChecked)

	if a.fresh {
		if err := s.registry.Create(room); err != nil {
			return out, a.reject(err)
		}
	}
	s.activate(room)
	if room.Kind == Permanent && !room.sessionOpen {
		room.sessionOpen = true
		out.add(s.mirror(ctx, "start_session", room.Id, func(ctx context.Context) error {
			return s.db.StartSession(ctx, room.Id)
		}))
	}

	p := &Participant{
		conn:     c,
		UserId:   req.UserId,
		Username: req.Username,
		IsAdmin:  room.isAdmin(req.UserId),
		JoinedAt: s.now(),
	}
	s.seat(room, p)
	if req.UserId != 0 {
		s.presence.Register(req.UserId, c.ID())
	}
	a.advance(stateAdmitted)

	c.Send(replyEvent(id, EventAllUsers, room.snapshot(p)))
	room.broadcast(newEvent(EventUserJoined, ParticipantEvent{RoomId: room.Id, Participant: p.view()}), c.ID())

	s.log.Info().
		Str("room", room.Id).
		Str("conn", c.ID()).
		Int("user", req.UserId).
		Int("participants", room.size()).
		Msg("participant admitted")
	return out, nil
}

// loadPermanent rebuilds a dormant permanent room from durable storage.
func (s *Server) loadPermanent(ctx context.Context, roomId string) (*Room, error) {
	rec, err := s.db.GetRoom(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, persistenceError("get_room", err)
	}
	if !rec.IsPermanent {
		return nil, ErrRoomNotFound
	}

	members, err := s.db.ListMembers(ctx, roomId)
	if err != nil {
		return nil, persistenceError("list_members", err)
	}

	room := newRoom(rec.RoomId, Permanent, "", rec.CreatedBy, rec.CreatedAt)
	for _, m := range members {
		if m.IsAdmin {
			room.admins[m.UserId] = struct{}{}
		}
	}
	return room, nil
}

// provisionTemporary creates a temporary room for an anonymous first
// joiner. The durable record is best-effort, except that an existing
// permanent record with the same id refuses the request.
func (s *Server) provisionTemporary(ctx context.Context, req JoinRoom, out *Outcome) (*Room, error) {
	if req.Password == "" {
		return nil, ErrPasswordRequired
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		re := validationError("Invalid room password.")
		re.Err = err
		return nil, re
	}

	res := s.mirror(ctx, "create_room", req.RoomId, func(ctx context.Context) error {
		_, err := s.db.CreateRoom(ctx, database.CreateRoomParams{RoomId: req.RoomId})
		return err
	})
	if errors.Is(res.Err, database.ErrConflict) {
		return nil, ErrNotInvited
	}
	out.add(res)

	return newRoom(req.RoomId, Temporary, hash, 0, s.now()), nil
}

func (s *Server) authorize(ctx context.Context, a *admission) error {
	room, req := a.room, a.req
	if room.Kind == Temporary {
		// the credential of a fresh temporary room was just hashed from
		// this request's password
		if a.fresh {
			return nil
		}
		return s.checkPassword(room.credential, req.Password)
	}

	if req.UserId == 0 {
		return ErrNotInvited
	}
	ok, err := s.db.IsMember(ctx, room.Id, req.UserId)
	if err != nil {
		return persistenceError("is_member", err)
	}
	if !ok {
		return ErrNotInvited
	}
	return nil
}

// checkPassword requires the presence of a password to match the
// presence of a credential, and the password to match the hash.
func (s *Server) checkPassword(credential, password string) error {
	switch {
	case credential == "" && password == "":
		return nil
	case credential == "" || password == "":
		return ErrInvalidPassword
	}

	if err := s.hasher.Compare(credential, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.log.Warn().Err(err).Msg("compare room password")
		}
		return ErrInvalidPassword
	}
	return nil
}

// CreatePermanentRoom creates a membership gated room owned by the
// caller. A random id is generated when none is given.
func (s *Server) CreatePermanentRoom(ctx context.Context, c Conn, id int, req CreatePermanentRoom) (Outcome, error) {
	userId, err := s.actingUser(c, req.UserId)
	if err != nil {
		return Outcome{}, err
	}

	roomId := strings.TrimSpace(req.RoomId)
	if roomId == "" {
		roomId, err = s.newId()
		if err != nil {
			return Outcome{}, persistenceError("generate_room_id", err)
		}
	}

	var jerr error
	if err := s.actors.do(roomId, func() {
		jerr = s.createPermanent(ctx, c, id, roomId, userId)
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, jerr
}

func (s *Server) createPermanent(ctx context.Context, c Conn, id int, roomId string, userId int) error {
	if _, ok := s.registry.Get(roomId); ok {
		return ErrRoomExists
	}

	rec, err := s.db.CreateRoom(ctx, database.CreateRoomParams{
		RoomId:      roomId,
		IsPermanent: true,
		CreatedBy:   userId,
	})
	if errors.Is(err, database.ErrConflict) {
		return ErrRoomExists
	}
	if err != nil {
		return persistenceError("create_room", err)
	}

	room := newRoom(rec.RoomId, Permanent, "", userId, rec.CreatedAt)
	if err := s.registry.Create(room); err != nil {
		return err
	}
	s.activate(room)

	c.Send(replyEvent(id, EventPermanentRoomCreated, room.view(userId)))
	s.log.Info().Str("room", roomId).Int("user", userId).Msg("permanent room created")
	return nil
}
