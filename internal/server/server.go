package server

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-huddle/internal/config"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/stats"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	metricActiveRooms        = "active_rooms"
	metricActiveConnections  = "active_connections"
	metricActiveParticipants = "active_participants"
)

// PasswordHasher hashes and verifies temporary room passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type Options struct {
	Capacity      int
	InvitationTTL time.Duration
}

// Server coordinates live rooms: admission, roles, invitations, signaling
// and disconnect cleanup. Mutations of a room run on that room's actor.
type Server struct {
	log      zerolog.Logger
	db       database.Repository
	stats    stats.StatsProvider
	hasher   PasswordHasher
	opts     Options
	conns    *connRegistry
	presence *Presence
	registry *Registry
	actors   *actorGroup
	routes   map[string]handlerFunc
	now      func() time.Time
	newId    func() (string, error)
}

func NewServer(logger zerolog.Logger, db database.Repository, su stats.StatsProvider, hasher PasswordHasher, opts Options) *Server {
	if opts.Capacity <= 0 {
		opts.Capacity = config.DefaultRoomCapacity
	}
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = config.DefaultInvitationTTL
	}

	su.RegisterMetric(metricActiveRooms)
	su.RegisterMetric(metricActiveConnections)
	su.RegisterMetric(metricActiveParticipants)

	s := &Server{
		log:      logger,
		db:       db,
		stats:    su,
		hasher:   hasher,
		opts:     opts,
		conns:    newConnRegistry(),
		presence: NewPresence(),
		registry: NewRegistry(),
		actors:   newActorGroup(logger),
		now:      Now,
		newId:    shortid.Generate,
	}
	s.routes = s.handlers()
	return s
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Presence() *Presence {
	return s.presence
}

// Connect makes c reachable by the signaling relay and by presence
// lookups once it registers.
func (s *Server) Connect(c Conn) {
	s.conns.add(c)
	s.stats.Incr(metricActiveConnections)
	s.log.Debug().Str("conn", c.ID()).Int("user", c.UserId()).Msg("connection opened")
}

// Disconnect removes every trace of c: its presence entry, the
// connection table entry and its seat in a room, if any.
func (s *Server) Disconnect(c Conn) {
	id := c.ID()
	if s.conns.remove(id) {
		s.stats.Decr(metricActiveConnections)
	}
	s.presence.Unregister(id)

	roomId, ok := s.registry.RoomOf(id)
	if !ok {
		s.log.Debug().Str("conn", id).Msg("connection closed")
		return
	}

	err := s.actors.do(roomId, func() {
		s.depart(context.Background(), roomId, id)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("conn", id).Str("room", roomId).Msg("disconnect cleanup skipped")
		return
	}
	s.log.Debug().Str("conn", id).Str("room", roomId).Msg("connection closed")
}

// Shutdown stops accepting room jobs, waits for running ones, ends open
// chat sessions and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down rooms")
	err := s.actors.close(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("room jobs did not drain")
	}

	if err == nil {
		s.registry.ForEach(func(room *Room) {
			if room.sessionOpen {
				room.sessionOpen = false
				s.mirror(ctx, "end_session", room.Id, func(ctx context.Context) error {
					return s.db.EndSession(ctx, room.Id)
				})
			}
		})
	}

	for _, c := range s.conns.all() {
		c.Close()
	}
	return err
}

// seat places p in room and indexes its connection.
func (s *Server) seat(room *Room, p *Participant) {
	s.registry.AddParticipant(room, p)
	s.stats.Incr(metricActiveParticipants)
}

// unseat removes the participant on connId along with any screen share
// it was presenting.
func (s *Server) unseat(room *Room, connId string) (*Participant, bool) {
	p, ok := s.registry.RemoveParticipant(room, connId)
	if !ok {
		return nil, false
	}
	delete(room.presenters, p.Username)
	s.stats.Decr(metricActiveParticipants)
	return p, true
}

// depart removes a participant the way a disconnect does. An emptied
// temporary room is deleted, an emptied permanent room goes dormant and
// otherwise the remaining participants are told about the departure.
func (s *Server) depart(ctx context.Context, roomId, connId string) (*Participant, bool) {
	room, ok := s.registry.Get(roomId)
	if !ok {
		return nil, false
	}
	p, ok := s.unseat(room, connId)
	if !ok {
		return nil, false
	}

	if room.size() > 0 {
		room.broadcast(newEvent(EventUserLeft, ParticipantEvent{RoomId: room.Id, Participant: p.view()}), "")
		return p, true
	}

	switch room.Kind {
	case Temporary:
		s.mirror(ctx, "delete_room", room.Id, func(ctx context.Context) error {
			err := s.db.DeleteRoom(ctx, room.Id)
			if errors.Is(err, database.ErrNotFound) {
				return nil
			}
			return err
		})
		s.deactivate(room)
		s.registry.Delete(room.Id)
		s.log.Info().Str("room", room.Id).Msg("temporary room deleted")
	case Permanent:
		s.deactivate(room)
		if room.sessionOpen {
			room.sessionOpen = false
			s.mirror(ctx, "end_session", room.Id, func(ctx context.Context) error {
				return s.db.EndSession(ctx, room.Id)
			})
		}
		s.log.Info().Str("room", room.Id).Msg("permanent room deactivated")
	}
	return p, true
}

func (s *Server) activate(room *Room) {
	if !room.IsActive {
		room.IsActive = true
		s.stats.Incr(metricActiveRooms)
	}
}

func (s *Server) deactivate(room *Room) {
	if room.IsActive {
		room.IsActive = false
		s.stats.Decr(metricActiveRooms)
	}
}

// MirrorResult is the outcome of a best-effort durable write.
type MirrorResult struct {
	Op  string
	Err error
}

// Outcome describes an operation whose live effect succeeded. Failed
// mirrors do not fail the operation.
type Outcome struct {
	Mirrors []MirrorResult
}

func (o *Outcome) add(r MirrorResult) {
	o.Mirrors = append(o.Mirrors, r)
}

// Degraded reports whether any durable mirror failed.
func (o Outcome) Degraded() bool {
	for _, m := range o.Mirrors {
		if m.Err != nil {
			return true
		}
	}
	return false
}

// mirror performs a best-effort durable write, logging failure.
func (s *Server) mirror(ctx context.Context, op, roomId string, fn func(context.Context) error) MirrorResult {
	err := fn(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("op", op).Str("room", roomId).Msg("durable write failed")
	}
	return MirrorResult{Op: op, Err: err}
}

// actingUser binds a claimed user id to the connection's identity. A
// claim of 0 means the connection's own user.
func (s *Server) actingUser(c Conn, claimed int) (int, error) {
	uid := c.UserId()
	if uid == 0 {
		return 0, ErrAuthenticationRequired
	}
	if claimed != 0 && claimed != uid {
		return 0, ErrUserMismatch
	}
	return uid, nil
}

// notifyUser delivers msg to the user's registered connection, if any.
func (s *Server) notifyUser(userId int, msg *ServerMessage) bool {
	connId, ok := s.presence.Lookup(userId)
	if !ok {
		return false
	}
	c, ok := s.conns.get(connId)
	if !ok {
		return false
	}
	return c.Send(msg)
}
