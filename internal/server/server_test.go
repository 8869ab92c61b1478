package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-huddle/internal/auth"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/stats"
	"github.com/npezzotti/go-huddle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeConn struct {
	id     string
	userId int
	mu     sync.Mutex
	msgs   []*ServerMessage
	closed bool
}

func newFakeConn(id string, userId int) *fakeConn {
	return &fakeConn{id: id, userId: userId}
}

func (f *fakeConn) ID() string  { return f.id }
func (f *fakeConn) UserId() int { return f.userId }

func (f *fakeConn) Send(msg *ServerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.Event)
	}
	return out
}

// last returns the most recent message with the given event, or nil.
func (f *fakeConn) last(event string) *ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].Event == event {
			return f.msgs[i]
		}
	}
	return nil
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()
	return su
}

func newTestServer(t *testing.T, db database.Repository) *Server {
	return NewServer(testutil.TestLogger(t), db, newMockStats(), auth.NewPasswordHasher(bcrypt.MinCost), Options{})
}

// connect registers a fake connection with s.
func connect(s *Server, id string, userId int) *fakeConn {
	c := newFakeConn(id, userId)
	s.Connect(c)
	return c
}

func clientMsg(t *testing.T, id int, event string, data any) *ClientMessage {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &ClientMessage{BaseMessage: BaseMessage{Id: id}, Event: event, Data: raw}
}

func errorMessage(t *testing.T, msg *ServerMessage) string {
	require.NotNil(t, msg, "expected an error message")
	data, ok := msg.Data.(ErrorData)
	require.True(t, ok, "expected ErrorData payload, got %T", msg.Data)
	return data.Message
}

// seedPermanent creates a permanent room owned by owner and adds members.
func seedPermanent(t *testing.T, db *database.MemoryRepository, roomId string, owner int, members ...int) {
	ctx := context.Background()
	_, err := db.CreateRoom(ctx, database.CreateRoomParams{RoomId: roomId, IsPermanent: true, CreatedBy: owner})
	require.NoError(t, err)
	for _, m := range members {
		_, err := db.AddMember(ctx, database.AddMemberParams{RoomId: roomId, UserId: m, AddedBy: owner})
		require.NoError(t, err)
	}
}

func TestNewServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", metricActiveRooms).Return().Once()
	su.On("RegisterMetric", metricActiveConnections).Return().Once()
	su.On("RegisterMetric", metricActiveParticipants).Return().Once()

	s := NewServer(testutil.TestLogger(t), database.NewMemoryRepository(), su, auth.NewPasswordHasher(bcrypt.MinCost), Options{})
	assert.Equal(t, 100, s.opts.Capacity, "expected default capacity")
	assert.Equal(t, 7*24*time.Hour, s.opts.InvitationTTL, "expected default invitation ttl")
	assert.NotNil(t, s.registry, "expected registry to be initialized")
	assert.NotNil(t, s.presence, "expected presence to be initialized")
	assert.Len(t, s.routes, 20, "expected a handler for every consumed event")
}

func TestConnectDisconnect(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", metricActiveConnections).Return().Once()
	su.On("Decr", metricActiveConnections).Return().Once()

	s := NewServer(testutil.TestLogger(t), database.NewMemoryRepository(), su, auth.NewPasswordHasher(bcrypt.MinCost), Options{})
	c := connect(s, "c1", 7)
	s.presence.Register(7, "c1")

	_, ok := s.conns.get("c1")
	assert.True(t, ok, "expected connection to be registered")

	s.Disconnect(c)
	_, ok = s.conns.get("c1")
	assert.False(t, ok, "expected connection to be removed")
	_, ok = s.presence.Lookup(7)
	assert.False(t, ok, "expected presence entry to be removed")

	// a second disconnect is a no-op
	s.Disconnect(c)
}

func TestDisconnectTemporaryRoom(t *testing.T) {
	db := database.NewMemoryRepository()
	s := newTestServer(t, db)
	ctx := context.Background()

	alice := connect(s, "alice", 0)
	bob := connect(s, "bob", 0)
	_, err := s.JoinRoom(ctx, alice, 1, JoinRoom{RoomId: "abc123", Password: "pw1", Username: "alice"})
	require.NoError(t, err)
	_, err = s.JoinRoom(ctx, bob, 1, JoinRoom{RoomId: "abc123", Password: "pw1", Username: "bob"})
	require.NoError(t, err)

	s.Disconnect(bob)
	left := alice.last(EventUserLeft)
	require.NotNil(t, left, "expected remaining participant to be told about the departure")
	assert.Equal(t, "bob", left.Data.(ParticipantEvent).Username)

	s.Disconnect(alice)
	_, ok := s.registry.Get("abc123")
	assert.False(t, ok, "expected temporary room to be removed once empty")
	exists, err := db.RoomExists(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, exists, "expected durable record of temporary room to be deleted")

	// the id is immediately reusable with a new password and no history
	carol := connect(s, "carol", 0)
	_, err = s.JoinRoom(ctx, carol, 2, JoinRoom{RoomId: "abc123", Password: "other", Username: "carol"})
	require.NoError(t, err)
	all := carol.last(EventAllUsers)
	require.NotNil(t, all)
	assert.Empty(t, all.Data.(AllUsers).Users, "expected a brand new room")
}

func TestDisconnectPermanentRoom(t *testing.T) {
	db := database.NewMemoryRepository()
	seedPermanent(t, db, "team1", 42, 43)
	s := newTestServer(t, db)
	ctx := context.Background()

	carol := connect(s, "carol", 42)
	_, err := s.JoinRoom(ctx, carol, 1, JoinRoom{RoomId: "team1", Username: "carol", UserId: 42})
	require.NoError(t, err)

	room, ok := s.registry.Get("team1")
	require.True(t, ok)
	createdAt := room.CreatedAt
	assert.True(t, room.IsActive)
	assert.Equal(t, 1, db.OpenSessions("team1"), "expected a chat session to be started")

	s.Disconnect(carol)
	room, ok = s.registry.Get("team1")
	require.True(t, ok, "expected permanent room to stay in the registry")
	assert.False(t, room.IsActive, "expected permanent room to be deactivated")
	assert.Equal(t, 0, db.OpenSessions("team1"), "expected the chat session to be ended")

	dave := connect(s, "dave", 43)
	_, err = s.JoinRoom(ctx, dave, 1, JoinRoom{RoomId: "team1", Username: "dave", UserId: 43})
	require.NoError(t, err)
	assert.True(t, room.IsActive, "expected room to be reactivated")
	assert.True(t, room.isAdmin(42), "expected admins to be kept")
	assert.Equal(t, createdAt, room.CreatedAt, "expected createdAt to be kept")
	assert.Equal(t, 1, db.OpenSessions("team1"))
}

func TestShutdown(t *testing.T) {
	db := database.NewMemoryRepository()
	seedPermanent(t, db, "team1", 42)
	s := newTestServer(t, db)
	ctx := context.Background()

	carol := connect(s, "carol", 42)
	_, err := s.JoinRoom(ctx, carol, 1, JoinRoom{RoomId: "team1", Username: "carol", UserId: 42})
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(sctx))
	assert.True(t, carol.isClosed(), "expected connections to be closed")
	assert.Equal(t, 0, db.OpenSessions("team1"), "expected open sessions to be ended")

	_, err = s.JoinRoom(ctx, connect(s, "late", 0), 1, JoinRoom{RoomId: "x", Password: "pw", Username: "late"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestMirror(t *testing.T) {
	s := newTestServer(t, database.NewMemoryRepository())

	res := s.mirror(context.Background(), "op", "room", func(context.Context) error { return errors.New("boom") })
	assert.Equal(t, "op", res.Op)
	assert.Error(t, res.Err)

	var out Outcome
	assert.False(t, out.Degraded())
	out.add(MirrorResult{Op: "ok"})
	assert.False(t, out.Degraded())
	out.add(res)
	assert.True(t, out.Degraded())
}

func TestActingUser(t *testing.T) {
	s := newTestServer(t, database.NewMemoryRepository())

	tcases := []struct {
		name    string
		conn    int
		claimed int
		want    int
		err     error
	}{
		{name: "anonymous", conn: 0, claimed: 0, err: ErrAuthenticationRequired},
		{name: "anonymous claiming", conn: 0, claimed: 5, err: ErrAuthenticationRequired},
		{name: "implicit", conn: 5, claimed: 0, want: 5},
		{name: "matching", conn: 5, claimed: 5, want: 5},
		{name: "mismatch", conn: 5, claimed: 6, err: ErrUserMismatch},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.actingUser(newFakeConn("c", tc.conn), tc.claimed)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNotifyUser(t *testing.T) {
	s := newTestServer(t, database.NewMemoryRepository())
	c := connect(s, "c1", 9)

	assert.False(t, s.notifyUser(9, newEvent(EventError, nil)), "expected no delivery without presence")

	s.presence.Register(9, "c1")
	assert.True(t, s.notifyUser(9, newEvent(EventError, nil)))
	assert.Equal(t, []string{EventError}, c.events())

	s.Disconnect(c)
	assert.False(t, s.notifyUser(9, newEvent(EventError, nil)), "expected no delivery after disconnect")
}

func TestConcurrentFirstJoin(t *testing.T) {
	db := database.NewMemoryRepository()
	s := newTestServer(t, db)
	ctx := context.Background()

	const n = 20
	conns := make([]*fakeConn, n)
	for i := range conns {
		conns[i] = connect(s, fmt.Sprintf("c%d", i), 0)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.JoinRoom(ctx, conns[i], 1, JoinRoom{RoomId: "race", Password: "pw", Username: fmt.Sprintf("u%d", i)})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "join %d", i)
	}
	room, ok := s.registry.Get("race")
	require.True(t, ok)
	assert.Equal(t, n, room.size(), "expected every joiner in the same room")
	assert.Equal(t, 1, s.registry.Len(), "expected a single room")
}
