package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClientSend(t *testing.T) {
	c := NewClient(nil, nil, testutil.TestLogger(t), 5, rate.NewLimiter(rate.Inf, 0))
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, 5, c.UserId())

	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.Send(newEvent(EventUserJoined, nil)))
	}
	assert.False(t, c.Send(newEvent(EventUserJoined, nil)), "expected a full buffer to drop the message")

	c.Close()
	c.Close()
	assert.False(t, c.Send(newEvent(EventUserJoined, nil)), "expected a stopped client to refuse messages")
}

func TestSerializeMessage(t *testing.T) {
	msg := replyEvent(4, EventLeftRoom, RoomRef{RoomId: "r"})
	b, err := serializeMessage(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":4`)
	assert.Contains(t, string(b), `"event":"left-room"`)
	assert.Contains(t, string(b), `"roomId":"r"`)
}

func dialTestServer(t *testing.T, s *Server, limiter func() *rate.Limiter) *websocket.Conn {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(conn, s, testutil.TestLogger(t), 0, limiter()).Serve(context.Background())
	}))
	t.Cleanup(ts.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	var msg map[string]any
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestClientRoundTrip(t *testing.T) {
	s := newTestServer(t, database.NewMemoryRepository())
	ws := dialTestServer(t, s, func() *rate.Limiter { return rate.NewLimiter(rate.Inf, 0) })

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readEvent(t, ws)
	assert.Equal(t, EventError, msg["event"])

	require.NoError(t, ws.WriteJSON(map[string]any{
		"id":    2,
		"event": EventJoinRoom,
		"data":  map[string]any{"roomId": "tmp", "password": "pw", "username": "alice"},
	}))
	msg = readEvent(t, ws)
	assert.Equal(t, EventAllUsers, msg["event"])
	assert.Equal(t, float64(2), msg["id"])

	ws.Close()
	assert.Eventually(t, func() bool {
		_, ok := s.registry.Get("tmp")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "expected the room to be released when the socket closes")
}

func TestClientRateLimit(t *testing.T) {
	s := newTestServer(t, database.NewMemoryRepository())
	ws := dialTestServer(t, s, func() *rate.Limiter { return rate.NewLimiter(rate.Every(time.Hour), 1) })

	req := map[string]any{"id": 1, "event": EventListInvitations}
	require.NoError(t, ws.WriteJSON(req))
	first := readEvent(t, ws)
	assert.Equal(t, EventError, first["event"], "expected an anonymous listing to be refused")

	require.NoError(t, ws.WriteJSON(req))
	second := readEvent(t, ws)
	data := second["data"].(map[string]any)
	assert.Equal(t, ErrTooManyRequests.Reason, data["reason"])
}
