package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-huddle/internal/auth"
	"github.com/npezzotti/go-huddle/internal/config"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/server"
	"github.com/npezzotti/go-huddle/internal/stats"
	"github.com/npezzotti/go-huddle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
		RoomCapacity:   config.DefaultRoomCapacity,
		InvitationTTL:  config.DefaultInvitationTTL,
		EventRate:      100,
		EventBurst:     100,
	}
}

// newTestApp builds an App over db, or over an empty in-memory repository
// when db is nil.
func newTestApp(t *testing.T, db database.Repository) *App {
	if db == nil {
		db = database.NewMemoryRepository()
	}
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()

	logger := testutil.TestLogger(t)
	srv := server.NewServer(logger, db, su, auth.NewPasswordHasher(bcrypt.MinCost), server.Options{})
	return NewApp(http.NewServeMux(), logger, srv, db, testConfig())
}

func TestNewApp(t *testing.T) {
	db := database.NewMemoryRepository()
	app := newTestApp(t, db)

	assert.NotNil(t, app.http, "expected http server to be initialized")
	assert.NotNil(t, app.srv, "expected coordinator to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, "localhost:8080", app.http.Addr, "expected server address to match config")
	assert.Equal(t, []string{"http://localhost:3000"}, app.allowedOrigins)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		app := newTestApp(t, nil)
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("Ping").Return(errors.New("connection refused")).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func authedRequest(t *testing.T, app *App, path string, userId int) *http.Request {
	token, err := app.auth.IssueToken(userId, true)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
	return req
}

func TestGetUserRooms(t *testing.T) {
	db := database.NewMemoryRepository()
	ctx := context.Background()
	_, err := db.CreateRoom(ctx, database.CreateRoomParams{RoomId: "team1", IsPermanent: true, CreatedBy: 42})
	require.NoError(t, err)
	_, err = db.AddMember(ctx, database.AddMemberParams{RoomId: "team1", UserId: 43, AddedBy: 42})
	require.NoError(t, err)

	app := newTestApp(t, db)

	tcases := []struct {
		name    string
		userId  int
		isAdmin bool
	}{
		{name: "creator", userId: 42, isAdmin: true},
		{name: "member", userId: 43, isAdmin: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, authedRequest(t, app, "/api/rooms", tc.userId))
			require.Equal(t, http.StatusOK, rr.Code)

			var got server.RoomList
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			require.Len(t, got.Rooms, 1)
			assert.Equal(t, "team1", got.Rooms[0].RoomId)
			assert.Equal(t, tc.isAdmin, got.Rooms[0].IsAdmin)
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestGetInvitations(t *testing.T) {
	db := database.NewMemoryRepository()
	ctx := context.Background()
	_, err := db.CreateRoom(ctx, database.CreateRoomParams{RoomId: "team1", IsPermanent: true, CreatedBy: 42})
	require.NoError(t, err)
	inv, err := db.CreateInvitation(ctx, database.CreateInvitationParams{
		RoomId:        "team1",
		InvitedUserId: 44,
		InvitedBy:     42,
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	app := newTestApp(t, db)

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, authedRequest(t, app, "/api/invitations", 44))
	require.Equal(t, http.StatusOK, rr.Code)

	var got struct {
		Invitations []struct {
			Id     int    `json:"id"`
			RoomId string `json:"roomId"`
		} `json:"invitations"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got.Invitations, 1)
	assert.Equal(t, inv.Id, got.Invitations[0].Id)
	assert.Equal(t, "team1", got.Invitations[0].RoomId)

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, authedRequest(t, app, "/api/invitations", 42))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"invitations":[]}`, rr.Body.String())
}

func TestGetInvitationsPersistenceFailure(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("ListInvitations", 44).Return([]database.Invitation(nil), errors.New("db down")).Once()

	app := newTestApp(t, db)
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, authedRequest(t, app, "/api/invitations", 44))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestFromRoomError(t *testing.T) {
	tcases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "validation", err: server.ErrPasswordRequired, status: http.StatusBadRequest},
		{name: "not found", err: server.ErrRoomNotFound, status: http.StatusNotFound},
		{name: "permission", err: server.ErrInvalidPassword, status: http.StatusForbidden},
		{name: "conflict", err: server.ErrRoomExists, status: http.StatusConflict},
		{name: "capacity", err: server.ErrTooManyRequests, status: http.StatusTooManyRequests},
		{name: "untyped", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, fromRoomError(tc.err).StatusCode)
		})
	}
}

func TestServeWs(t *testing.T) {
	app := newTestApp(t, nil)
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	t.Run("anonymous", func(t *testing.T) {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.WriteJSON(map[string]any{
			"id":    1,
			"event": server.EventJoinRoom,
			"data":  map[string]any{"roomId": "tmp", "password": "pw", "username": "alice"},
		}))

		var msg map[string]any
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, ws.ReadJSON(&msg))
		assert.Equal(t, server.EventAllUsers, msg["event"])
		data, ok := msg["data"].(map[string]any)
		require.True(t, ok, "expected all-users data to be an object")
		assert.Equal(t, []any{}, data["users"], "expected an empty user list for the first joiner")
		assert.Contains(t, data, "self")
	})

	t.Run("authenticated", func(t *testing.T) {
		token, err := app.auth.IssueToken(7, true)
		require.NoError(t, err)
		ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.WriteJSON(map[string]any{"id": 2, "event": server.EventRegisterUser}))

		var msg map[string]any
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, ws.ReadJSON(&msg))
		assert.Equal(t, server.EventUserRegistered, msg["event"])
	})

	t.Run("rejected tokens", func(t *testing.T) {
		inactive, err := app.auth.IssueToken(7, false)
		require.NoError(t, err)

		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=garbage", nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token="+inactive, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("foreign origin", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://evil.example"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
