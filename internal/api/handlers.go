package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-huddle/internal/server"
	"golang.org/x/time/rate"
)

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("json encode")
	}
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		a.log.Error().Err(err).Msg("health check")
		errResp := NewServiceUnavailableError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) getUserRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms, err := a.srv.UserRooms(r.Context(), userId)
	if err != nil {
		a.log.Error().Err(err).Int("user", userId).Msg("list user rooms")
		errResp := fromRoomError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, server.RoomList{Rooms: rooms})
}

func (a *App) getInvitations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	invitations, err := a.srv.Invitations(r.Context(), userId)
	if err != nil {
		a.log.Error().Err(err).Int("user", userId).Msg("list invitations")
		errResp := fromRoomError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, server.InvitationList{Invitations: invitations})
}

// serveWs upgrades the request to a coordinator connection. Tokens are
// optional: a request without one joins as an anonymous connection.
func (a *App) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, errResp := a.identify(r)
	if errResp != nil {
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(a.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug().Err(err).Msg("error upgrading connection")
		return
	}

	limiter := rate.NewLimiter(rate.Limit(a.eventRate), a.eventBurst)
	client := server.NewClient(conn, a.srv, a.log, userId, limiter)
	client.Serve(context.WithoutCancel(r.Context()))
}
