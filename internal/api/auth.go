package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/npezzotti/go-huddle/internal/auth"
)

const tokenCookieKey = "token"

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

// tokenFromRequest looks for a token in the cookie, the Authorization
// header and the "token" query parameter, in that order. Browsers cannot
// set headers on websocket upgrades, hence the query parameter.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// identify authenticates r. A request without a token is anonymous and
// yields 0 with no error.
func (a *App) identify(r *http.Request) (int, *ApiError) {
	token := tokenFromRequest(r)
	if token == "" {
		return 0, nil
	}

	id, err := a.auth.Authenticate(token)
	if err != nil {
		if errors.Is(err, auth.ErrInactiveUser) {
			return 0, NewForbiddenError()
		}
		a.log.Debug().Err(err).Msg("failed to authenticate token")
		return 0, NewUnauthorizedError()
	}

	return id.UserId, nil
}

func (a *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId, errResp := a.identify(r)
		if errResp == nil && userId == 0 {
			errResp = NewUnauthorizedError()
		}
		if errResp != nil {
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}
