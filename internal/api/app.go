package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-huddle/internal/auth"
	"github.com/npezzotti/go-huddle/internal/config"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/server"
	"github.com/rs/zerolog"
)

type App struct {
	log            zerolog.Logger
	db             database.Repository
	srv            *server.Server
	auth           *auth.Authenticator
	http           *http.Server
	allowedOrigins []string
	eventRate      float64
	eventBurst     int
}

// NewApp registers the HTTP routes on mux. mux may already carry routes
// mounted by other components, such as /metrics.
func NewApp(mux *http.ServeMux, logger zerolog.Logger, srv *server.Server, db database.Repository, cfg *config.Config) *App {
	a := &App{
		log:            logger.With().Str("component", "http").Logger(),
		db:             db,
		srv:            srv,
		auth:           auth.NewAuthenticator(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
		eventRate:      cfg.EventRate,
		eventBurst:     cfg.EventBurst,
	}

	mux.HandleFunc("GET /healthz", a.healthz)
	mux.Handle("GET /api/rooms", a.authMiddleware(a.getUserRooms))
	mux.Handle("GET /api/invitations", a.authMiddleware(a.getInvitations))
	mux.HandleFunc("GET /ws", a.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	a.http = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return a
}

func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Start() error {
	a.log.Info().Str("addr", a.http.Addr).Msg("starting server")
	return a.http.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info().Msg("shutting down HTTP server")
	if err := a.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
