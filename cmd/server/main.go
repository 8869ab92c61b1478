package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-huddle/internal/api"
	"github.com/npezzotti/go-huddle/internal/auth"
	"github.com/npezzotti/go-huddle/internal/config"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/logger"
	"github.com/npezzotti/go-huddle/internal/server"
	"github.com/npezzotti/go-huddle/internal/stats"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "huddle:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	db, err := openRepository(log, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("db close")
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	coordinator := server.NewServer(log, db, statsUpdater, auth.NewPasswordHasher(cfg.PasswordCost), server.Options{
		Capacity:      cfg.RoomCapacity,
		InvitationTTL: cfg.InvitationTTL,
	})
	app := api.NewApp(mux, log, coordinator, db, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("coordinator shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// openRepository connects to PostgreSQL and migrates it, or falls back to
// in-memory storage when no DSN is configured.
func openRepository(log zerolog.Logger, dsn string) (database.Repository, error) {
	if dsn == "" {
		log.Warn().Msg("no database configured, using in-memory storage")
		return database.NewMemoryRepository(), nil
	}

	pg, err := database.NewPgRepository(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := database.Migrate(pg.DB()); err != nil {
		pg.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	return pg, nil
}
