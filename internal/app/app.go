package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/simserver"
)

// SimConfig holds simulator server settings.
type SimConfig struct {
	Addr            string
	DatabasePath    string
	JWTSecret       string
	ShutdownTimeout time.Duration
}

// App wires the simulator store and transport together.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           *simserver.Store
	log             *zerolog.Logger
}

// New constructs the simulator application.
func New(cfg SimConfig, logger *zerolog.Logger) (*App, error) {
	st, err := simserver.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtCfg := &auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: "wirechat-sim",
		TTL:    24 * time.Hour,
	}

	srv := simserver.NewServer(st, jwtCfg, logger)

	return &App{
		server: &stdhttp.Server{
			Addr:              cfg.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down simulator")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the store.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
