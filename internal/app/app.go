package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/auth"
	"github.com/vovakirdan/chatterly-relay/internal/config"
	"github.com/vovakirdan/chatterly-relay/internal/core"
	"github.com/vovakirdan/chatterly-relay/internal/push"
	"github.com/vovakirdan/chatterly-relay/internal/store"
	"github.com/vovakirdan/chatterly-relay/internal/store/cache"
	"github.com/vovakirdan/chatterly-relay/internal/store/postgres"
	"github.com/vovakirdan/chatterly-relay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatterly-relay/internal/transport/http"
)

// App wires together storage, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

type migratingStore interface {
	store.Store
	Migrate(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (migratingStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Migrate opens the configured backend, applies its schema and closes it.
func Migrate(ctx context.Context, cfg config.StoreConfig) error {
	st, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	return errors.Join(st.Migrate(ctx), st.Close())
}

// OpenStore opens and migrates the configured backend, wrapping it with the
// Redis chat cache when one is configured.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store.Store, error) {
	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := backend.Migrate(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store initialized")

	if cfg.Cache.RedisAddr == "" {
		return backend, nil
	}
	client, err := cache.Dial(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("connect chat cache: %w", err)
	}
	logger.Info().Str("redis_addr", cfg.Cache.RedisAddr).Dur("ttl", cfg.Cache.TTL).Msg("chat cache enabled")
	return cache.New(backend, client, cfg.Cache.TTL, logger), nil
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}

	registry := core.NewRegistry()

	var pusher core.Pusher
	if cfg.Push.Enabled {
		gateway := push.NewExpoGateway(cfg.Push.Endpoint, cfg.Push.AccessToken, cfg.Push.Timeout)
		pusher = push.NewDispatcher(st, registry, gateway, cfg.Push.ChunkSize, cfg.Push.Concurrency, logger)
		logger.Info().Str("endpoint", cfg.Push.Endpoint).Msg("push notifications enabled")
	}

	hub := core.NewHub(st, registry, pusher, logger)
	server := transporthttp.NewServer(hub, auth.NewAuthenticator(jwtConfig), cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	// The hub outlives the listener so that offline transitions from closing
	// connections are still persisted.
	stop := func() {
		stopHub()
		<-hubDone
		a.cleanup()
	}

	select {
	case err := <-serverErr:
		stop()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			stop()
			return err
		}

		stop()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
