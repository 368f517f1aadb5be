package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/fanout"
	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/postgres"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-relay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.MessageStore
	fanout          core.Fanout
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. Store and
// fan-out connections are opened here so misconfiguration fails at startup.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("message store initialized")

	fan, err := openFanout(ctx, cfg.Fanout, cfg.Worker.ID, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init fanout: %w", err)
	}
	logger.Info().Str("driver", cfg.Fanout.Driver).Msg("fan-out initialized")

	tokens, err := resumeTokens(cfg.Recovery, logger)
	if err != nil {
		_ = fan.Close()
		_ = st.Close()
		return nil, err
	}

	hub := core.NewHub(st, fan, hubOptions(cfg), logger)

	server, err := transporthttp.NewServer(hub, st, cfg, tokens, logger)
	if err != nil {
		_ = fan.Close()
		_ = st.Close()
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		fanout:          fan,
		log:             logger,
	}, nil
}

func hubOptions(cfg *config.Config) core.Options {
	return core.Options{
		DefaultRoom:     cfg.Chat.DefaultRoom,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		ReplayBatch:     cfg.Chat.ReplayBatch,
		WriteTimeout:    cfg.Chat.WriteTimeout,
		RecoveryEnabled: cfg.Recovery.Enabled,
		MaxDisconnect:   cfg.Recovery.MaxDisconnect,
		ParkBuffer:      cfg.Recovery.Buffer,
		SweepInterval:   cfg.Recovery.SweepInterval,
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.MessageStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openFanout(ctx context.Context, cfg config.FanoutConfig, workerID string, logger *zerolog.Logger) (core.Fanout, error) {
	switch cfg.Driver {
	case "local":
		return fanout.NewLocal(), nil
	case "redis":
		return fanout.NewRedis(ctx, cfg.RedisURL, cfg.Prefix, workerID, logger)
	case "nats":
		return fanout.NewNATS(cfg.NATSURL, cfg.Prefix, workerID, logger)
	default:
		return nil, fmt.Errorf("unknown fanout driver %q", cfg.Driver)
	}
}

// resumeTokens returns nil when recovery is disabled.
func resumeTokens(cfg config.RecoveryConfig, logger *zerolog.Logger) (*auth.JWTConfig, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		generated, err := auth.RandomSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		logger.Warn().Msg("recovery.secret not set, resume tokens will not survive a restart")
	}

	return &auth.JWTConfig{
		Secret:   secret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		TTL:      cfg.TokenTTL,
	}, nil
}

// Run starts the hub and the HTTP server and blocks until context
// cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	// Hijacked websocket connections are not closed by Shutdown; deriving
	// request contexts from gctx ends them.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes the fan-out, database and other resources.
func (a *App) cleanup() {
	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close fan-out")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
