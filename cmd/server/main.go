package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-relay/internal/app"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wirechat-relay",
		Short:         "Room-scoped chat relay with durable history and reconnect recovery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relay worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}

			bootLog := log.New("info", "console")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.Log.Level, cfg.Log.Format)
			workerLog := logger.With().Str("worker", cfg.Worker.ID).Logger()
			workerLog.Info().Str("config", path).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, &workerLog)
			if err != nil {
				return err
			}

			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				workerLog.Error().Err(err).Msg("server exited with error")
				return err
			}
			workerLog.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to config.yaml")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.IntVar(&overrides.Worker.PortOffset, "port-offset", 0, "added to the listen port, one per worker")
	flags.StringVar(&overrides.Worker.ID, "worker-id", "", "worker identifier used in logs and fan-out envelopes")
	flags.StringVar(&overrides.Store.Driver, "store-driver", "", "message store: sqlite or postgres")
	flags.StringVar(&overrides.Store.Path, "store-path", "", "sqlite database path")
	flags.StringVar(&overrides.Store.DSN, "store-dsn", "", "postgres connection string")
	flags.StringVar(&overrides.Fanout.Driver, "fanout-driver", "", "fan-out: local, redis or nats")
	flags.StringVar(&overrides.Fanout.RedisURL, "redis-url", "", "redis URL for the redis fan-out")
	flags.StringVar(&overrides.Fanout.NATSURL, "nats-url", "", "NATS URL for the nats fan-out")
	flags.StringVar(&overrides.Log.Level, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&overrides.Log.Format, "log-format", "", "console or json")

	return cmd
}
