// Package bootstrap wires the ambient pieces every service binary starts with:
// config, logging, tracing and the postgres pool.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/dbpool"
	"github.com/tasknotify/project/internal/platform/logging"
	"github.com/tasknotify/project/internal/platform/migrate"
	"github.com/tasknotify/project/internal/platform/observability"
	"github.com/urfave/cli/v2"
)

const storeReadyTimeout = 30 * time.Second

// Flags are accepted by every binary.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML, JSON or TOML config file",
			EnvVars: []string{"CONFIG_FILE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Log level override (debug, info, warn, error)",
		},
	}
}

type Runtime struct {
	Config config.Config
	Logger *slog.Logger

	shutdownTracer func(context.Context) error
}

// Load reads configuration for the binary and sets up logging and tracing.
func Load(c *cli.Context, opts config.Options) (*Runtime, error) {
	opts.File = c.String("config")
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger := logging.New(cfg.Service, cfg.Env, cfg.LogLevel)

	shutdown, err := observability.InitTracer(c.Context, observability.TracerConfig{
		ServiceName: cfg.Service,
		Env:         cfg.Env,
		Endpoint:    cfg.Otel.Endpoint,
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	return &Runtime{Config: cfg, Logger: logger, shutdownTracer: shutdown}, nil
}

// OpenStore connects to postgres, waits for it and applies migrations.
func (rt *Runtime) OpenStore(ctx context.Context, set migrate.Set) (*pgxpool.Pool, error) {
	pool, err := dbpool.New(ctx, rt.Config.DatabaseURL, rt.Config.DB)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := dbpool.WaitReady(ctx, pool, storeReadyTimeout, rt.Logger); err != nil {
		pool.Close()
		return nil, err
	}
	if err := migrate.Up(ctx, pool, set); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (rt *Runtime) Close() {
	if rt.shutdownTracer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.shutdownTracer(ctx); err != nil {
		rt.Logger.Warn("tracer shutdown failed", "error", err)
	}
}
