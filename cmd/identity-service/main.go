package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tasknotify/project/internal/app/identity"
	"github.com/tasknotify/project/internal/platform/auth"
	"github.com/tasknotify/project/internal/platform/bootstrap"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/server"
	"github.com/urfave/cli/v2"
)

var options = config.Options{
	Service:     "identity-service",
	DefaultAddr: ":5001",
	Required:    []string{config.KeyDatabaseURL, config.KeyJWTSecret},
}

func main() {
	app := &cli.App{
		Name:  "identity-service",
		Usage: "User registration, login and directory",
		Flags: bootstrap.Flags(),
		Commands: []*cli.Command{
			{Name: "serve", Usage: "Start the HTTP server", Action: runServe},
			{Name: "migrate", Usage: "Apply identity store migrations and exit", Action: runMigrate},
		},
		Action: runServe,
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Load(c, options)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.Config, rt.Logger

	tokens, err := auth.NewManager(cfg.JWTSecret, auth.DefaultTTL)
	if err != nil {
		return err
	}

	pool, err := rt.OpenStore(ctx, identity.Migrations())
	if err != nil {
		return err
	}
	defer pool.Close()

	service := identity.NewService(identity.NewPostgresRepository(pool), tokens)
	router := server.NewRouter(cfg.Service, logger, server.Check{Name: "postgres", Fn: pool.Ping})
	identity.NewHandler(service, logger).Routes(router)

	return server.Run(ctx, cfg.Service, cfg.HTTPAddr, router, cfg.ShutdownTimeout, logger)
}

func runMigrate(c *cli.Context) error {
	opts := options
	opts.Required = []string{config.KeyDatabaseURL}
	rt, err := bootstrap.Load(c, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	pool, err := rt.OpenStore(c.Context, identity.Migrations())
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}
