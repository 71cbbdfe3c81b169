package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tasknotify/project/internal/app/tasks"
	"github.com/tasknotify/project/internal/platform/auth"
	"github.com/tasknotify/project/internal/platform/bootstrap"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/natsutil"
	"github.com/tasknotify/project/internal/platform/server"
	"github.com/urfave/cli/v2"
)

var options = config.Options{
	Service:     "task-service",
	DefaultAddr: ":5002",
	Required:    []string{config.KeyDatabaseURL, config.KeyJWTSecret},
}

func main() {
	app := &cli.App{
		Name:  "task-service",
		Usage: "Task CRUD with lifecycle event publishing",
		Flags: bootstrap.Flags(),
		Commands: []*cli.Command{
			{Name: "serve", Usage: "Start the HTTP server and outbox dispatcher", Action: runServe},
			{Name: "migrate", Usage: "Apply task store migrations and exit", Action: runMigrate},
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

	pool, err := rt.OpenStore(ctx, tasks.Migrations())
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := tasks.NewPostgresRepository(pool)

	broker := natsutil.New(natsutil.Options{
		URL:        cfg.NATSURL,
		Name:       cfg.Service,
		RetryDelay: cfg.Broker.RetryDelay,
		Logger:     logger,
	})
	go func() {
		if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("broker client stopped", "error", err)
		}
	}()

	hostname, _ := os.Hostname()
	dispatcher := tasks.NewDispatcher(repo, broker, logger, fmt.Sprintf("%s-%d", hostname, os.Getpid()), cfg.Outbox)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox dispatcher stopped", "error", err)
		}
	}()

	service := tasks.NewService(repo, dispatcher, logger, cfg.Broker.PublishTimeout)
	router := server.NewRouter(cfg.Service, logger,
		server.Check{Name: "postgres", Fn: pool.Ping},
		server.Check{Name: "nats", Fn: func(context.Context) error { return broker.Ready() }},
	)
	tasks.NewHandler(service, tokens, logger).Routes(router)

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

	pool, err := rt.OpenStore(c.Context, tasks.Migrations())
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}
