package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/tasknotify/project/internal/app/notifications"
	"github.com/tasknotify/project/internal/platform/bootstrap"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/natsutil"
	"github.com/tasknotify/project/internal/platform/server"
	"github.com/urfave/cli/v2"
)

var options = config.Options{
	Service:     "notification-service",
	DefaultAddr: ":5003",
	Required:    []string{config.KeyDatabaseURL},
}

func main() {
	app := &cli.App{
		Name:  "notification-service",
		Usage: "Consumes task lifecycle events and serves user notifications",
		Flags: bootstrap.Flags(),
		Commands: []*cli.Command{
			{Name: "serve", Usage: "Start the consumer and HTTP server", Action: runServe},
			{Name: "migrate", Usage: "Apply notification store migrations and exit", Action: runMigrate},
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

	pool, err := rt.OpenStore(ctx, notifications.Migrations())
	if err != nil {
		return err
	}
	defer pool.Close()

	service := notifications.NewService(notifications.NewPostgresRepository(pool))
	consumer := notifications.NewConsumer(service, logger, cfg.Consumer)

	broker := natsutil.New(natsutil.Options{
		URL:        cfg.NATSURL,
		Name:       cfg.Service,
		RetryDelay: cfg.Broker.RetryDelay,
		Logger:     logger,
	})
	broker.OnConnect(func(js nats.JetStreamContext) error {
		return consumer.Subscribe(js)
	})
	go func() {
		if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("broker client stopped", "error", err)
		}
	}()

	router := server.NewRouter(cfg.Service, logger,
		server.Check{Name: "postgres", Fn: pool.Ping},
		server.Check{Name: "nats", Fn: func(context.Context) error { return broker.Ready() }},
	)
	notifications.NewHandler(service, logger).Routes(router)

	return server.Run(ctx, cfg.Service, cfg.HTTPAddr, router, cfg.ShutdownTimeout, logger)
}

func runMigrate(c *cli.Context) error {
	rt, err := bootstrap.Load(c, options)
	if err != nil {
		return err
	}
	defer rt.Close()

	pool, err := rt.OpenStore(c.Context, notifications.Migrations())
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}
