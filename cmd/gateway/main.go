package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tasknotify/project/internal/app/gateway"
	"github.com/tasknotify/project/internal/platform/auth"
	"github.com/tasknotify/project/internal/platform/bootstrap"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/server"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:   "gateway",
		Usage:  "Authenticating reverse proxy in front of the task services",
		Flags:  bootstrap.Flags(),
		Action: runServe,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "Start the gateway", Action: runServe},
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Load(c, config.Options{
		Service:     "gateway",
		DefaultAddr: ":5000",
		Required:    []string{config.KeyJWTSecret},
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.Config, rt.Logger

	tokens, err := auth.NewManager(cfg.JWTSecret, auth.DefaultTTL)
	if err != nil {
		return err
	}
	gw, err := gateway.New(cfg, tokens, logger)
	if err != nil {
		return err
	}
	for _, r := range gw.Routes {
		logger.Info("route", "name", r.Name, "prefix", r.Prefix, "target", r.Target.String(), "public", r.Public)
	}

	return server.Run(ctx, cfg.Service, cfg.HTTPAddr, gw.Handler(), cfg.ShutdownTimeout, logger)
}
