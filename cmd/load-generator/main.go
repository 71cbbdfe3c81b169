package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tasknotify/project/internal/app/loadgen"
	"github.com/tasknotify/project/internal/platform/logging"
	"github.com/tasknotify/project/internal/platform/server"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "load-generator",
		Usage: "Drive the gateway with task traffic and measure notification delivery",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "gateway", Value: "http://localhost:5000", EnvVars: []string{"LOADGEN_GATEWAY_URL"}, Usage: "Gateway base URL"},
			&cli.IntFlag{Name: "employees", Value: 50, EnvVars: []string{"LOADGEN_EMPLOYEES"}, Usage: "Number of employee accounts"},
			&cli.IntFlag{Name: "setup-concurrency", Value: 10, EnvVars: []string{"LOADGEN_SETUP_CONCURRENCY"}},
			&cli.DurationFlag{Name: "startup-wait", Value: 2 * time.Minute, EnvVars: []string{"LOADGEN_STARTUP_WAIT"}},
			&cli.DurationFlag{Name: "duration", Value: 10 * time.Minute, EnvVars: []string{"LOADGEN_DURATION"}, Usage: "Run time, 0 runs until interrupted"},
			&cli.Float64Flag{Name: "rate", Value: 5, EnvVars: []string{"LOADGEN_ACTIONS_PER_SECOND"}, Usage: "Task actions per second"},
			&cli.DurationFlag{Name: "poll-interval", Value: time.Second, EnvVars: []string{"LOADGEN_POLL_INTERVAL"}},
			&cli.DurationFlag{Name: "request-timeout", Value: 10 * time.Second, EnvVars: []string{"LOADGEN_REQUEST_TIMEOUT"}},
			&cli.StringFlag{Name: "password", Value: "load-test-pass-123", EnvVars: []string{"LOADGEN_PASSWORD"}},
			&cli.StringFlag{Name: "metrics-addr", Value: ":9099", EnvVars: []string{"LOADGEN_METRICS_ADDR"}},
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Value: "info", EnvVars: []string{"LOG_LEVEL"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	baseCtx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(baseCtx, d)
		defer cancel()
	}

	logger := logging.New("load-generator", "development", c.String("log-level"))

	runner, err := loadgen.New(loadgen.Config{
		GatewayURL:       c.String("gateway"),
		Employees:        c.Int("employees"),
		SetupConcurrency: c.Int("setup-concurrency"),
		StartupWait:      c.Duration("startup-wait"),
		ActionsPerSecond: c.Float64("rate"),
		PollInterval:     c.Duration("poll-interval"),
		RequestTimeout:   c.Duration("request-timeout"),
		Password:         c.String("password"),
	}, logger)
	if err != nil {
		return err
	}

	go func() {
		if err := server.Run(baseCtx, "load-generator", c.String("metrics-addr"), server.NewRouter("load-generator", logger), 5*time.Second, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return runner.Run(ctx)
}
