// Command stagehand runs a pipeline described by a YAML or JSON file.
//
//	stagehand [--timeout 120] [--debug] [--log-dir logs] [--metrics-addr :9090] pipeline.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/petrijr/stagehand"
	"github.com/petrijr/stagehand/internal/logsink"
	"github.com/petrijr/stagehand/internal/metrics"
)

const shutdownGrace = 5 * time.Second

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "stagehand:", err)
		os.Exit(1)
	}
}

func newApp(console io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "stagehand",
		Usage:     "run a dataflow pipeline",
		ArgsUsage: "<pipeline.yaml>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   120,
				Usage:   "seconds to wait for every stage to become ready",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "show every log record on the console",
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Value: "logs",
				Usage: "directory for the rotated log file",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve /metrics and /healthz on this address",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd, console)
		},
	}
}

func run(ctx context.Context, cmd *cli.Command, console io.Writer) error {
	if cmd.Args().Len() != 1 {
		return errors.New("expected exactly one pipeline config path")
	}
	path := cmd.Args().First()

	cfg, err := stagehand.LoadConfig(path)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}

	queue := logsink.NewQueue(logsink.DefaultQueueSize)
	sinkOpts := logsink.DefaultOptions()
	sinkOpts.Dir = cmd.String("log-dir")
	sinkOpts.Debug = cmd.Bool("debug")
	sinkOpts.Console = console
	sink, err := logsink.NewSink(queue, sinkOpts)
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}
	sink.Start()
	defer func() {
		queue.Close()
		sink.Wait(shutdownGrace)
	}()

	base := slog.New(logsink.NewHandler(queue, level))
	slog.SetDefault(base)
	logger := base.With(slog.String("component", "main"))

	observers := []stagehand.Observer{stagehand.NewLoggingObserver(base)}
	promObserver, err := metrics.NewObserver(metrics.Registry())
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	observers = append(observers, promObserver)

	runner := stagehand.NewLocalRunner(
		stagehand.WithReadyTimeout(time.Duration(cmd.Int("timeout"))*time.Second),
		stagehand.WithLogger(base),
		stagehand.WithObserver(stagehand.NewCompositeObserver(observers...)),
	)

	if addr := cmd.String("metrics-addr"); addr != "" {
		status := metrics.NewServer(addr, metrics.Registry(), runner.Workers, base)
		if err := status.Start(); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = status.Shutdown(shutdownCtx)
		}()
	}

	logger.InfoContext(ctx, "starting",
		slog.String("config", path),
		slog.Any("stages", cfg.Keys()),
		slog.String("log_file", sink.Path()),
	)

	if err := runner.Run(ctx, cfg); err != nil {
		logger.ErrorContext(ctx, "pipeline_failed", slog.Any("error", err))
		return err
	}
	logger.InfoContext(ctx, "exiting")
	return nil
}
