// Command dashgate is the HTTP edge gateway for the dashboard GUI: it
// serves the static GUI bundle and proxies the job-queue and
// process-supervisor dashboards.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/dashgate/dashgate/config"
	"github.com/dashgate/dashgate/server"
	"github.com/dashgate/dashgate/telemetry"
)

var version = "dev"

type cli struct {
	Config  string `help:"Path to a YAML configuration file." short:"c" type:"path"`
	Listen  string `help:"Listen address override." placeholder:"ADDR"`
	DocRoot string `help:"Document root override." placeholder:"DIR"`

	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text"`

	OTLPEndpoint string `help:"OTLP gRPC endpoint for metric export." placeholder:"HOST:PORT"`
	NoPrometheus bool   `help:"Disable the Prometheus /metrics endpoint."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("dashgate"),
		kong.Description("Reverse proxy and static file gateway for the dashboard GUI."),
		kong.Vars{"version": version},
	)
	kctx.FatalIfErrorf(run(&flags))
}

func run(flags *cli) error {
	logger, err := newLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg := config.Default()
	if flags.Config != "" {
		cfg, err = config.Load(flags.Config)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}
	if flags.DocRoot != "" {
		cfg.DocRoot = flags.DocRoot
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "dashgate",
		ServiceVersion:   version,
		OTLPEndpoint:     flags.OTLPEndpoint,
		EnablePrometheus: !flags.NoPrometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newLogger builds the process logger: tinted text for humans, JSON for
// log collectors.
func newLogger(level, format string) (*slog.Logger, error) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: lv})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}
