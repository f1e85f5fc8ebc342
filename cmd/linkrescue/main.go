package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"linkrescue/internal/config"
)

const usage = `usage:
  linkrescue serve                 run the relay API
  linkrescue check [flags] <url>   check the external links of a page

check flags:
  -json          print one JSON result per line
  -fail-on-dead  exit with status 2 if any link is dead
`

var errUsage = errors.New("bad usage")

func main() {
	code := 0
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		switch {
		case errors.Is(err, errUsage):
			fmt.Fprint(os.Stderr, usage)
			code = 64
		case errors.Is(err, errDeadLinks):
			code = 2
		default:
			fmt.Fprintf(os.Stderr, "linkrescue: %v\n", err)
			code = 1
		}
	}
	os.Exit(code)
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Create a context that is canceled on OS signals like SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "serve":
		logger, err := buildLogger(cfg, stdout)
		if err != nil {
			return err
		}
		return serve(ctx, cfg, logger)
	case "check":
		// stdout carries results, so logs go to stderr
		logger, err := buildLogger(cfg, stderr)
		if err != nil {
			return err
		}
		return check(ctx, cfg, logger, args[1:], stdout)
	default:
		return errUsage
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	a.sweeper.Start()
	serverErr := a.server.Start()
	logger.Info("application is running")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, starting graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			a.sweeper.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Duration)
	defer shutdownCancel()

	a.sweeper.Stop()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}
	logger.Info("application shut down gracefully")
	return nil
}

func buildLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), nil
}
