package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pzron/ecom-sub001/internal/cli"
	"github.com/pzron/ecom-sub001/internal/config"
	"github.com/pzron/ecom-sub001/pkg/logger"
	"github.com/pzron/ecom-sub001/pkg/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.ExitCommandError
	}

	// Logs go to stderr so stdout stays parseable.
	log := logger.NewWithWriter("shopsync", cfg.LogLevel, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		log.Warn("tracing disabled", slog.String("error", err.Error()))
		shutdown = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdown(flushCtx)
	}()

	cmd := cli.NewRootCommand(cli.ConfigOpener(cfg, log))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
