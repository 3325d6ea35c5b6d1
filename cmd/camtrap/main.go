package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"camtrap/internal/cli"
	"camtrap/internal/config"
	"camtrap/internal/logging"
	"camtrap/internal/pipeline"
	"camtrap/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.Paths.DatabasePath, err)
	}
	defer store.Close()

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, cfg)
	defer pipe.Stop()

	root := cli.NewRoot(pipe, cfg, logger, store)
	return cli.NewRootCmd(root).ExecuteContext(ctx)
}
