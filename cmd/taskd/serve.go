package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/taskd/internal/config"
	"github.com/haasonsaas/taskd/internal/kernel"
)

// buildServeCmd creates the "serve" command, the only subcommand that
// runs until signalled rather than performing one operation and exiting.
func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the taskd daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	k, err := kernel.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to wire kernel: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := k.Start(ctx); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}
	k.Logger.Info(ctx, "taskd started", "database", cfg.Database.Path, "metrics_port", cfg.Server.MetricsPort)

	<-ctx.Done()
	k.Logger.Info(ctx, "shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := k.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	k.Logger.Info(ctx, "taskd stopped gracefully")
	return nil
}
