// Package main provides the CLI entry point for taskd, a local daemon
// that delegates prompts to an external binary and tracks each run as a
// task with retries, dependencies, schedules, and captured output.
//
// # Basic Usage
//
// Start the daemon:
//
//	taskd serve --config taskd.yaml
//
// Delegate a task:
//
//	taskd delegate "refactor the auth package" --dir /repo
//
// Check status:
//
//	taskd status [task-id]
//
// # Environment Variables
//
//   - TASKD_CONFIG: path to the configuration file (default: ./taskd.yaml)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskd",
		Short: "taskd - local task delegation daemon",
		Long: `taskd delegates prompts to a worker binary and tracks each run as a
task: queued, running, completed, failed, or cancelled.

Every subcommand (besides serve) is a short-lived client against the same
SQLite store the running daemon uses; there is no separate RPC transport.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDelegateCmd(),
		buildStatusCmd(),
		buildLogsCmd(),
		buildCancelCmd(),
		buildRetryCmd(),
		buildResumeCmd(),
		buildScheduleCmd(),
		buildServiceCmd(),
	)

	return rootCmd
}

var configPath string

func defaultConfigPath() string {
	if p := os.Getenv("TASKD_CONFIG"); p != "" {
		return p
	}
	return "taskd.yaml"
}
