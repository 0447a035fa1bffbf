package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/taskd/internal/config"
	"github.com/haasonsaas/taskd/internal/daemon"
)

// buildServiceCmd creates the "service" command group, installing and
// inspecting a user-level systemd/launchd/Task Scheduler entry that
// runs "taskd serve" under the current platform's service manager.
func buildServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and inspect taskd as a user-level service",
	}
	cmd.AddCommand(buildServiceInstallCmd(), buildServiceUninstallCmd(), buildServiceStatusCmd())
	return cmd
}

func serviceEnv() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}

func buildServiceInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a user-level service that runs \"taskd serve\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := daemon.GetServiceManager()
			if mgr == nil {
				return fmt.Errorf("no service manager available for this platform")
			}

			// Load and validate the config up front: a service installed
			// against a config that fails to parse would just crash-loop
			// under the service manager with no one watching.
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable path: %w", err)
			}
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}

			// Anchor the service's state dir (logs, generated unit/plist
			// scripts) alongside the SQLite file this config actually
			// points at, rather than the package default of ~/.taskd --
			// a profile running against a non-default --database-path
			// should not have its service artifacts split across two
			// directories.
			env := serviceEnv()
			if _, ok := env[daemon.EnvTaskdStateDir]; !ok {
				if dbDir := filepath.Dir(cfg.Database.Path); dbDir != "." {
					env[daemon.EnvTaskdStateDir] = dbDir
				}
			}
			if _, ok := env[daemon.EnvTaskdServiceVersion]; !ok && version != "dev" {
				env[daemon.EnvTaskdServiceVersion] = version
			}

			result, err := mgr.Install(daemon.InstallOptions{
				Env:              env,
				ProgramArguments: []string{exe, "serve", "--config", configPath},
				WorkingDirectory: wd,
				Environment: map[string]string{
					"TASKD_CONFIG":          configPath,
					daemon.EnvTaskdStateDir: env[daemon.EnvTaskdStateDir],
				},
			})
			if err != nil {
				return fmt.Errorf("install service: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service file written: %s\n", result.Path)
			return nil
		},
	}
	return cmd
}

func buildServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user-level service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := daemon.GetServiceManager()
			if mgr == nil {
				return fmt.Errorf("no service manager available for this platform")
			}
			if err := mgr.Uninstall(serviceEnv()); err != nil {
				return fmt.Errorf("uninstall service: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Service uninstalled.")
			return nil
		},
	}
}

func buildServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the user-level service's runtime status",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := daemon.GetServiceManager()
			if mgr == nil {
				return fmt.Errorf("no service manager available for this platform")
			}
			env := serviceEnv()
			installed, err := mgr.IsInstalled(env)
			if err != nil {
				return fmt.Errorf("check install status: %w", err)
			}
			out := cmd.OutOrStdout()
			if !installed {
				fmt.Fprintln(out, "Service is not installed.")
				return nil
			}
			rt, err := mgr.Runtime(env)
			if err != nil {
				return fmt.Errorf("read runtime status: %w", err)
			}
			fmt.Fprintf(out, "label:  %s\n", mgr.Label())
			fmt.Fprintf(out, "status: %s\n", rt.Status)
			if rt.PID != 0 {
				fmt.Fprintf(out, "pid:    %d\n", rt.PID)
			}
			if rt.Detail != "" {
				fmt.Fprintf(out, "detail: %s\n", rt.Detail)
			}
			return nil
		},
	}
}
