// Package config loads and validates taskd's daemon configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration for the taskd daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Resources ResourcesConfig `yaml:"resources"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// WorkerConfig names the delegated binary the kernel forks for every task.
// taskd treats it as opaque: the prompt is its sole positional argument.
type WorkerConfig struct {
	// Binary is the executable path or PATH-resolvable name to exec for
	// every task. Required; there is no sane default.
	Binary string `yaml:"binary"`

	// KillGrace bounds the delay between SIGTERM and SIGKILL when a task
	// is cancelled or times out.
	KillGrace time.Duration `yaml:"kill_grace"`
}

// ServerConfig controls the daemon's listening surface.
type ServerConfig struct {
	// SocketPath is the unix domain socket the kernel listens on for
	// taskd CLI connections. Defaults to $XDG_RUNTIME_DIR/taskd/taskd.sock.
	SocketPath string `yaml:"socket_path"`

	// MetricsPort serves Prometheus metrics. 0 disables the metrics listener.
	MetricsPort int `yaml:"metrics_port"`

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// workers to finish before forcing termination.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the embedded state store.
type DatabaseConfig struct {
	// Path is the filesystem path to the SQLite database file.
	// Defaults to $XDG_STATE_HOME/taskd/tasks.db.
	Path string `yaml:"path"`

	// MaxOpenConns bounds concurrent connections to the embedded database.
	MaxOpenConns int `yaml:"max_open_conns"`

	// BusyTimeout is how long a write waits on SQLITE_BUSY before failing.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// ResourcesConfig bounds the resource monitor's admission behavior.
type ResourcesConfig struct {
	// MaxConcurrentWorkers caps the number of simultaneously running workers.
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers"`

	// CPUThresholdPercent rejects new spawns once system CPU utilization
	// exceeds this percentage.
	CPUThresholdPercent float64 `yaml:"cpu_threshold_percent"`

	// MemoryThresholdPercent rejects new spawns once system memory
	// utilization exceeds this percentage.
	MemoryThresholdPercent float64 `yaml:"memory_threshold_percent"`

	// SampleInterval is how often the resource monitor samples CPU/memory.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// SpawnSettleWindow is the minimum gap enforced between consecutive
	// worker spawns, guarding against fork-bomb-like delegation bursts.
	SpawnSettleWindow time.Duration `yaml:"spawn_settle_window"`
}

// SchedulerConfig controls the schedule executor's tick loop.
type SchedulerConfig struct {
	// Enabled toggles the cron/one-time schedule executor.
	Enabled bool `yaml:"enabled"`

	// TickInterval is how often the executor checks for due schedules.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MissedRunPolicy is the default applied when a schedule's run was
	// missed while the daemon was down: "skip", "catchup", or "fail".
	MissedRunPolicy string `yaml:"missed_run_policy"`

	// DefaultTimeout bounds task execution when a schedule does not
	// specify its own timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// OutputConfig bounds captured worker stdout/stderr.
type OutputConfig struct {
	// MaxBytesPerStream caps bytes retained per (task, stream) buffer.
	MaxBytesPerStream int64 `yaml:"max_bytes_per_stream"`

	// RetainCompletedTasks is how many completed tasks' output buffers are
	// kept before LRU eviction.
	RetainCompletedTasks int `yaml:"retain_completed_tasks"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, validates and defaults the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyResourcesDefaults(&cfg.Resources)
	applySchedulerDefaults(&cfg.Scheduler)
	applyOutputDefaults(&cfg.Output)
	applyLoggingDefaults(&cfg.Logging)
	applyWorkerDefaults(&cfg.Worker)
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.KillGrace == 0 {
		cfg.KillGrace = 5 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = defaultSocketPath()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Path == "" {
		cfg.Path = defaultDatabasePath()
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 1 // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
}

func applyResourcesDefaults(cfg *ResourcesConfig) {
	if cfg.MaxConcurrentWorkers == 0 {
		cfg.MaxConcurrentWorkers = 4
	}
	if cfg.CPUThresholdPercent == 0 {
		cfg.CPUThresholdPercent = 90
	}
	if cfg.MemoryThresholdPercent == 0 {
		cfg.MemoryThresholdPercent = 90
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = 2 * time.Second
	}
	if cfg.SpawnSettleWindow == 0 {
		cfg.SpawnSettleWindow = 500 * time.Millisecond
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Second
	}
	if cfg.MissedRunPolicy == "" {
		cfg.MissedRunPolicy = "skip"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
}

func applyOutputDefaults(cfg *OutputConfig) {
	if cfg.MaxBytesPerStream == 0 {
		cfg.MaxBytesPerStream = 2 << 20 // 2MiB
	}
	if cfg.RetainCompletedTasks == 0 {
		cfg.RetainCompletedTasks = 10
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Scheduler.MissedRunPolicy) {
	case "skip", "catchup", "fail":
	default:
		return fmt.Errorf("scheduler.missed_run_policy must be one of skip, catchup, fail, got %q", cfg.Scheduler.MissedRunPolicy)
	}
	if cfg.Resources.MaxConcurrentWorkers <= 0 {
		return fmt.Errorf("resources.max_concurrent_workers must be positive")
	}
	if cfg.Resources.CPUThresholdPercent <= 0 || cfg.Resources.CPUThresholdPercent > 100 {
		return fmt.Errorf("resources.cpu_threshold_percent must be in (0, 100]")
	}
	if cfg.Resources.MemoryThresholdPercent <= 0 || cfg.Resources.MemoryThresholdPercent > 100 {
		return fmt.Errorf("resources.memory_threshold_percent must be in (0, 100]")
	}
	if cfg.Output.MaxBytesPerStream <= 0 {
		return fmt.Errorf("output.max_bytes_per_stream must be positive")
	}
	if strings.TrimSpace(cfg.Worker.Binary) == "" {
		return fmt.Errorf("worker.binary must be set")
	}
	return nil
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/taskd/taskd.sock"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/taskd.sock"
	}
	return home + "/.local/run/taskd/taskd.sock"
}

func defaultDatabasePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir + "/taskd/tasks.db"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./tasks.db"
	}
	return home + "/.local/state/taskd/tasks.db"
}
