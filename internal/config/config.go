package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete autopilot configuration
type Config struct {
	Plan       PlanConfig       `mapstructure:"plan"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	State      StateConfig      `mapstructure:"state"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Lease      LeaseConfig      `mapstructure:"lease"`
	Completion CompletionConfig `mapstructure:"completion"`
	Activity   ActivityConfig   `mapstructure:"activity"`
	Delegate   DelegateConfig   `mapstructure:"delegate"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PlanConfig locates the plan document
type PlanConfig struct {
	// File is the plan document, relative to the workspace root (default: "plan.yaml")
	File string `mapstructure:"file"`
}

// ProgressConfig controls where task progress is recorded
type ProgressConfig struct {
	// Backend selects the progress store implementation
	// Options: "markdown", "sqlite"
	Backend string `mapstructure:"backend"`
	// File is the Markdown progress document (default: "PROGRESS.md")
	File string `mapstructure:"file"`
	// Database is the SQLite database path, relative to the state directory
	Database string `mapstructure:"database"`
}

// StateConfig controls the orchestrator's private state directory
type StateConfig struct {
	// Dir holds leases, the run lock, logs and the delegate log (default: ".autopilot")
	Dir string `mapstructure:"dir"`
}

// LoopConfig bounds the orchestration loop
type LoopConfig struct {
	// MaxIterations is the number of tasks processed per run, skips included
	MaxIterations int `mapstructure:"max_iterations"`
	// SettleDelayMs is the pause between iterations in milliseconds
	SettleDelayMs int `mapstructure:"settle_delay_ms"`
}

// LeaseConfig controls the steady-state guard that waits for an active lease to clear
type LeaseConfig struct {
	// PollIntervalMs is how often an active lease is re-checked
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// WaitTimeoutSeconds is how long to wait before force-clearing an active lease
	WaitTimeoutSeconds int `mapstructure:"wait_timeout_seconds"`
}

// CompletionConfig controls how the end of a delegated task is detected
type CompletionConfig struct {
	// Strategy selects the detector
	// Options: "signal" (wait for the lease to read completed), "heuristic" (wait for workspace idle)
	Strategy string `mapstructure:"strategy"`
	// TimeoutSeconds is the total budget for one task
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MinimumWaitSeconds is the time after dispatch before completion is considered
	MinimumWaitSeconds int `mapstructure:"minimum_wait_seconds"`
	// PollIntervalMs is the detector's tick
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// IdleThresholdSeconds is the quiet period the heuristic detector treats as done
	IdleThresholdSeconds int `mapstructure:"idle_threshold_seconds"`
}

// ActivityConfig controls workspace activity monitoring
type ActivityConfig struct {
	// Ignore lists glob patterns, relative to the workspace root, whose changes are not activity
	Ignore []string `mapstructure:"ignore"`
	// BufferSize is the capacity of the activity event channel
	BufferSize int `mapstructure:"buffer_size"`
}

// DelegateConfig controls how tasks are handed to the external executor
type DelegateConfig struct {
	// Kind selects the adapter
	// Options: "command", "tmux"
	Kind string `mapstructure:"kind"`
	// Command is the argv started per task; the prompt is appended as the last argument
	Command []string `mapstructure:"command"`
	// PromptOnStdin writes the prompt to the command's stdin instead of argv
	PromptOnStdin bool `mapstructure:"prompt_on_stdin"`
	// TmuxSession is the existing tmux session (or target pane) receiving prompts
	TmuxSession string `mapstructure:"tmux_session"`
	// TmuxSocket is the tmux server socket name; empty uses the default server
	TmuxSocket string `mapstructure:"tmux_socket"`
	// TemplatesFile optionally overrides the built-in prompt templates (YAML: action -> template)
	TemplatesFile string `mapstructure:"templates_file"`
}

// VerifyConfig controls the pre-dispatch idempotency checks
type VerifyConfig struct {
	// Enabled turns the verifier on (default: true)
	Enabled bool `mapstructure:"enabled"`
	// RulesFile is an optional Starlark file defining verify(task)
	RulesFile string `mapstructure:"rules_file"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is active (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level
	// Options: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size before rotation
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
	// Journal also sends records to the systemd journal
	Journal bool `mapstructure:"journal"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Plan: PlanConfig{
			File: "plan.yaml",
		},
		Progress: ProgressConfig{
			Backend:  "markdown",
			File:     "PROGRESS.md",
			Database: "progress.db",
		},
		State: StateConfig{
			Dir: ".autopilot",
		},
		Loop: LoopConfig{
			MaxIterations: 50,
			SettleDelayMs: 2000,
		},
		Lease: LeaseConfig{
			PollIntervalMs:     1000,
			WaitTimeoutSeconds: 300,
		},
		Completion: CompletionConfig{
			Strategy:             "signal",
			TimeoutSeconds:       1800,
			MinimumWaitSeconds:   10,
			PollIntervalMs:       2000,
			IdleThresholdSeconds: 60,
		},
		Activity: ActivityConfig{
			Ignore:     []string{},
			BufferSize: 256,
		},
		Delegate: DelegateConfig{
			Kind:    "command",
			Command: []string{"claude", "-p"},
		},
		Verify: VerifyConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SettleDelay returns the inter-iteration pause as a time.Duration
func (c *LoopConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// PollInterval returns the lease re-check interval as a time.Duration
func (c *LeaseConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// WaitTimeout returns the lease wait budget as a time.Duration
func (c *LeaseConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

// Timeout returns the per-task completion budget as a time.Duration
func (c *CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MinimumWait returns the post-dispatch grace period as a time.Duration
func (c *CompletionConfig) MinimumWait() time.Duration {
	return time.Duration(c.MinimumWaitSeconds) * time.Second
}

// PollInterval returns the detector tick as a time.Duration
func (c *CompletionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// IdleThreshold returns the heuristic quiet period as a time.Duration
func (c *CompletionConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdSeconds) * time.Second
}

// ResolveStateDir returns the state directory as an absolute path under root
// unless it is already absolute. A leading ~/ expands to the home directory.
func (s *StateConfig) ResolveStateDir(root string) string {
	return resolvePath(root, s.Dir, ".autopilot")
}

// ResolvePlanFile returns the plan path resolved against root.
func (p *PlanConfig) ResolvePlanFile(root string) string {
	return resolvePath(root, p.File, "plan.yaml")
}

// ResolveFile returns the Markdown progress path resolved against root.
func (p *ProgressConfig) ResolveFile(root string) string {
	return resolvePath(root, p.File, "PROGRESS.md")
}

// ResolveDatabase returns the SQLite path resolved against the state directory.
func (p *ProgressConfig) ResolveDatabase(stateDir string) string {
	return resolvePath(stateDir, p.Database, "progress.db")
}

func resolvePath(base, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("plan.file", defaults.Plan.File)

	viper.SetDefault("progress.backend", defaults.Progress.Backend)
	viper.SetDefault("progress.file", defaults.Progress.File)
	viper.SetDefault("progress.database", defaults.Progress.Database)

	viper.SetDefault("state.dir", defaults.State.Dir)

	viper.SetDefault("loop.max_iterations", defaults.Loop.MaxIterations)
	viper.SetDefault("loop.settle_delay_ms", defaults.Loop.SettleDelayMs)

	viper.SetDefault("lease.poll_interval_ms", defaults.Lease.PollIntervalMs)
	viper.SetDefault("lease.wait_timeout_seconds", defaults.Lease.WaitTimeoutSeconds)

	viper.SetDefault("completion.strategy", defaults.Completion.Strategy)
	viper.SetDefault("completion.timeout_seconds", defaults.Completion.TimeoutSeconds)
	viper.SetDefault("completion.minimum_wait_seconds", defaults.Completion.MinimumWaitSeconds)
	viper.SetDefault("completion.poll_interval_ms", defaults.Completion.PollIntervalMs)
	viper.SetDefault("completion.idle_threshold_seconds", defaults.Completion.IdleThresholdSeconds)

	viper.SetDefault("activity.ignore", defaults.Activity.Ignore)
	viper.SetDefault("activity.buffer_size", defaults.Activity.BufferSize)

	viper.SetDefault("delegate.kind", defaults.Delegate.Kind)
	viper.SetDefault("delegate.command", defaults.Delegate.Command)
	viper.SetDefault("delegate.prompt_on_stdin", defaults.Delegate.PromptOnStdin)
	viper.SetDefault("delegate.tmux_session", defaults.Delegate.TmuxSession)
	viper.SetDefault("delegate.tmux_socket", defaults.Delegate.TmuxSocket)
	viper.SetDefault("delegate.templates_file", defaults.Delegate.TemplatesFile)

	viper.SetDefault("verify.enabled", defaults.Verify.Enabled)
	viper.SetDefault("verify.rules_file", defaults.Verify.RulesFile)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
	viper.SetDefault("logging.journal", defaults.Logging.Journal)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autopilot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autopilot"
	}
	return filepath.Join(home, ".config", "autopilot")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidStrategies returns the list of valid completion strategies
func ValidStrategies() []string {
	return []string{"signal", "heuristic"}
}

// ValidBackends returns the list of valid progress backends
func ValidBackends() []string {
	return []string{"markdown", "sqlite"}
}

// ValidDelegateKinds returns the list of valid delegate adapters
func ValidDelegateKinds() []string {
	return []string{"command", "tmux"}
}
