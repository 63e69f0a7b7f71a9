package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		wantFields []string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:       "unknown strategy",
			mutate:     func(c *Config) { c.Completion.Strategy = "guess" },
			wantFields: []string{"completion.strategy"},
		},
		{
			name: "minimum wait not below timeout",
			mutate: func(c *Config) {
				c.Completion.TimeoutSeconds = 10
				c.Completion.MinimumWaitSeconds = 10
			},
			wantFields: []string{"completion.minimum_wait_seconds"},
		},
		{
			name: "zero intervals",
			mutate: func(c *Config) {
				c.Completion.PollIntervalMs = 0
				c.Lease.PollIntervalMs = 0
			},
			wantFields: []string{"lease.poll_interval_ms", "completion.poll_interval_ms"},
		},
		{
			name:       "non-positive iterations",
			mutate:     func(c *Config) { c.Loop.MaxIterations = 0 },
			wantFields: []string{"loop.max_iterations"},
		},
		{
			name:       "negative settle delay",
			mutate:     func(c *Config) { c.Loop.SettleDelayMs = -1 },
			wantFields: []string{"loop.settle_delay_ms"},
		},
		{
			name:       "unknown backend",
			mutate:     func(c *Config) { c.Progress.Backend = "csv" },
			wantFields: []string{"progress.backend"},
		},
		{
			name: "sqlite without database",
			mutate: func(c *Config) {
				c.Progress.Backend = "sqlite"
				c.Progress.Database = " "
			},
			wantFields: []string{"progress.database"},
		},
		{
			name:       "empty state dir",
			mutate:     func(c *Config) { c.State.Dir = "" },
			wantFields: []string{"state.dir"},
		},
		{
			name:       "null byte in plan path",
			mutate:     func(c *Config) { c.Plan.File = "plan\x00.yaml" },
			wantFields: []string{"plan.file"},
		},
		{
			name:       "bad ignore glob",
			mutate:     func(c *Config) { c.Activity.Ignore = []string{"build/**", "[abc"} },
			wantFields: []string{"activity.ignore[1]"},
		},
		{
			name:       "command delegate without argv",
			mutate:     func(c *Config) { c.Delegate.Command = nil },
			wantFields: []string{"delegate.command"},
		},
		{
			name:       "tmux delegate without session",
			mutate:     func(c *Config) { c.Delegate.Kind = "tmux" },
			wantFields: []string{"delegate.tmux_session"},
		},
		{
			name: "tmux delegate with session",
			mutate: func(c *Config) {
				c.Delegate.Kind = "tmux"
				c.Delegate.TmuxSession = "agent"
			},
		},
		{
			name:       "bad log level",
			mutate:     func(c *Config) { c.Logging.Level = "verbose" },
			wantFields: []string{"logging.level"},
		},
		{
			name: "log size bounds",
			mutate: func(c *Config) {
				c.Logging.MaxSizeMB = 5000
				c.Logging.MaxBackups = -2
			},
			wantFields: []string{"logging.max_size_mb", "logging.max_backups"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("Validate() returned %d errors, want %d: %v", len(errs), len(tt.wantFields), ValidationErrors(errs))
			}
			for i, field := range tt.wantFields {
				if errs[i].Field != field {
					t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, field)
				}
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	single := ValidationErrors{{Field: "loop.max_iterations", Value: 0, Message: "must be positive"}}
	if got, want := single.Error(), "loop.max_iterations: must be positive (got: 0)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "x"},
		{Field: "b", Value: 2, Message: "y"},
	}
	got := multi.Error()
	if !strings.HasPrefix(got, "2 validation errors:\n") {
		t.Errorf("Error() = %q", got)
	}
	if !strings.Contains(got, "  2. b: y (got: 2)") {
		t.Errorf("Error() missing second entry: %q", got)
	}

	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should render empty")
	}
}
