package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "completion.timeout_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateLoop()...)
	errors = append(errors, c.validateLease()...)
	errors = append(errors, c.validateCompletion()...)
	errors = append(errors, c.validateActivity()...)
	errors = append(errors, c.validateDelegate()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func oneOf(field, value string, valid []string) []ValidationError {
	if slices.Contains(valid, value) {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
	}}
}

func positive(field string, value int) []ValidationError {
	if value > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: value, Message: "must be positive"}}
}

func nonNegative(field string, value int) []ValidationError {
	if value >= 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: value, Message: "must be non-negative"}}
}

// validatePaths checks the plan, progress and state locations
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	paths := []struct {
		field string
		value string
	}{
		{"plan.file", c.Plan.File},
		{"progress.file", c.Progress.File},
		{"progress.database", c.Progress.Database},
		{"state.dir", c.State.Dir},
		{"verify.rules_file", c.Verify.RulesFile},
		{"delegate.templates_file", c.Delegate.TemplatesFile},
	}
	for _, p := range paths {
		if strings.ContainsRune(p.value, '\x00') {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "contains invalid null character",
			})
		}
	}

	if strings.TrimSpace(c.Plan.File) == "" {
		errors = append(errors, ValidationError{Field: "plan.file", Value: c.Plan.File, Message: "cannot be empty"})
	}
	if strings.TrimSpace(c.State.Dir) == "" {
		errors = append(errors, ValidationError{Field: "state.dir", Value: c.State.Dir, Message: "cannot be empty"})
	}

	errors = append(errors, oneOf("progress.backend", c.Progress.Backend, ValidBackends())...)
	switch c.Progress.Backend {
	case "markdown":
		if strings.TrimSpace(c.Progress.File) == "" {
			errors = append(errors, ValidationError{
				Field:   "progress.file",
				Value:   c.Progress.File,
				Message: "is required for the markdown backend",
			})
		}
	case "sqlite":
		if strings.TrimSpace(c.Progress.Database) == "" {
			errors = append(errors, ValidationError{
				Field:   "progress.database",
				Value:   c.Progress.Database,
				Message: "is required for the sqlite backend",
			})
		}
	}

	return errors
}

// validateLoop validates the LoopConfig
func (c *Config) validateLoop() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("loop.max_iterations", c.Loop.MaxIterations)...)
	errors = append(errors, nonNegative("loop.settle_delay_ms", c.Loop.SettleDelayMs)...)

	const maxIterationsLimit = 10000
	if c.Loop.MaxIterations > maxIterationsLimit {
		errors = append(errors, ValidationError{
			Field:   "loop.max_iterations",
			Value:   c.Loop.MaxIterations,
			Message: fmt.Sprintf("exceeds maximum of %d", maxIterationsLimit),
		})
	}

	return errors
}

// validateLease validates the LeaseConfig
func (c *Config) validateLease() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("lease.poll_interval_ms", c.Lease.PollIntervalMs)...)
	errors = append(errors, positive("lease.wait_timeout_seconds", c.Lease.WaitTimeoutSeconds)...)

	return errors
}

// validateCompletion validates the CompletionConfig
func (c *Config) validateCompletion() []ValidationError {
	var errors []ValidationError

	errors = append(errors, oneOf("completion.strategy", c.Completion.Strategy, ValidStrategies())...)
	errors = append(errors, positive("completion.timeout_seconds", c.Completion.TimeoutSeconds)...)
	errors = append(errors, positive("completion.poll_interval_ms", c.Completion.PollIntervalMs)...)
	errors = append(errors, nonNegative("completion.minimum_wait_seconds", c.Completion.MinimumWaitSeconds)...)
	errors = append(errors, nonNegative("completion.idle_threshold_seconds", c.Completion.IdleThresholdSeconds)...)

	if c.Completion.TimeoutSeconds > 0 && c.Completion.MinimumWaitSeconds >= c.Completion.TimeoutSeconds {
		errors = append(errors, ValidationError{
			Field:   "completion.minimum_wait_seconds",
			Value:   c.Completion.MinimumWaitSeconds,
			Message: fmt.Sprintf("must be less than completion.timeout_seconds (%d)", c.Completion.TimeoutSeconds),
		})
	}

	return errors
}

// validateActivity validates the ActivityConfig
func (c *Config) validateActivity() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("activity.buffer_size", c.Activity.BufferSize)...)

	for i, pattern := range c.Activity.Ignore {
		field := fmt.Sprintf("activity.ignore[%d]", i)
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{Field: field, Value: pattern, Message: "cannot be empty"})
			continue
		}
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	return errors
}

// validateDelegate validates the DelegateConfig
func (c *Config) validateDelegate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, oneOf("delegate.kind", c.Delegate.Kind, ValidDelegateKinds())...)

	switch c.Delegate.Kind {
	case "command":
		if len(c.Delegate.Command) == 0 || strings.TrimSpace(c.Delegate.Command[0]) == "" {
			errors = append(errors, ValidationError{
				Field:   "delegate.command",
				Value:   c.Delegate.Command,
				Message: "is required for the command delegate",
			})
		}
	case "tmux":
		if strings.TrimSpace(c.Delegate.TmuxSession) == "" {
			errors = append(errors, ValidationError{
				Field:   "delegate.tmux_session",
				Value:   c.Delegate.TmuxSession,
				Message: "is required for the tmux delegate",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	errors = append(errors, positive("logging.max_size_mb", c.Logging.MaxSizeMB)...)

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	errors = append(errors, nonNegative("logging.max_backups", c.Logging.MaxBackups)...)

	return errors
}
