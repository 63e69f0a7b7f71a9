package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ParseError Tests
// -----------------------------------------------------------------------------

func TestNewParseError(t *testing.T) {
	err := NewParseError("plan.yaml", "missing command")

	if err.message != "missing command" {
		t.Errorf("message = %q, want %q", err.message, "missing command")
	}
	if err.Source != "plan.yaml" {
		t.Errorf("Source = %q, want %q", err.Source, "plan.yaml")
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}
}

func TestParseError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ParseError
		want string
	}{
		{
			name: "source only",
			err:  NewParseError("plan.yaml", "no tasks"),
			want: "parse error [source=plan.yaml]: no tasks",
		},
		{
			name: "with task and field",
			err:  NewParseError("plan.yaml", "required payload is blank").WithTaskID("3").WithField("path"),
			want: "parse error [source=plan.yaml, task=3, field=path]: required payload is blank",
		},
		{
			name: "with cause",
			err:  NewParseError("", "invalid yaml").WithCause(fmt.Errorf("line 4: bad indent")),
			want: "parse error: invalid yaml: line 4: bad indent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseError_Is(t *testing.T) {
	err := NewParseError("plan.yaml", "bad")

	if !Is(err, ErrPlanInvalid) {
		t.Error("Is(ErrPlanInvalid) = false, want true")
	}
	if !Is(err, &ParseError{}) {
		t.Error("Is(&ParseError{}) = false, want true")
	}
	if Is(err, ErrStaleLease) {
		t.Error("Is(ErrStaleLease) = true, want false")
	}

	wrapped := fmt.Errorf("loading plan: %w", err)
	var pe *ParseError
	if !As(wrapped, &pe) {
		t.Fatal("As(*ParseError) = false, want true")
	}
	if pe.Source != "plan.yaml" {
		t.Errorf("Source = %q, want %q", pe.Source, "plan.yaml")
	}
}

// -----------------------------------------------------------------------------
// CancelledError Tests
// -----------------------------------------------------------------------------

func TestCancelledError(t *testing.T) {
	err := NewCancelledError("waiting for completion", errors.New("context canceled"))

	if got, want := err.Error(), "cancelled while waiting for completion"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrCanceled) {
		t.Error("Is(ErrCanceled) = false, want true")
	}
	if err.Severity() != SeverityInfo {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityInfo)
	}
	if !IsCancelled(fmt.Errorf("run: %w", err)) {
		t.Error("IsCancelled(wrapped) = false, want true")
	}
	if IsCancelled(ErrTimeout) {
		t.Error("IsCancelled(ErrTimeout) = true, want false")
	}
}

// -----------------------------------------------------------------------------
// StaleLeaseWarning Tests
// -----------------------------------------------------------------------------

func TestStaleLeaseWarning(t *testing.T) {
	tests := []struct {
		name string
		err  *StaleLeaseWarning
		want string
	}{
		{
			name: "full context",
			err:  NewStaleLeaseWarning("4", "/ws/.autopilot/leases/4.lease", "InProgress"),
			want: "stale lease [task=4, progress=InProgress, lease=/ws/.autopilot/leases/4.lease]: lease left in progress by a previous run",
		},
		{
			name: "task only",
			err:  NewStaleLeaseWarning("4", "", ""),
			want: "stale lease [task=4]: lease left in progress by a previous run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !Is(tt.err, ErrStaleLease) {
				t.Error("Is(ErrStaleLease) = false, want true")
			}
			if tt.err.Severity() != SeverityWarning {
				t.Errorf("Severity() = %v, want %v", tt.err.Severity(), SeverityWarning)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// LeaseTimeoutError Tests
// -----------------------------------------------------------------------------

func TestLeaseTimeoutError(t *testing.T) {
	err := NewLeaseTimeoutError("5", 10*time.Second)

	if got, want := err.Error(), "timed out after 10s waiting for task 5 to signal completion"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false, want true")
	}
	if !err.IsRetryable() {
		t.Error("IsRetryable() = false, want true")
	}
}

// -----------------------------------------------------------------------------
// TaskError Tests
// -----------------------------------------------------------------------------

func TestTaskError(t *testing.T) {
	cause := errors.New("exec: \"claude\": executable file not found in $PATH")
	err := NewTaskError("delegate failed to start", cause).WithTaskID("2").WithPhase("setup")

	want := "task error [task=2, phase=setup]: delegate failed to start: " + cause.Error()
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, cause) {
		t.Error("Is(cause) = false, want true")
	}
	if !Is(err, ErrDispatchFailed) {
		t.Error("Is(ErrDispatchFailed) = false, want true")
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("task", "7")

	if got, want := err.Error(), "task '7' not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTaskNotFound) {
		t.Error("Is(ErrTaskNotFound) = false, want true")
	}
	if Is(NewNotFoundError("lease", "7"), ErrTaskNotFound) {
		t.Error("lease NotFoundError matched ErrTaskNotFound")
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "message only",
			err:  NewValidationError("bad strategy"),
			want: "validation error: bad strategy",
		},
		{
			name: "with field and value",
			err:  NewValidationError("must be positive").WithField("loop.max_iterations").WithValue(-1),
			want: "validation error [field=loop.max_iterations, value=-1]: must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !Is(tt.err, ErrInvalidInput) {
				t.Error("Is(ErrInvalidInput) = false, want true")
			}
		})
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("waiting for lease release", 5*time.Minute)

	if got, want := err.Error(), "timeout error: waiting for lease release (timeout: 5m0s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsTaskLevel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"lease timeout", NewLeaseTimeoutError("1", time.Second), true},
		{"wrapped lease timeout", fmt.Errorf("wait: %w", NewLeaseTimeoutError("1", time.Second)), true},
		{"task error", NewTaskError("dispatch", nil), true},
		{"timeout", NewTimeoutError("op", time.Second), true},
		{"parse", NewParseError("plan.yaml", "bad"), false},
		{"cancelled", NewCancelledError("waiting", nil), false},
		{"stale lease", NewStaleLeaseWarning("1", "", ""), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTaskLevel(tt.err); got != tt.want {
				t.Errorf("IsTaskLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"lease timeout", NewLeaseTimeoutError("1", time.Second), true},
		{"parse", NewParseError("x", "y"), false},
		{"sentinel timeout", fmt.Errorf("op: %w", ErrTimeout), true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityDebug},
		{"parse", NewParseError("x", "y"), SeverityCritical},
		{"stale", NewStaleLeaseWarning("1", "", ""), SeverityWarning},
		{"plain", errors.New("boom"), SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if !IsUserFacing(NewParseError("x", "y")) {
		t.Error("IsUserFacing(ParseError) = false")
	}
	if IsUserFacing(errors.New("internal")) {
		t.Error("IsUserFacing(plain) = true")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) != nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}

	err := Wrap(ErrTaskNotFound, "reset 9")
	if got, want := err.Error(), "reset 9: task not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTaskNotFound) {
		t.Error("Is(ErrTaskNotFound) = false, want true")
	}

	err = Wrapf(ErrStaleLease, "task %s", "4")
	if got, want := err.Error(), "task 4: stale lease"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
