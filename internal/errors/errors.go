// Package errors provides centralized error definitions and error handling utilities
// for autopilot. It defines the orchestrator's error taxonomy, sentinel errors,
// constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Run-level errors terminate or gate a run:
//   - ParseError: the plan document is malformed; no task executes
//   - CancelledError: the operator requested a stop; waits unwind cleanly
//   - StaleLeaseWarning: a lease was left in progress by a previous run and
//     needs an explicit operator decision
//
// Task-level errors are recorded against a single task and never end the run:
//   - LeaseTimeoutError: completion could not be confirmed within budget
//   - TaskError: dispatching the task to the delegate failed
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewParseError("plan.yaml", "missing command").WithTaskID("3").WithField("command")
//
//	if errors.Is(err, errors.ErrPlanInvalid) { ... }
//
//	var timeout *errors.LeaseTimeoutError
//	if errors.As(err, &timeout) { ... }
//
//	if errors.IsTaskLevel(err) { record and continue }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Plan and progress sentinel errors
var (
	// ErrPlanInvalid indicates that the plan document failed validation.
	ErrPlanInvalid = New("plan is invalid")
	// ErrTaskNotFound indicates that a task id is not part of the plan or progress.
	ErrTaskNotFound = New("task not found")
)

// Lease and run sentinel errors
var (
	// ErrStaleLease indicates a lease left in progress by an earlier run.
	ErrStaleLease = New("stale lease")
	// ErrAlreadyRunning indicates that a run is already active.
	ErrAlreadyRunning = New("orchestrator already running")
	// ErrTaskInFlight indicates an operation targeted the task currently dispatched.
	ErrTaskInFlight = New("task is in flight")
	// ErrDispatchFailed indicates the delegate rejected or failed to start a task.
	ErrDispatchFailed = New("dispatch failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// AutopilotError is the base interface for all autopilot errors.
type AutopilotError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if a later run may succeed where this one failed.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Run-level Errors
// -----------------------------------------------------------------------------

// ParseError reports a malformed plan document. A plan with any ParseError is
// rejected as a whole.
//
// Example:
//
//	err := errors.NewParseError("plan.yaml", "missing required field").WithTaskID("2").WithField("path")
//	fmt.Println(err) // "parse error [source=plan.yaml, task=2, field=path]: missing required field"
type ParseError struct {
	baseError
	Source string
	TaskID string
	Field  string
}

// NewParseError creates a new ParseError for the given source document.
func NewParseError(source, message string) *ParseError {
	return &ParseError{
		baseError: baseError{
			message:    message,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
		Source: source,
	}
}

// WithTaskID adds the offending task id.
func (e *ParseError) WithTaskID(id string) *ParseError {
	e.TaskID = id
	return e
}

// WithField adds the offending field name.
func (e *ParseError) WithField(field string) *ParseError {
	e.Field = field
	return e
}

// WithCause adds a cause to the error.
func (e *ParseError) WithCause(cause error) *ParseError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ParseError) Error() string {
	var parts []string
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("source=%s", e.Source))
	}
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	return formatWithContext("parse error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ParseError) Is(target error) bool {
	if _, ok := target.(*ParseError); ok {
		return true
	}
	return target == ErrPlanInvalid || errors.Is(e.cause, target)
}

// CancelledError reports that an operator-requested stop interrupted a wait.
// It is not a failure of the run.
type CancelledError struct {
	baseError
	Operation string
}

// NewCancelledError creates a CancelledError for the interrupted operation.
func NewCancelledError(operation string, cause error) *CancelledError {
	return &CancelledError{
		baseError: baseError{
			message:    operation,
			cause:      cause,
			severity:   SeverityInfo,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
	}
}

// Error returns the formatted error message.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled while %s", e.Operation)
}

// Is checks if this error matches the target.
func (e *CancelledError) Is(target error) bool {
	if _, ok := target.(*CancelledError); ok {
		return true
	}
	return target == ErrCanceled || errors.Is(e.cause, target)
}

// StaleLeaseWarning describes a lease found in progress at startup. It is
// presented to the operator, never resolved automatically.
type StaleLeaseWarning struct {
	baseError
	TaskID         string
	LeasePath      string
	ProgressStatus string
}

// NewStaleLeaseWarning creates a StaleLeaseWarning for the given task.
func NewStaleLeaseWarning(taskID, leasePath, progressStatus string) *StaleLeaseWarning {
	return &StaleLeaseWarning{
		baseError: baseError{
			message:    "lease left in progress by a previous run",
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		TaskID:         taskID,
		LeasePath:      leasePath,
		ProgressStatus: progressStatus,
	}
}

// Error returns the formatted error message.
func (e *StaleLeaseWarning) Error() string {
	parts := []string{fmt.Sprintf("task=%s", e.TaskID)}
	if e.ProgressStatus != "" {
		parts = append(parts, fmt.Sprintf("progress=%s", e.ProgressStatus))
	}
	if e.LeasePath != "" {
		parts = append(parts, fmt.Sprintf("lease=%s", e.LeasePath))
	}
	return formatWithContext("stale lease", parts, e.message, nil)
}

// Is checks if this error matches the target.
func (e *StaleLeaseWarning) Is(target error) bool {
	if _, ok := target.(*StaleLeaseWarning); ok {
		return true
	}
	return target == ErrStaleLease
}

// -----------------------------------------------------------------------------
// Task-level Errors
// -----------------------------------------------------------------------------

// LeaseTimeoutError reports that a task's completion could not be confirmed
// within its budget. It is recorded against the task and the run continues.
//
// Example:
//
//	err := errors.NewLeaseTimeoutError("5", 10*time.Second)
//	fmt.Println(err) // "timed out after 10s waiting for task 5 to signal completion"
type LeaseTimeoutError struct {
	baseError
	TaskID   string
	Duration time.Duration
}

// NewLeaseTimeoutError creates a LeaseTimeoutError.
func NewLeaseTimeoutError(taskID string, duration time.Duration) *LeaseTimeoutError {
	return &LeaseTimeoutError{
		baseError: baseError{
			message:    "completion signal not observed",
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		TaskID:   taskID,
		Duration: duration,
	}
}

// Error returns the formatted error message.
func (e *LeaseTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for task %s to signal completion", e.Duration, e.TaskID)
}

// Is checks if this error matches the target.
func (e *LeaseTimeoutError) Is(target error) bool {
	if _, ok := target.(*LeaseTimeoutError); ok {
		return true
	}
	return target == ErrTimeout
}

// TaskError represents a task-level failure other than a timeout, such as a
// delegate that could not be started.
type TaskError struct {
	baseError
	TaskID string
	Phase  string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithPhase adds the plan phase to the error context.
func (e *TaskError) WithPhase(phase string) *TaskError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	return formatWithContext("task error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	if target == ErrDispatchFailed {
		return true
	}
	return errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "7")
//	fmt.Println(err) // "task '7' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.ResourceType == "task" && target == ErrTaskNotFound
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatWithContext("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput
}

// TimeoutError represents a generic operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTimeout
}

func formatWithContext(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsTaskLevel reports whether err should be recorded against a single task
// rather than ending the run. Lease timeouts, dispatch failures and generic
// timeouts are task-level; parse errors, cancellation and stale leases are not.
func IsTaskLevel(err error) bool {
	if err == nil {
		return false
	}
	if IsCancelled(err) {
		return false
	}
	var leaseTimeout *LeaseTimeoutError
	var taskErr *TaskError
	var timeout *TimeoutError
	return As(err, &leaseTimeout) || As(err, &taskErr) || As(err, &timeout)
}

// IsCancelled reports whether err stems from an operator-requested stop.
func IsCancelled(err error) bool {
	var cancelled *CancelledError
	return As(err, &cancelled)
}

// IsRetryable returns true if the error represents a condition that a later
// run may not hit again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apErr AutopilotError
	if As(err, &apErr) {
		return apErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var apErr AutopilotError
	if As(err, &apErr) {
		return apErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AutopilotError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var apErr AutopilotError
	if As(err, &apErr) {
		return apErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
