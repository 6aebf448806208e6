// Package swarmerr defines the error taxonomy shared by the coordination engine.
//
// Every typed error unwraps to one of the package sentinels, so callers can branch
// with errors.Is on the category and errors.As when they need the details.
package swarmerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation indicates a malformed specification, task, strategy or graph.
	ErrValidation = errors.New("validation failed")
	// ErrNotSuitable indicates the task should run on a single agent instead.
	ErrNotSuitable = errors.New("task not suitable for distribution")
	// ErrResourceUnavailable indicates the capacity pool cannot satisfy a request.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrNotFound indicates an unknown id.
	ErrNotFound = errors.New("not found")
	// ErrSpawn indicates agent construction failed after validation.
	ErrSpawn = errors.New("spawn failed")
	// ErrSyncTimeout indicates a synchronization point timed out under the fail policy.
	ErrSyncTimeout = errors.New("synchronization timeout")
	// ErrExecution indicates a subtask or agent failure.
	ErrExecution = errors.New("execution failure")
	// ErrCycleDetected indicates a circular dependency. It is a validation error.
	ErrCycleDetected = fmt.Errorf("%w: circular dependency detected", ErrValidation)
)

// ValidationError describes a malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for constructing a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotSuitableError reports a task rejected by the planner with its suitability score.
type NotSuitableError struct {
	TaskID string
	Score  float64
	Reason string
}

func (e *NotSuitableError) Error() string {
	return fmt.Sprintf("task %s not suitable for distribution (score %.2f): %s", e.TaskID, e.Score, e.Reason)
}

func (e *NotSuitableError) Unwrap() error { return ErrNotSuitable }

// ResourceUnavailableError names the first resource type that could not be granted.
type ResourceUnavailableError struct {
	Type      string
	Requested float64
	Available float64
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource unavailable: %s requested %g, available %g", e.Type, e.Requested, e.Available)
}

func (e *ResourceUnavailableError) Unwrap() error { return ErrResourceUnavailable }

// NotFoundError reports an unknown id of the given kind (agent, lease, coordination).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for constructing a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// SpawnError reports a failure while constructing an agent. The partial instance
// has already been rolled back when this error is returned.
type SpawnError struct {
	Stage string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn failed at %s: %v", e.Stage, e.Err)
}

// Unwrap exposes both the category and the cause.
func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }

// SyncTimeoutError reports a synchronization point that timed out.
type SyncTimeoutError struct {
	PointID string
	Absent  []string
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("synchronization point %s timed out waiting for [%s]", e.PointID, strings.Join(e.Absent, ", "))
}

func (e *SyncTimeoutError) Unwrap() error { return ErrSyncTimeout }

// Trigger classifies an execution failure for the fallback plan.
type Trigger string

const (
	// TriggerAgentFailure is a subtask or agent error.
	TriggerAgentFailure Trigger = "agent-failure"
	// TriggerTimeout is a subtask deadline that could not be extended further.
	TriggerTimeout Trigger = "timeout"
	// TriggerResourceExhaustion is a lease expiry or usage limit violation.
	TriggerResourceExhaustion Trigger = "resource-exhaustion"
)

// ExecutionFailure reports a failed subtask or allocation.
type ExecutionFailure struct {
	AllocationID string
	SubtaskID    string
	Trigger      Trigger
	Err          error
}

func (e *ExecutionFailure) Error() string {
	where := e.AllocationID
	if e.SubtaskID != "" {
		where += "/" + e.SubtaskID
	}
	if e.Err == nil {
		return fmt.Sprintf("execution failure (%s) in %s", e.Trigger, where)
	}
	return fmt.Sprintf("execution failure (%s) in %s: %v", e.Trigger, where, e.Err)
}

// Unwrap exposes both the category and the cause.
func (e *ExecutionFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExecution}
	}
	return []error{ErrExecution, e.Err}
}

// TriggerOf extracts the fallback trigger from err, defaulting to agent failure.
func TriggerOf(err error) Trigger {
	var ef *ExecutionFailure
	if errors.As(err, &ef) && ef.Trigger != "" {
		return ef.Trigger
	}
	return TriggerAgentFailure
}
