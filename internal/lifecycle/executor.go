package lifecycle

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// ExecutionRequest is everything an Executor needs to run one subtask on one agent.
type ExecutionRequest struct {
	CoordinationID string
	AllocationID   string
	Subtask        models.SubTask
	// Agent is a snapshot of the instance running the subtask.
	Agent models.SubAgentInstance
	// Role is the worker variant's brief, suitable as a system prompt.
	Role string
	// Inputs holds the resolved values of the subtask's declared inputs.
	Inputs map[string]any
	// AllowedTools is the agent allow-list narrowed by the subtask constraints.
	AllowedTools []string
	// Deadline is the subtask's first deadline. Extensions granted while the
	// subtask runs show in CurrentDeadline.
	Deadline time.Time

	extended atomic.Int64
}

// CurrentDeadline returns the deadline in force, including any extension.
// Executors that run long should consult it rather than Deadline.
func (r *ExecutionRequest) CurrentDeadline() time.Time {
	if ns := r.extended.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return r.Deadline
}

// ExtendDeadline moves the deadline in force to t. It is safe to call while
// the executor runs.
func (r *ExecutionRequest) ExtendDeadline(t time.Time) {
	r.extended.Store(t.UnixNano())
}

// Executor runs a single subtask. Execution is atomic per subtask: the engine only
// looks at the returned result, never at partial progress.
type Executor interface {
	Execute(ctx context.Context, req *ExecutionRequest) (*models.SubtaskResult, error)
}

// PermissionChecker decides whether an agent specification may be spawned.
type PermissionChecker interface {
	Check(ctx context.Context, spec models.AgentSpecification) error
}

// AllowAll permits every specification.
type AllowAll struct{}

// Check always succeeds.
func (AllowAll) Check(context.Context, models.AgentSpecification) error { return nil }

// DenyList rejects specifications that request a denied capability or tool.
type DenyList struct {
	Capabilities []string
	Tools        []string
}

// Check returns a validation error naming the first denied capability or tool.
func (d DenyList) Check(_ context.Context, spec models.AgentSpecification) error {
	for _, c := range spec.Capabilities {
		if slices.Contains(d.Capabilities, c) {
			return swarmerr.Invalid("capabilities", "capability %q is denied", c)
		}
	}
	for _, tool := range spec.Security.AllowedTools {
		if slices.Contains(d.Tools, tool) {
			return swarmerr.Invalid("security.allowed_tools", "tool %q is denied", tool)
		}
	}
	return nil
}
