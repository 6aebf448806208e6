package models

import "time"

// AgentStatus represents the lifecycle state of a sub-agent instance.
type AgentStatus string

const (
	// AgentStatusInitializing indicates construction is in progress.
	AgentStatusInitializing AgentStatus = "initializing"
	// AgentStatusReady indicates the agent is constructed and idle.
	AgentStatusReady AgentStatus = "ready"
	// AgentStatusExecuting indicates the agent is running its allocation.
	AgentStatusExecuting AgentStatus = "executing"
	// AgentStatusCompleted indicates the agent finished its allocation.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusFailed indicates the agent's allocation failed.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusTerminated is absorbing: the agent is torn down.
	AgentStatusTerminated AgentStatus = "terminated"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusInitializing, AgentStatusReady, AgentStatusExecuting,
		AgentStatusCompleted, AgentStatusFailed, AgentStatusTerminated:
		return true
	default:
		return false
	}
}

func (s AgentStatus) rank() int {
	switch s {
	case AgentStatusInitializing:
		return 0
	case AgentStatusReady:
		return 1
	case AgentStatusExecuting:
		return 2
	case AgentStatusCompleted, AgentStatusFailed:
		return 3
	case AgentStatusTerminated:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps the lifecycle moving forward.
// Staying in the same state is allowed; completed and failed are mutually exclusive.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s == AgentStatusTerminated {
		return false
	}
	return next.rank() > s.rank()
}

// Terminal returns true for completed, failed and terminated.
func (s AgentStatus) Terminal() bool {
	return s.rank() >= 3
}

// IsolationLevel is the degree of sandboxing applied to an agent.
type IsolationLevel string

const (
	IsolationSandbox    IsolationLevel = "sandbox"
	IsolationRestricted IsolationLevel = "restricted"
	IsolationMonitored  IsolationLevel = "monitored"
)

// Valid returns true if the isolation level is a known value.
func (l IsolationLevel) Valid() bool {
	switch l {
	case IsolationSandbox, IsolationRestricted, IsolationMonitored:
		return true
	default:
		return false
	}
}

// AccessTier grades network or file-system access. Higher tiers grant more.
type AccessTier string

const (
	AccessNone       AccessTier = "none"
	AccessReadOnly   AccessTier = "read-only"
	AccessRestricted AccessTier = "restricted"
	AccessFull       AccessTier = "full"
)

// Rank orders access tiers; unknown tiers rank as none.
func (a AccessTier) Rank() int {
	switch a {
	case AccessReadOnly:
		return 1
	case AccessRestricted:
		return 2
	case AccessFull:
		return 3
	default:
		return 0
	}
}

// MinAccess returns the more restrictive of two tiers.
func MinAccess(a, b AccessTier) AccessTier {
	if a.Rank() <= b.Rank() {
		if a == "" {
			return AccessNone
		}
		return a
	}
	return b
}

// AgentType is the worker variant chosen at spawn time.
type AgentType string

const (
	AgentTypeAnalyst    AgentType = "analyst"
	AgentTypePlanner    AgentType = "planner"
	AgentTypeOperator   AgentType = "operator"
	AgentTypeGeneralist AgentType = "generalist"
)

// ResourceLimits are the numeric ceilings applied to an agent.
type ResourceLimits struct {
	MemoryMB     int64         `json:"memory_mb" yaml:"memory_mb"`
	CPUMillis    int64         `json:"cpu_millis" yaml:"cpu_millis"`
	Tokens       int64         `json:"tokens" yaml:"tokens"`
	MaxToolCalls int           `json:"max_tool_calls" yaml:"max_tool_calls"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// SecurityConstraints restrict what an agent may touch.
type SecurityConstraints struct {
	AllowedTools []string   `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	Network      AccessTier `json:"network" yaml:"network"`
	FileSystem   AccessTier `json:"file_system" yaml:"file_system"`
	Sandbox      bool       `json:"sandbox" yaml:"sandbox"`
}

// AgentSpecification is the request to construct a sub-agent.
type AgentSpecification struct {
	Type         AgentType           `json:"type,omitempty"`
	Capabilities []string            `json:"capabilities"`
	Limits       ResourceLimits      `json:"limits"`
	Security     SecurityConstraints `json:"security"`
	Isolation    IsolationLevel      `json:"isolation"`
	// SecurityLevel is the highest level among the subtasks this agent will run.
	SecurityLevel SecurityLevel `json:"security_level,omitempty"`
	// Resources are reserved from the capacity pool before construction.
	Resources []ResourceRequirement `json:"resources,omitempty"`
	// AllocationID ties the agent to a plan allocation, if any.
	AllocationID string `json:"allocation_id,omitempty"`
}

// ParentContext carries the ceilings a spawned agent inherits.
type ParentContext struct {
	ID             string              `json:"id"`
	CoordinationID string              `json:"coordination_id,omitempty"`
	Limits         ResourceLimits      `json:"limits"`
	Security       SecurityConstraints `json:"security"`
}

// AgentMetrics counts what an agent did.
type AgentMetrics struct {
	SubtasksRun    int           `json:"subtasks_run"`
	SubtasksFailed int           `json:"subtasks_failed"`
	BusyTime       time.Duration `json:"busy_time"`
}

// SubAgentInstance is an isolated worker. Values handed out by the lifecycle
// manager are snapshots; the manager owns the live record.
type SubAgentInstance struct {
	ID              string             `json:"id"`
	CoordinationID  string             `json:"coordination_id,omitempty"`
	AllocationID    string             `json:"allocation_id,omitempty"`
	ParentID        string             `json:"parent_id,omitempty"`
	Spec            AgentSpecification `json:"spec"`
	Status          AgentStatus        `json:"status"`
	Usage           ResourceUsage      `json:"usage"`
	Metrics         AgentMetrics       `json:"metrics"`
	LeaseIDs        []string           `json:"lease_ids,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	TerminatedAt    *time.Time         `json:"terminated_at,omitempty"`
	TerminateReason string             `json:"terminate_reason,omitempty"`
}
