package models

import "time"

// Complexity classifies how much decomposition a task warrants.
type Complexity string

const (
	// ComplexitySimple tasks synthesize a single subtask.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate tasks synthesize a prep/exec pair.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex tasks synthesize an analysis/planning/execution chain.
	ComplexityComplex Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	default:
		return false
	}
}

// SecurityLevel is the minimum trust a subtask requires from its agent.
type SecurityLevel string

const (
	SecurityLow    SecurityLevel = "low"
	SecurityMedium SecurityLevel = "medium"
	SecurityHigh   SecurityLevel = "high"
)

// Rank orders security levels; unknown levels rank as low.
func (s SecurityLevel) Rank() int {
	switch s {
	case SecurityHigh:
		return 2
	case SecurityMedium:
		return 1
	default:
		return 0
	}
}

// DistributedTask is a unit of work submitted for multi-agent execution.
// The coordination engine treats it as read-only.
type DistributedTask struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Description explains what the task should accomplish.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Complexity drives subtask synthesis and suitability scoring.
	Complexity Complexity `json:"complexity" yaml:"complexity"`
	// Decomposable must be true for the task to be distributed at all.
	Decomposable bool `json:"decomposable" yaml:"decomposable"`
	// Parallelizable indicates subtasks may run on separate agents at once.
	Parallelizable bool `json:"parallelizable" yaml:"parallelizable"`
	// Subtasks are caller-declared fragments. When empty the planner synthesizes them.
	Subtasks []SubTask `json:"subtasks,omitempty" yaml:"subtasks,omitempty"`
	// Dependencies lists ids of external tasks this task follows. Informational only.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Requirements are the resources the whole task needs.
	Requirements []ResourceRequirement `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	// Priority orders allocations when the engine must choose between ready work.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// TimeLimit bounds the whole coordination. Zero means no limit.
	TimeLimit time.Duration `json:"time_limit,omitempty" yaml:"time_limit,omitempty"`
}

// RequirementTypes returns the distinct resource types the task declares.
func (t *DistributedTask) RequirementTypes() []ResourceType {
	seen := make(map[ResourceType]bool)
	var types []ResourceType
	for _, r := range t.Requirements {
		if !seen[r.Type] {
			seen[r.Type] = true
			types = append(types, r.Type)
		}
	}
	return types
}

// AgentRequirements describes what an agent must offer to run a subtask.
type AgentRequirements struct {
	Capabilities        []string      `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	SecurityLevel       SecurityLevel `json:"security_level,omitempty" yaml:"security_level,omitempty"`
	SupportsConcurrency bool          `json:"supports_concurrency,omitempty" yaml:"supports_concurrency,omitempty"`
}

// ExecutionConstraints bound a single subtask run.
type ExecutionConstraints struct {
	// Timeout is the subtask deadline. Zero falls back to the agent's limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// AllowedTools narrows the agent's tool allow-list for this subtask.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

// SubTask is an independently assignable fragment of a DistributedTask.
type SubTask struct {
	ID       string `json:"id" yaml:"id"`
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	// Description is handed to the agent executor verbatim.
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Requirements AgentRequirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	// Inputs are output names of other subtasks (or external inputs) this subtask consumes.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	// Outputs are the names this subtask produces.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	// DependsOn lists subtask ids that must finish first even without a data edge.
	DependsOn         []string             `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Constraints       ExecutionConstraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	SuccessCriteria   []string             `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty"`
	EstimatedDuration time.Duration        `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
}
