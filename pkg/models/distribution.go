package models

import "time"

// AgentAllocation binds an ordered list of subtasks to one agent.
type AgentAllocation struct {
	ID string `json:"id"`
	// Subtasks run in this order on the allocation's agent.
	Subtasks []SubTask `json:"subtasks"`
	// Resources are reserved when the allocation's agent is spawned.
	Resources []ResourceRequirement `json:"resources,omitempty"`
	Priority  int                   `json:"priority"`
	// DependsOn lists allocation ids that must settle before this one starts.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Capabilities returns the union of the subtasks' required capabilities, in first-seen order.
func (a *AgentAllocation) Capabilities() []string {
	seen := make(map[string]bool)
	var caps []string
	for _, st := range a.Subtasks {
		for _, c := range st.Requirements.Capabilities {
			if !seen[c] {
				seen[c] = true
				caps = append(caps, c)
			}
		}
	}
	return caps
}

// SecurityLevel returns the highest security level any subtask requires.
func (a *AgentAllocation) SecurityLevel() SecurityLevel {
	level := SecurityLow
	for _, st := range a.Subtasks {
		if st.Requirements.SecurityLevel.Rank() > level.Rank() {
			level = st.Requirements.SecurityLevel
		}
	}
	return level
}

// CommunicationChannel carries subtask outputs between allocations.
type CommunicationChannel struct {
	ID       string                `json:"id"`
	Protocol CommunicationProtocol `json:"protocol"`
	// From lists publishing allocations; To lists receiving allocations.
	// Broadcast channels list every allocation on both sides.
	From []string `json:"from"`
	To   []string `json:"to"`
}

// FallbackTrigger is a failure class the fallback plan reacts to.
type FallbackTrigger string

const (
	TriggerAgentFailure       FallbackTrigger = "agent-failure"
	TriggerTimeout            FallbackTrigger = "timeout"
	TriggerResourceExhaustion FallbackTrigger = "resource-exhaustion"
)

// FallbackAction is a bounded recovery step.
type FallbackAction string

const (
	ActionReassign       FallbackAction = "reassign"
	ActionExtendDeadline FallbackAction = "extend-deadline"
	ActionAbort          FallbackAction = "abort"
)

// FallbackRule maps one trigger to one action and its bound.
type FallbackRule struct {
	Trigger FallbackTrigger `json:"trigger"`
	Action  FallbackAction  `json:"action"`
	// MaxAttempts bounds reassignments or extensions.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// Factor scales the deadline on extension.
	Factor float64 `json:"factor,omitempty"`
}

// FallbackPlan is the recovery table consulted by the engine.
type FallbackPlan struct {
	Rules []FallbackRule `json:"rules"`
}

// Rule returns the rule for a trigger, defaulting to abort.
func (p *FallbackPlan) Rule(trigger FallbackTrigger) FallbackRule {
	for _, r := range p.Rules {
		if r.Trigger == trigger {
			return r
		}
	}
	return FallbackRule{Trigger: trigger, Action: ActionAbort}
}

// TaskDistribution is the immutable execution plan produced by the planner.
type TaskDistribution struct {
	ID               string                 `json:"id"`
	Task             DistributedTask        `json:"task"`
	Strategy         CoordinationStrategy   `json:"strategy"`
	Allocations      []AgentAllocation      `json:"allocations"`
	Channels         []CommunicationChannel `json:"channels,omitempty"`
	SyncPlan         []SynchronizationPoint `json:"sync_plan,omitempty"`
	Fallback         FallbackPlan           `json:"fallback"`
	SuitabilityScore float64                `json:"suitability_score"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Allocation returns the allocation with the given id, or nil.
func (d *TaskDistribution) Allocation(id string) *AgentAllocation {
	for i := range d.Allocations {
		if d.Allocations[i].ID == id {
			return &d.Allocations[i]
		}
	}
	return nil
}

// SubtaskCount returns the total number of subtasks across all allocations.
func (d *TaskDistribution) SubtaskCount() int {
	n := 0
	for _, a := range d.Allocations {
		n += len(a.Subtasks)
	}
	return n
}

// ResourceAllocations returns each allocation's planned resource requirements.
func (d *TaskDistribution) ResourceAllocations() map[string][]ResourceRequirement {
	out := make(map[string][]ResourceRequirement, len(d.Allocations))
	for _, a := range d.Allocations {
		out[a.ID] = a.Resources
	}
	return out
}
