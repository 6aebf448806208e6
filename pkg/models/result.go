package models

import "time"

// AllocationStatus is the runtime state of an allocation during a coordination.
type AllocationStatus string

const (
	AllocationPending   AllocationStatus = "pending"
	AllocationRunning   AllocationStatus = "running"
	AllocationCompleted AllocationStatus = "completed"
	AllocationFailed    AllocationStatus = "failed"
	AllocationSkipped   AllocationStatus = "skipped"
	AllocationCancelled AllocationStatus = "cancelled"
)

// Terminal returns true once the allocation will not run again.
func (s AllocationStatus) Terminal() bool {
	switch s {
	case AllocationCompleted, AllocationFailed, AllocationSkipped, AllocationCancelled:
		return true
	default:
		return false
	}
}

// SubtaskResult is what the agent executor returns for one subtask.
type SubtaskResult struct {
	SubtaskID string `json:"subtask_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Success   bool   `json:"success"`
	// Outputs maps declared output names to values.
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	Usage       ResourceUsage  `json:"usage"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Duration returns the wall time of the run.
func (r *SubtaskResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// AllocationResult is the per-allocation breakdown of a coordination.
type AllocationResult struct {
	AllocationID string           `json:"allocation_id"`
	AgentID      string           `json:"agent_id,omitempty"`
	Status       AllocationStatus `json:"status"`
	Subtasks     []SubtaskResult  `json:"subtasks,omitempty"`
	// Attempts counts agents that ran this allocation, including reassignments.
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// AggregatedResult concatenates every successful subtask output.
type AggregatedResult struct {
	// Outputs is ordered by allocation plan order, then subtask order.
	Outputs []SubtaskResult `json:"outputs"`
	// Values merges named outputs; later producers win on name clashes.
	Values map[string]any `json:"values"`
}

// SyncOutcome records how a synchronization point resolved.
type SyncOutcome struct {
	PointID  string   `json:"point_id"`
	Type     SyncType `json:"type"`
	Arrived  []string `json:"arrived"`
	Failed   []string `json:"failed,omitempty"`
	Absent   []string `json:"absent,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
	// Statuses holds checkpoint reports keyed by participant.
	Statuses map[string]string `json:"statuses,omitempty"`
	// Value is the decision or aggregation result.
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// CoordinationOutcome distinguishes full, partial and failed coordinations.
type CoordinationOutcome string

const (
	OutcomeSucceeded CoordinationOutcome = "succeeded"
	OutcomePartial   CoordinationOutcome = "partial"
	OutcomeFailed    CoordinationOutcome = "failed"
)

// LatencySummary is a histogram digest of subtask run times.
type LatencySummary struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

// CoordinationMetrics summarize a coordination run.
type CoordinationMetrics struct {
	TotalSubtasks     int            `json:"total_subtasks"`
	CompletedSubtasks int            `json:"completed_subtasks"`
	FailedSubtasks    int            `json:"failed_subtasks"`
	AgentsSpawned     int            `json:"agents_spawned"`
	Reassignments     int            `json:"reassignments"`
	DeadlineExtended  int            `json:"deadline_extended"`
	MessagesDelivered int            `json:"messages_delivered"`
	Latency           LatencySummary `json:"latency"`
}

// CoordinationResult is produced once, at the end of a coordination.
type CoordinationResult struct {
	CoordinationID string                       `json:"coordination_id"`
	DistributionID string                       `json:"distribution_id"`
	TaskID         string                       `json:"task_id"`
	Success        bool                         `json:"success"`
	Outcome        CoordinationOutcome          `json:"outcome"`
	Allocations    map[string]*AllocationResult `json:"allocations"`
	Aggregated     AggregatedResult             `json:"aggregated"`
	SyncOutcomes   []SyncOutcome                `json:"sync_outcomes,omitempty"`
	Metrics        CoordinationMetrics          `json:"metrics"`
	StartedAt      time.Time                    `json:"started_at"`
	ExecutionTime  time.Duration                `json:"execution_time"`
	Error          string                       `json:"error,omitempty"`
}

// AgentResults returns the allocation results that had an agent assigned.
func (r *CoordinationResult) AgentResults() []*AllocationResult {
	var out []*AllocationResult
	for _, a := range r.Allocations {
		if a.AgentID != "" {
			out = append(out, a)
		}
	}
	return out
}

// AllocationProgress is one row of an execution status snapshot.
type AllocationProgress struct {
	AllocationID   string           `json:"allocation_id"`
	AgentID        string           `json:"agent_id,omitempty"`
	Status         AllocationStatus `json:"status"`
	AgentStatus    AgentStatus      `json:"agent_status,omitempty"`
	CompletedTasks int              `json:"completed_tasks"`
	TotalTasks     int              `json:"total_tasks"`
}

// ExecutionStatus is a non-blocking progress snapshot of a running coordination.
type ExecutionStatus struct {
	CoordinationID string               `json:"coordination_id"`
	CompletedTasks int                  `json:"completed_tasks"`
	TotalTasks     int                  `json:"total_tasks"`
	Progress       float64              `json:"progress"`
	Allocations    []AllocationProgress `json:"allocations"`
	Done           bool                 `json:"done"`
	StartedAt      time.Time            `json:"started_at"`
}
