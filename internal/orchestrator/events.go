package orchestrator

import (
	"time"
)

// EventType represents the type of coordination event.
type EventType string

const (
	// EventCoordinationStarted indicates every agent was spawned and execution began.
	EventCoordinationStarted EventType = "coordination_started"
	// EventAgentStatus indicates a sub-agent changed status.
	EventAgentStatus EventType = "agent_status"
	// EventAllocationStarted indicates an allocation began running on its agent.
	EventAllocationStarted EventType = "allocation_started"
	// EventSubtaskCompleted indicates a subtask finished successfully.
	EventSubtaskCompleted EventType = "subtask_completed"
	// EventSubtaskFailed indicates a subtask failed.
	EventSubtaskFailed EventType = "subtask_failed"
	// EventDeadlineExtended indicates a subtask deadline was extended once.
	EventDeadlineExtended EventType = "deadline_extended"
	// EventAllocationReassigned indicates a failed allocation moved to a fresh agent.
	EventAllocationReassigned EventType = "allocation_reassigned"
	// EventAllocationCompleted indicates every subtask of an allocation succeeded.
	EventAllocationCompleted EventType = "allocation_completed"
	// EventAllocationFailed indicates an allocation failed for good.
	EventAllocationFailed EventType = "allocation_failed"
	// EventAllocationSkipped indicates an allocation never ran because a dependency failed.
	EventAllocationSkipped EventType = "allocation_skipped"
	// EventAllocationCancelled indicates an allocation was halted.
	EventAllocationCancelled EventType = "allocation_cancelled"
	// EventLeaseExpired indicates a lease held by an allocation's agent expired.
	EventLeaseExpired EventType = "lease_expired"
	// EventSyncResolved indicates a synchronization point resolved.
	EventSyncResolved EventType = "sync_resolved"
	// EventCoordinationDone indicates the coordination finished and was cleaned up.
	EventCoordinationDone EventType = "coordination_done"
)

// CoordinationEvent represents an event emitted while coordinating agents.
type CoordinationEvent struct {
	// Type is the kind of event.
	Type EventType
	// CoordinationID is the coordination the event belongs to.
	CoordinationID string
	// AllocationID is the related allocation, if applicable.
	AllocationID string
	// SubtaskID is the related subtask, if applicable.
	SubtaskID string
	// AgentID is the related agent, if applicable.
	AgentID string
	// PointID is the related synchronization point, if applicable.
	PointID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Progress is the completed subtask ratio at the time of the event.
	Progress float64
}
