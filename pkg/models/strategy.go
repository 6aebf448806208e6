package models

import "time"

// StrategyType selects how allocations are driven.
type StrategyType string

const (
	StrategySequential StrategyType = "sequential"
	StrategyParallel   StrategyType = "parallel"
	StrategyHybrid     StrategyType = "hybrid"
	StrategyAdaptive   StrategyType = "adaptive"
)

// Valid returns true if the strategy type is a known value.
func (t StrategyType) Valid() bool {
	switch t {
	case StrategySequential, StrategyParallel, StrategyHybrid, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// FailurePolicy decides what a failed allocation does to the rest of the coordination.
type FailurePolicy string

const (
	FailFast            FailurePolicy = "fail-fast"
	GracefulDegradation FailurePolicy = "graceful-degradation"
	RetryCascade        FailurePolicy = "retry-cascade"
)

// Valid returns true if the policy is a known value.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailFast, GracefulDegradation, RetryCascade:
		return true
	default:
		return false
	}
}

// CommunicationProtocol selects the channel topology between allocations.
type CommunicationProtocol string

const (
	ProtocolDirect    CommunicationProtocol = "direct"
	ProtocolQueue     CommunicationProtocol = "queue"
	ProtocolBroadcast CommunicationProtocol = "broadcast"
)

// Valid returns true if the protocol is a known value.
func (p CommunicationProtocol) Valid() bool {
	switch p {
	case ProtocolDirect, ProtocolQueue, ProtocolBroadcast:
		return true
	default:
		return false
	}
}

// CoordinationStrategy is the caller's execution policy.
type CoordinationStrategy struct {
	Type                StrategyType           `json:"type" yaml:"type"`
	MaxConcurrentAgents int                    `json:"max_concurrent_agents" yaml:"max_concurrent_agents"`
	FailureHandling     FailurePolicy          `json:"failure_handling" yaml:"failure_handling"`
	SyncPoints          []SynchronizationPoint `json:"sync_points,omitempty" yaml:"sync_points,omitempty"`
	Protocol            CommunicationProtocol  `json:"protocol" yaml:"protocol"`
}

// SyncType is the rendezvous protocol of a synchronization point.
type SyncType string

const (
	SyncBarrier     SyncType = "barrier"
	SyncCheckpoint  SyncType = "checkpoint"
	SyncDecision    SyncType = "decision"
	SyncAggregation SyncType = "aggregation"
)

// Valid returns true if the sync type is a known value.
func (t SyncType) Valid() bool {
	switch t {
	case SyncBarrier, SyncCheckpoint, SyncDecision, SyncAggregation:
		return true
	default:
		return false
	}
}

// TimeoutPolicy is what a synchronization point does when its timeout fires.
type TimeoutPolicy string

const (
	// OnTimeoutWait keeps blocking; only safe under an outer deadline.
	OnTimeoutWait TimeoutPolicy = "wait"
	// OnTimeoutProceed resolves with whoever reported and marks absentees failed.
	OnTimeoutProceed TimeoutPolicy = "proceed"
	// OnTimeoutFail aborts the whole coordination.
	OnTimeoutFail TimeoutPolicy = "fail"
)

// Valid returns true if the policy is a known value.
func (p TimeoutPolicy) Valid() bool {
	switch p {
	case OnTimeoutWait, OnTimeoutProceed, OnTimeoutFail:
		return true
	default:
		return false
	}
}

// DecisionRule names how a decision point resolves its value.
type DecisionRule string

const (
	DecisionMajority  DecisionRule = "majority"
	DecisionUnanimity DecisionRule = "unanimity"
	DecisionLeader    DecisionRule = "leader"
)

// Valid returns true if the rule is a known value.
func (r DecisionRule) Valid() bool {
	switch r {
	case DecisionMajority, DecisionUnanimity, DecisionLeader:
		return true
	default:
		return false
	}
}

// SynchronizationPoint is a rendezvous between allocations.
type SynchronizationPoint struct {
	ID   string   `json:"id" yaml:"id"`
	Type SyncType `json:"type" yaml:"type"`
	// Participants are allocation ids in a plan. Callers may also name subtask ids,
	// which the planner resolves to their allocations. Empty means every allocation.
	Participants []string      `json:"participants,omitempty" yaml:"participants,omitempty"`
	Condition    string        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	OnTimeout    TimeoutPolicy `json:"on_timeout" yaml:"on_timeout"`
	// Rule is required for decision points.
	Rule DecisionRule `json:"rule,omitempty" yaml:"rule,omitempty"`
	// Leader is required when Rule is leader.
	Leader string `json:"leader,omitempty" yaml:"leader,omitempty"`
	// Merge names a registered merge function; required for aggregation points.
	Merge string `json:"merge,omitempty" yaml:"merge,omitempty"`
	// Implicit marks barriers the planner derived from dependency boundaries.
	Implicit bool `json:"implicit,omitempty" yaml:"-"`
}

// HasParticipant reports whether id takes part in the point.
func (p *SynchronizationPoint) HasParticipant(id string) bool {
	for _, pid := range p.Participants {
		if pid == id {
			return true
		}
	}
	return false
}
