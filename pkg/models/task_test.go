package models

import (
	"reflect"
	"testing"
)

func TestComplexity_Valid(t *testing.T) {
	tests := []struct {
		name string
		c    Complexity
		want bool
	}{
		{"simple is valid", ComplexitySimple, true},
		{"moderate is valid", ComplexityModerate, true},
		{"complex is valid", ComplexityComplex, true},
		{"empty string is invalid", Complexity(""), false},
		{"typo is invalid", Complexity("complx"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Complexity(%q).Valid() = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestDistributedTask_RequirementTypes(t *testing.T) {
	task := DistributedTask{
		Requirements: []ResourceRequirement{
			{Type: ResourceMemory, Amount: 512},
			{Type: ResourceTokens, Amount: 1000},
			{Type: ResourceMemory, Amount: 128},
		},
	}

	got := task.RequirementTypes()
	want := []ResourceType{ResourceMemory, ResourceTokens}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RequirementTypes() = %v, want %v", got, want)
	}
}

func TestStrategyEnums_Valid(t *testing.T) {
	if !StrategyAdaptive.Valid() || StrategyType("random").Valid() {
		t.Error("StrategyType.Valid() mismatch")
	}
	if !RetryCascade.Valid() || FailurePolicy("ignore").Valid() {
		t.Error("FailurePolicy.Valid() mismatch")
	}
	if !ProtocolQueue.Valid() || CommunicationProtocol("smoke").Valid() {
		t.Error("CommunicationProtocol.Valid() mismatch")
	}
	if !SyncAggregation.Valid() || SyncType("").Valid() {
		t.Error("SyncType.Valid() mismatch")
	}
	if !OnTimeoutProceed.Valid() || TimeoutPolicy("retry").Valid() {
		t.Error("TimeoutPolicy.Valid() mismatch")
	}
	if !DecisionLeader.Valid() || DecisionRule("").Valid() {
		t.Error("DecisionRule.Valid() mismatch")
	}
}

func TestAgentAllocation_Capabilities(t *testing.T) {
	alloc := AgentAllocation{
		Subtasks: []SubTask{
			{ID: "a", Requirements: AgentRequirements{Capabilities: []string{"analysis"}, SecurityLevel: SecurityMedium}},
			{ID: "b", Requirements: AgentRequirements{Capabilities: []string{"planning", "analysis"}, SecurityLevel: SecurityLow}},
		},
	}

	if got := alloc.Capabilities(); !reflect.DeepEqual(got, []string{"analysis", "planning"}) {
		t.Errorf("Capabilities() = %v, want [analysis planning]", got)
	}
	if got := alloc.SecurityLevel(); got != SecurityMedium {
		t.Errorf("SecurityLevel() = %q, want medium", got)
	}
}

func TestFallbackPlan_RuleDefaultsToAbort(t *testing.T) {
	plan := FallbackPlan{Rules: []FallbackRule{
		{Trigger: TriggerTimeout, Action: ActionExtendDeadline, MaxAttempts: 1, Factor: 1.5},
	}}

	if got := plan.Rule(TriggerTimeout); got.Action != ActionExtendDeadline {
		t.Errorf("Rule(timeout).Action = %q, want extend-deadline", got.Action)
	}
	if got := plan.Rule(TriggerAgentFailure); got.Action != ActionAbort {
		t.Errorf("Rule(agent-failure).Action = %q, want abort", got.Action)
	}
}

func TestTaskDistribution_Lookups(t *testing.T) {
	d := TaskDistribution{Allocations: []AgentAllocation{
		{ID: "alloc-1", Subtasks: []SubTask{{ID: "a"}, {ID: "b"}}},
		{ID: "alloc-2", Subtasks: []SubTask{{ID: "c"}}, Resources: []ResourceRequirement{{Type: ResourceMemory, Amount: 64}}},
	}}

	if d.SubtaskCount() != 3 {
		t.Errorf("SubtaskCount() = %d, want 3", d.SubtaskCount())
	}
	if a := d.Allocation("alloc-2"); a == nil || a.Subtasks[0].ID != "c" {
		t.Errorf("Allocation(alloc-2) = %+v", a)
	}
	if d.Allocation("alloc-9") != nil {
		t.Error("Allocation(alloc-9) should be nil")
	}
	if got := d.ResourceAllocations()["alloc-2"]; len(got) != 1 || got[0].Amount != 64 {
		t.Errorf("ResourceAllocations()[alloc-2] = %v", got)
	}
}

func TestAllocationStatus_Terminal(t *testing.T) {
	if AllocationPending.Terminal() || AllocationRunning.Terminal() {
		t.Error("pending and running must not be terminal")
	}
	for _, s := range []AllocationStatus{AllocationCompleted, AllocationFailed, AllocationSkipped, AllocationCancelled} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
}
