package planner

import (
	"fmt"

	"github.com/ShayCichocki/swarm/internal/rendezvous"
	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// Fallback bounds.
const (
	maxReassignments = 2
	maxExtensions    = 1
	extensionFactor  = 1.5
)

// buildChannels creates one channel per dependency edge, or a single broadcast
// channel spanning every allocation.
func buildChannels(protocol models.CommunicationProtocol, allocations []models.AgentAllocation) []models.CommunicationChannel {
	if protocol == models.ProtocolBroadcast {
		ids := make([]string, len(allocations))
		for i, a := range allocations {
			ids[i] = a.ID
		}
		return []models.CommunicationChannel{{
			ID:       "ch-broadcast",
			Protocol: protocol,
			From:     ids,
			To:       append([]string(nil), ids...),
		}}
	}

	var channels []models.CommunicationChannel
	for _, a := range allocations {
		for _, dep := range a.DependsOn {
			channels = append(channels, models.CommunicationChannel{
				ID:       fmt.Sprintf("ch-%s-%s", dep, a.ID),
				Protocol: protocol,
				From:     []string{dep},
				To:       []string{a.ID},
			})
		}
	}
	return channels
}

// buildSyncPlan resolves caller points to allocation ids and adds an implicit
// barrier at every dependency boundary.
func buildSyncPlan(points []models.SynchronizationPoint, allocations []models.AgentAllocation) ([]models.SynchronizationPoint, error) {
	allocOf := make(map[string]string)
	all := make([]string, len(allocations))
	for i, a := range allocations {
		all[i] = a.ID
		allocOf[a.ID] = a.ID
		for _, st := range a.Subtasks {
			if _, clash := allocOf[st.ID]; !clash {
				allocOf[st.ID] = a.ID
			}
		}
	}
	resolve := func(pointID, id string) (string, error) {
		alloc, ok := allocOf[id]
		if !ok {
			return "", swarmerr.Invalid("sync_point.participants", "point %s names unknown participant %s", pointID, id)
		}
		return alloc, nil
	}

	ids := make(map[string]bool)
	plan := make([]models.SynchronizationPoint, 0, len(points)+len(allocations))
	for _, p := range points {
		if err := rendezvous.ValidatePoint(p); err != nil {
			return nil, err
		}
		if ids[p.ID] {
			return nil, swarmerr.Invalid("sync_point.id", "duplicate point %s", p.ID)
		}
		ids[p.ID] = true

		resolved := p
		resolved.Participants = nil
		if len(p.Participants) == 0 {
			resolved.Participants = append([]string(nil), all...)
		}
		seen := make(map[string]bool)
		for _, id := range p.Participants {
			alloc, err := resolve(p.ID, id)
			if err != nil {
				return nil, err
			}
			if !seen[alloc] {
				seen[alloc] = true
				resolved.Participants = append(resolved.Participants, alloc)
			}
		}
		if p.Rule == models.DecisionLeader {
			leader, err := resolve(p.ID, p.Leader)
			if err != nil {
				return nil, err
			}
			if !resolved.HasParticipant(leader) {
				return nil, swarmerr.Invalid("sync_point.leader", "leader %s is not a participant of %s", p.Leader, p.ID)
			}
			resolved.Leader = leader
		}
		if resolved.OnTimeout == "" {
			resolved.OnTimeout = models.OnTimeoutWait
		}
		resolved.Implicit = false
		plan = append(plan, resolved)
	}

	for _, a := range allocations {
		if len(a.DependsOn) == 0 {
			continue
		}
		id := "barrier-" + a.ID
		if ids[id] {
			return nil, swarmerr.Invalid("sync_point.id", "point id %s is reserved", id)
		}
		ids[id] = true
		plan = append(plan, models.SynchronizationPoint{
			ID:           id,
			Type:         models.SyncBarrier,
			Participants: append([]string(nil), a.DependsOn...),
			Condition:    fmt.Sprintf("producers of %s settled", a.ID),
			OnTimeout:    models.OnTimeoutWait,
			Implicit:     true,
		})
	}
	return plan, nil
}

// buildFallback maps every trigger to a bounded action for the failure policy.
func buildFallback(policy models.FailurePolicy) models.FallbackPlan {
	onFailure := models.FallbackRule{Trigger: models.TriggerAgentFailure, Action: models.ActionAbort}
	onExhaustion := models.FallbackRule{Trigger: models.TriggerResourceExhaustion, Action: models.ActionAbort}
	if policy == models.RetryCascade {
		onFailure = models.FallbackRule{Trigger: models.TriggerAgentFailure, Action: models.ActionReassign, MaxAttempts: maxReassignments}
		onExhaustion = models.FallbackRule{Trigger: models.TriggerResourceExhaustion, Action: models.ActionReassign, MaxAttempts: maxReassignments}
	}
	return models.FallbackPlan{Rules: []models.FallbackRule{
		onFailure,
		{Trigger: models.TriggerTimeout, Action: models.ActionExtendDeadline, MaxAttempts: maxExtensions, Factor: extensionFactor},
		onExhaustion,
	}}
}
