package planner

import (
	"fmt"

	"github.com/ShayCichocki/swarm/internal/graph"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// allocate groups topologically ordered subtasks by strategy. Every group
// becomes one allocation.
func allocate(ordered []models.SubTask, deps subtaskDeps, s models.CoordinationStrategy) [][]models.SubTask {
	switch s.Type {
	case models.StrategySequential:
		return [][]models.SubTask{ordered}
	case models.StrategyParallel:
		return partition(ordered, s.MaxConcurrentAgents)
	default:
		chains := chainGroups(ordered, deps)
		if len(chains) > s.MaxConcurrentAgents {
			return partition(ordered, s.MaxConcurrentAgents)
		}
		return chains
	}
}

// partition splits subtasks into contiguous groups of ceil(n/limit) subtasks,
// which yields at most limit groups.
func partition(ordered []models.SubTask, limit int) [][]models.SubTask {
	n := len(ordered)
	if n == 0 {
		return nil
	}
	size := (n + limit - 1) / limit
	var groups [][]models.SubTask
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		groups = append(groups, ordered[start:end:end])
	}
	return groups
}

// chainGroups keeps data chains together: a subtask joins its producer's group
// when it has exactly one upstream subtask and that upstream feeds nothing else.
// Independent branches end up in separate groups.
func chainGroups(ordered []models.SubTask, deps subtaskDeps) [][]models.SubTask {
	dependents := make(map[string]int)
	for _, ids := range deps {
		for _, id := range ids {
			dependents[id]++
		}
	}

	groupOf := make(map[string]int)
	var groups [][]models.SubTask
	for _, st := range ordered {
		up := deps[st.ID]
		if len(up) == 1 && dependents[up[0]] == 1 {
			g := groupOf[up[0]]
			groups[g] = append(groups[g], st)
			groupOf[st.ID] = g
			continue
		}
		groupOf[st.ID] = len(groups)
		groups = append(groups, []models.SubTask{st})
	}
	return groups
}

// buildAllocations turns groups into allocations with dependency edges,
// priorities and resource requirements. Allocation ids are positional.
func buildAllocations(distributionID string, task *models.DistributedTask, groups [][]models.SubTask, deps subtaskDeps) ([]models.AgentAllocation, error) {
	allocOf := make(map[string]string)
	allocations := make([]models.AgentAllocation, len(groups))
	for i, group := range groups {
		id := fmt.Sprintf("alloc-%d", i+1)
		subtasks := make([]models.SubTask, len(group))
		for j, st := range group {
			subtasks[j] = copySubtask(st)
			allocOf[st.ID] = id
		}
		allocations[i] = models.AgentAllocation{ID: id, Subtasks: subtasks}
	}

	nodes := make([]graph.Node, len(allocations))
	for i := range allocations {
		a := &allocations[i]
		seen := make(map[string]bool)
		for _, st := range a.Subtasks {
			for _, dep := range deps[st.ID] {
				other := allocOf[dep]
				if other != a.ID && !seen[other] {
					seen[other] = true
					a.DependsOn = append(a.DependsOn, other)
				}
			}
		}
		nodes[i] = graph.Node{ID: a.ID, DependsOn: a.DependsOn}
	}

	g := graph.New()
	if err := g.Build(nodes); err != nil {
		return nil, fmt.Errorf("build allocation graph: %w", err)
	}

	resources := splitRequirements(distributionID, task.Requirements, len(allocations))
	for i := range allocations {
		a := &allocations[i]
		a.Priority = task.Priority + len(g.TransitiveDependents(a.ID))
		a.Resources = append([]models.ResourceRequirement(nil), resources...)
	}
	return allocations, nil
}

// splitRequirements divides exclusive requirements evenly across allocations.
// Shared requirements are requested in full by every allocation under one share key.
func splitRequirements(distributionID string, reqs []models.ResourceRequirement, n int) []models.ResourceRequirement {
	if n == 0 || len(reqs) == 0 {
		return nil
	}
	out := make([]models.ResourceRequirement, 0, len(reqs))
	for _, r := range reqs {
		if r.Shared {
			if r.ShareKey == "" {
				r.ShareKey = distributionID + ":" + string(r.Type)
			}
		} else {
			r.Amount /= float64(n)
		}
		out = append(out, r)
	}
	return out
}
