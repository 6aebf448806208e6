package planner

import (
	"fmt"

	"github.com/ShayCichocki/swarm/internal/graph"
	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// phase is one synthesized step of a task that declared no subtasks.
type phase struct {
	id         string
	capability string
	input      string
	output     string
	brief      string
}

var phasesByComplexity = map[models.Complexity][]phase{
	models.ComplexitySimple: {
		{id: "execution", capability: "execution", output: "execution-result", brief: "carry out the task"},
	},
	models.ComplexityModerate: {
		{id: "prep", capability: "preparation", output: "prepared-context", brief: "gather and prepare the context the task needs"},
		{id: "exec", capability: "execution", input: "prepared-context", output: "execution-result", brief: "carry out the task using the prepared context"},
	},
	models.ComplexityComplex: {
		{id: "analysis", capability: "analysis", output: "analysis-report", brief: "analyze the problem and report findings"},
		{id: "planning", capability: "planning", input: "analysis-report", output: "execution-plan", brief: "turn the analysis into an execution plan"},
		{id: "execution", capability: "execution", input: "execution-plan", output: "execution-result", brief: "carry out the execution plan"},
	},
}

// defaultCapability is given to declared subtasks that require none.
const defaultCapability = "general"

// decompose returns the caller-declared subtasks, or synthesizes them by complexity.
func decompose(task *models.DistributedTask) []models.SubTask {
	if len(task.Subtasks) > 0 {
		out := make([]models.SubTask, len(task.Subtasks))
		for i, st := range task.Subtasks {
			st = copySubtask(st)
			st.ParentID = task.ID
			if len(st.Requirements.Capabilities) == 0 {
				st.Requirements.Capabilities = []string{defaultCapability}
			}
			out[i] = st
		}
		return out
	}

	phases := phasesByComplexity[task.Complexity]
	out := make([]models.SubTask, 0, len(phases))
	for _, ph := range phases {
		st := models.SubTask{
			ID:          ph.id,
			ParentID:    task.ID,
			Description: fmt.Sprintf("%s: %s", ph.brief, task.Description),
			Requirements: models.AgentRequirements{
				Capabilities:        []string{ph.capability},
				SecurityLevel:       models.SecurityLow,
				SupportsConcurrency: task.Parallelizable,
			},
			Outputs:         []string{ph.output},
			SuccessCriteria: []string{fmt.Sprintf("produces %s", ph.output)},
		}
		if ph.input != "" {
			st.Inputs = []string{ph.input}
		}
		out = append(out, st)
	}
	return out
}

// subtaskDeps maps a subtask id to the ids it depends on, in declaration order.
type subtaskDeps map[string][]string

// orderSubtasks derives data and explicit dependencies and returns the subtasks
// in stable topological order. Inputs nobody produces are external and ignored.
func orderSubtasks(subtasks []models.SubTask) ([]models.SubTask, subtaskDeps, error) {
	producers := make(map[string][]string)
	byID := make(map[string]models.SubTask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
		for _, out := range st.Outputs {
			producers[out] = append(producers[out], st.ID)
		}
	}

	deps := make(subtaskDeps, len(subtasks))
	nodes := make([]graph.Node, 0, len(subtasks))
	for _, st := range subtasks {
		var ids []string
		seen := make(map[string]bool)
		add := func(id string) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		for _, in := range st.Inputs {
			for _, prod := range producers[in] {
				if prod != st.ID {
					add(prod)
				}
			}
		}
		for _, dep := range st.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, nil, swarmerr.Invalid("subtask.depends_on", "subtask %s depends on unknown subtask %s", st.ID, dep)
			}
			add(dep)
		}
		deps[st.ID] = ids
		nodes = append(nodes, graph.Node{ID: st.ID, DependsOn: ids})
	}

	g := graph.New()
	if err := g.Build(nodes); err != nil {
		return nil, nil, fmt.Errorf("order subtasks: %w", err)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, nil, fmt.Errorf("order subtasks: %w", err)
	}

	ordered := make([]models.SubTask, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, byID[id])
	}
	return ordered, deps, nil
}
