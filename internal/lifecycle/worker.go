package lifecycle

import (
	"context"
	"slices"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// Worker is the capability interface every agent variant implements. The set of
// variants is closed: the unexported method keeps other packages from adding one.
type Worker interface {
	// Type returns the variant.
	Type() models.AgentType
	// Role returns the variant's brief handed to the executor.
	Role() string
	// Execute runs one subtask through the executor.
	Execute(ctx context.Context, req *ExecutionRequest) (*models.SubtaskResult, error)

	worker()
}

// capabilityVariant maps well-known capabilities to the variant that serves them.
var capabilityVariant = map[string]models.AgentType{
	"analysis":    models.AgentTypeAnalyst,
	"research":    models.AgentTypeAnalyst,
	"planning":    models.AgentTypePlanner,
	"design":      models.AgentTypePlanner,
	"execution":   models.AgentTypeOperator,
	"preparation": models.AgentTypeOperator,
}

var variantRoles = map[models.AgentType]string{
	models.AgentTypeAnalyst:    "You are an analyst. Examine the inputs and report findings precisely; do not take actions.",
	models.AgentTypePlanner:    "You are a planner. Turn the inputs into a concrete, ordered plan that another agent can execute.",
	models.AgentTypeOperator:   "You are an operator. Carry out the requested work using only the tools you are allowed and report the result.",
	models.AgentTypeGeneralist: "You are a generalist agent. Complete the subtask described below and report the result.",
}

// VariantFor selects the worker variant for a capability set. A set whose
// capabilities all map to one variant gets that variant; anything else gets
// a generalist.
func VariantFor(capabilities []string) models.AgentType {
	var chosen models.AgentType
	for _, c := range capabilities {
		v, ok := capabilityVariant[c]
		if !ok {
			return models.AgentTypeGeneralist
		}
		if chosen != "" && chosen != v {
			return models.AgentTypeGeneralist
		}
		chosen = v
	}
	if chosen == "" {
		return models.AgentTypeGeneralist
	}
	return chosen
}

// baseWorker holds what every variant shares.
type baseWorker struct {
	executor     Executor
	capabilities []string
	level        models.SecurityLevel
	allowedTools []string
}

func (b *baseWorker) run(ctx context.Context, req *ExecutionRequest, role string) (*models.SubtaskResult, error) {
	for _, c := range req.Subtask.Requirements.Capabilities {
		if !slices.Contains(b.capabilities, c) {
			return nil, swarmerr.Invalid("subtask.capabilities", "agent %s lacks capability %q for subtask %s", req.Agent.ID, c, req.Subtask.ID)
		}
	}
	if req.Subtask.Requirements.SecurityLevel.Rank() > b.level.Rank() {
		return nil, swarmerr.Invalid("subtask.security_level", "subtask %s requires %s, agent %s runs at %s",
			req.Subtask.ID, req.Subtask.Requirements.SecurityLevel, req.Agent.ID, b.level)
	}
	req.Role = role
	req.AllowedTools = narrowTools(b.allowedTools, req.Subtask.Constraints.AllowedTools)
	return b.executor.Execute(ctx, req)
}

// narrowTools intersects an agent allow-list with a subtask's. An empty subtask
// list inherits the agent's.
func narrowTools(agent, subtask []string) []string {
	if len(subtask) == 0 {
		return append([]string(nil), agent...)
	}
	return intersect(agent, subtask)
}

type analystWorker struct{ baseWorker }

func (w *analystWorker) Type() models.AgentType { return models.AgentTypeAnalyst }
func (w *analystWorker) Role() string           { return variantRoles[models.AgentTypeAnalyst] }
func (w *analystWorker) worker()                {}

// Execute runs the subtask with a read-only brief.
func (w *analystWorker) Execute(ctx context.Context, req *ExecutionRequest) (*models.SubtaskResult, error) {
	return w.run(ctx, req, w.Role())
}

type plannerWorker struct{ baseWorker }

func (w *plannerWorker) Type() models.AgentType { return models.AgentTypePlanner }
func (w *plannerWorker) Role() string           { return variantRoles[models.AgentTypePlanner] }
func (w *plannerWorker) worker()                {}

// Execute runs the subtask with a planning brief.
func (w *plannerWorker) Execute(ctx context.Context, req *ExecutionRequest) (*models.SubtaskResult, error) {
	return w.run(ctx, req, w.Role())
}

type operatorWorker struct{ baseWorker }

func (w *operatorWorker) Type() models.AgentType { return models.AgentTypeOperator }
func (w *operatorWorker) Role() string           { return variantRoles[models.AgentTypeOperator] }
func (w *operatorWorker) worker()                {}

// Execute runs the subtask with an action brief.
func (w *operatorWorker) Execute(ctx context.Context, req *ExecutionRequest) (*models.SubtaskResult, error) {
	return w.run(ctx, req, w.Role())
}

type generalistWorker struct{ baseWorker }

func (w *generalistWorker) Type() models.AgentType { return models.AgentTypeGeneralist }
func (w *generalistWorker) Role() string           { return variantRoles[models.AgentTypeGeneralist] }
func (w *generalistWorker) worker()                {}

// Execute runs the subtask with a general brief.
func (w *generalistWorker) Execute(ctx context.Context, req *ExecutionRequest) (*models.SubtaskResult, error) {
	return w.run(ctx, req, w.Role())
}

// newWorker instantiates the variant for t.
func newWorker(t models.AgentType, base baseWorker) Worker {
	switch t {
	case models.AgentTypeAnalyst:
		return &analystWorker{base}
	case models.AgentTypePlanner:
		return &plannerWorker{base}
	case models.AgentTypeOperator:
		return &operatorWorker{base}
	default:
		return &generalistWorker{base}
	}
}

func validAgentType(t models.AgentType) bool {
	_, ok := variantRoles[t]
	return ok
}
