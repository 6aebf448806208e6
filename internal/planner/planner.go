// Package planner turns a DistributedTask and a CoordinationStrategy into an
// immutable TaskDistribution.
//
// Planning is pure: it reserves no resources, spawns no agents and performs no
// I/O. Re-planning the same input yields the same structure; only the
// distribution id and creation time differ.
package planner

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// Planner produces task distributions.
type Planner struct {
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l.Named("planner")
		}
	}
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Distribute analyzes, decomposes and allocates a task. It fails with a
// NotSuitableError when the task should run on a single agent instead, and
// with a ValidationError for malformed input; no partial plan is returned.
func (p *Planner) Distribute(task *models.DistributedTask, strategy models.CoordinationStrategy) (*models.TaskDistribution, error) {
	if task == nil {
		return nil, swarmerr.Invalid("task", "must not be nil")
	}
	strategy, err := NormalizeStrategy(strategy)
	if err != nil {
		return nil, err
	}

	if !task.Decomposable {
		score := Score(task, estimateSubtasks(task), 1, strategy)
		return nil, &swarmerr.NotSuitableError{TaskID: task.ID, Score: score, Reason: "task is not decomposable"}
	}

	if err := validateTask(task); err != nil {
		return nil, err
	}

	subtasks := decompose(task)
	ordered, deps, err := orderSubtasks(subtasks)
	if err != nil {
		return nil, err
	}

	groups := allocate(ordered, deps, strategy)
	score := Score(task, len(ordered), len(groups), strategy)
	if score < MinScore {
		return nil, &swarmerr.NotSuitableError{
			TaskID: task.ID,
			Score:  score,
			Reason: "distribution overhead outweighs the benefit; run on a single agent",
		}
	}

	id := p.newID()
	allocations, err := buildAllocations(id, task, groups, deps)
	if err != nil {
		return nil, err
	}

	syncPlan, err := buildSyncPlan(strategy.SyncPoints, allocations)
	if err != nil {
		return nil, err
	}

	d := &models.TaskDistribution{
		ID:               id,
		Task:             copyTask(task),
		Strategy:         strategy,
		Allocations:      allocations,
		Channels:         buildChannels(strategy.Protocol, allocations),
		SyncPlan:         syncPlan,
		Fallback:         buildFallback(strategy.FailureHandling),
		SuitabilityScore: score,
		CreatedAt:        p.now(),
	}

	p.logger.Debug("task distributed",
		zap.String("task", task.ID),
		zap.String("distribution", id),
		zap.String("strategy", string(strategy.Type)),
		zap.Int("subtasks", len(ordered)),
		zap.Int("allocations", len(allocations)),
		zap.Float64("score", score))
	return d, nil
}

// NormalizeStrategy fills defaults and validates a strategy.
// Protocol defaults to direct and failure handling to graceful-degradation.
func NormalizeStrategy(s models.CoordinationStrategy) (models.CoordinationStrategy, error) {
	if !s.Type.Valid() {
		return s, swarmerr.Invalid("strategy.type", "unknown strategy %q", s.Type)
	}
	if s.FailureHandling == "" {
		s.FailureHandling = models.GracefulDegradation
	}
	if !s.FailureHandling.Valid() {
		return s, swarmerr.Invalid("strategy.failure_handling", "unknown policy %q", s.FailureHandling)
	}
	if s.Protocol == "" {
		s.Protocol = models.ProtocolDirect
	}
	if !s.Protocol.Valid() {
		return s, swarmerr.Invalid("strategy.protocol", "unknown protocol %q", s.Protocol)
	}
	if s.MaxConcurrentAgents == 0 && s.Type == models.StrategySequential {
		s.MaxConcurrentAgents = 1
	}
	if s.MaxConcurrentAgents < 1 {
		return s, swarmerr.Invalid("strategy.max_concurrent_agents", "must be at least 1")
	}
	s.SyncPoints = append([]models.SynchronizationPoint(nil), s.SyncPoints...)
	return s, nil
}

func validateTask(task *models.DistributedTask) error {
	if task.ID == "" {
		return swarmerr.Invalid("task.id", "must not be empty")
	}
	if !task.Complexity.Valid() {
		return swarmerr.Invalid("task.complexity", "unknown complexity %q", task.Complexity)
	}
	if task.TimeLimit < 0 {
		return swarmerr.Invalid("task.time_limit", "must not be negative")
	}
	for i, r := range task.Requirements {
		if r.Type == "" || r.Amount <= 0 {
			return swarmerr.Invalid("task.requirements", "requirement %d needs a type and a positive amount", i)
		}
	}
	seen := make(map[string]bool, len(task.Subtasks))
	for _, st := range task.Subtasks {
		if st.ID == "" {
			return swarmerr.Invalid("task.subtasks", "subtask ids must not be empty")
		}
		if seen[st.ID] {
			return swarmerr.Invalid("task.subtasks", "duplicate subtask id %s", st.ID)
		}
		seen[st.ID] = true
	}
	return nil
}

func copyTask(t *models.DistributedTask) models.DistributedTask {
	out := *t
	out.Subtasks = make([]models.SubTask, len(t.Subtasks))
	for i, st := range t.Subtasks {
		out.Subtasks[i] = copySubtask(st)
	}
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.Requirements = append([]models.ResourceRequirement(nil), t.Requirements...)
	return out
}

func copySubtask(st models.SubTask) models.SubTask {
	out := st
	out.Requirements.Capabilities = append([]string(nil), st.Requirements.Capabilities...)
	out.Inputs = append([]string(nil), st.Inputs...)
	out.Outputs = append([]string(nil), st.Outputs...)
	out.DependsOn = append([]string(nil), st.DependsOn...)
	out.Constraints.AllowedTools = append([]string(nil), st.Constraints.AllowedTools...)
	out.SuccessCriteria = append([]string(nil), st.SuccessCriteria...)
	return out
}
