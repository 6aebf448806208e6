package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/internal/planner"
	"github.com/ShayCichocki/swarm/internal/rendezvous"
	"github.com/ShayCichocki/swarm/internal/resource"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// DefaultEventBuffer is the event channel size used when none is configured.
const DefaultEventBuffer = 1024

// Config wires a Coordinator. Pool and Executor are required.
type Config struct {
	// Pool is the capacity leases are drawn from.
	Pool []resource.Capacity
	// Executor runs subtasks on behalf of agents.
	Executor lifecycle.Executor
	// Permissions vets agent specifications. Nil allows everything.
	Permissions lifecycle.PermissionChecker
	// ParentLimits and ParentSecurity cap every spawned agent.
	ParentLimits   models.ResourceLimits
	ParentSecurity models.SecurityConstraints
	// Agents shapes the agents spawned for allocations. Zero uses DefaultAgentDefaults.
	Agents AgentDefaults
	// LeaseTTL is the lifetime of leases that set none. Zero uses the resource default.
	LeaseTTL time.Duration
	// ReapInterval is how often expired leases are swept. Zero uses the resource default.
	ReapInterval time.Duration
	// CoordinationTimeout bounds every coordination. Zero means unbounded.
	CoordinationTimeout time.Duration
	// SyncTimeout applies to synchronization points that may time out but set no timeout.
	SyncTimeout time.Duration
	// Merges registers extra aggregation merge functions by name.
	Merges map[string]rendezvous.MergeFunc
	// EventBuffer sizes the event channel. Zero uses DefaultEventBuffer.
	EventBuffer int
	Logger      *zap.Logger
}

// Coordinator owns one set of managers and exposes the coordination API:
// planning, execution, agent lifecycle and resource operations.
type Coordinator struct {
	planner   *planner.Planner
	resources *resource.Manager
	lifecycle *lifecycle.Manager
	engine    *Engine
	emitter   *EventEmitter
	logger    *zap.Logger
	stop      context.CancelFunc
}

// Report separates the two halves of Coordinate: whether the task could be
// distributed, and how the coordination went.
type Report struct {
	Distribution      *models.TaskDistribution
	DistributionError error
	Result            *models.CoordinationResult
	CoordinationError error
}

// Distributed reports whether planning succeeded.
func (r *Report) Distributed() bool {
	return r.DistributionError == nil && r.Distribution != nil
}

// NewCoordinator builds the managers from cfg and starts the lease reaper.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	emitter := NewEventEmitter(buffer, logger)

	resOpts := []resource.Option{resource.WithLogger(logger)}
	if cfg.LeaseTTL > 0 {
		resOpts = append(resOpts, resource.WithDefaultTTL(cfg.LeaseTTL))
	}
	if cfg.ReapInterval > 0 {
		resOpts = append(resOpts, resource.WithReapInterval(cfg.ReapInterval))
	}
	resources, err := resource.NewManager(cfg.Pool, resOpts...)
	if err != nil {
		return nil, fmt.Errorf("create resource manager: %w", err)
	}

	lcOpts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithObserver(func(inst models.SubAgentInstance) {
			emitter.Emit(CoordinationEvent{
				Type:           EventAgentStatus,
				CoordinationID: inst.CoordinationID,
				AllocationID:   inst.AllocationID,
				AgentID:        inst.ID,
				Message:        string(inst.Status),
			})
		}),
	}
	if cfg.Permissions != nil {
		lcOpts = append(lcOpts, lifecycle.WithPermissions(cfg.Permissions))
	}
	lc := lifecycle.NewManager(lifecycle.RequiredConfig{Resources: resources, Executor: cfg.Executor}, lcOpts...)

	agents := cfg.Agents
	if agents.Limits == (models.ResourceLimits{}) {
		agents = DefaultAgentDefaults()
	}
	engOpts := []Option{
		WithLogger(logger),
		WithEmitter(emitter),
		WithParentLimits(cfg.ParentLimits, cfg.ParentSecurity),
		WithAgentDefaults(agents),
		WithCoordinationTimeout(cfg.CoordinationTimeout),
		WithSyncTimeout(cfg.SyncTimeout),
	}
	for name, fn := range cfg.Merges {
		engOpts = append(engOpts, WithMerge(name, fn))
	}
	engine := NewEngine(RequiredConfig{Lifecycle: lc, Resources: resources}, engOpts...)

	ctx, stop := context.WithCancel(context.Background())
	resources.Start(ctx)

	return &Coordinator{
		planner:   planner.New(planner.WithLogger(logger)),
		resources: resources,
		lifecycle: lc,
		engine:    engine,
		emitter:   emitter,
		logger:    logger.Named("coordinator"),
		stop:      stop,
	}, nil
}

// Distribute plans a task without reserving anything.
func (c *Coordinator) Distribute(task *models.DistributedTask, strategy models.CoordinationStrategy) (*models.TaskDistribution, error) {
	return c.planner.Distribute(task, strategy)
}

// ExecuteDistributedTask runs a distribution. See Engine.ExecuteDistributedTask.
func (c *Coordinator) ExecuteDistributedTask(ctx context.Context, d *models.TaskDistribution) (*models.CoordinationResult, error) {
	return c.engine.ExecuteDistributedTask(ctx, d)
}

// Coordinate plans and executes a task. The report is always returned; the
// error is the first failure of either phase.
func (c *Coordinator) Coordinate(ctx context.Context, task *models.DistributedTask, strategy models.CoordinationStrategy) (*Report, error) {
	report := &Report{}
	d, err := c.planner.Distribute(task, strategy)
	if err != nil {
		report.DistributionError = err
		return report, fmt.Errorf("distribute task: %w", err)
	}
	report.Distribution = d

	result, err := c.engine.ExecuteDistributedTask(ctx, d)
	report.Result = result
	if err != nil {
		report.CoordinationError = err
		return report, fmt.Errorf("execute distribution %s: %w", d.ID, err)
	}
	return report, nil
}

// SpawnSubAgent spawns a standalone agent outside any coordination.
func (c *Coordinator) SpawnSubAgent(ctx context.Context, spec models.AgentSpecification, parent models.ParentContext) (*models.SubAgentInstance, error) {
	return c.lifecycle.Spawn(ctx, spec, parent)
}

// TerminateSubAgent terminates an agent and releases its leases.
func (c *Coordinator) TerminateSubAgent(id, reason string) error {
	return c.lifecycle.Terminate(id, reason)
}

// MonitorExecution returns a progress snapshot of a coordination.
func (c *Coordinator) MonitorExecution(coordinationID string) (*models.ExecutionStatus, error) {
	return c.engine.MonitorExecution(coordinationID)
}

// GetActiveAgents returns every agent that has not been terminated.
func (c *Coordinator) GetActiveAgents() []models.SubAgentInstance {
	return c.lifecycle.Active()
}

// AllocateResources reserves resources directly from the pool.
func (c *Coordinator) AllocateResources(reqs []models.ResourceRequirement, constraints resource.Constraints) (*models.Lease, error) {
	return c.resources.Allocate(reqs, constraints)
}

// ReleaseResources releases a lease. Releasing twice is a no-op.
func (c *Coordinator) ReleaseResources(leaseID string) error {
	return c.resources.Release(leaseID)
}

// Capacity returns the pool's per-type usage.
func (c *Coordinator) Capacity() []models.CapacityStatus {
	return c.resources.Snapshot()
}

// Events returns the coordination event stream. It is closed by Close.
func (c *Coordinator) Events() <-chan CoordinationEvent {
	return c.emitter.Events()
}

// DroppedEvents returns how many events were dropped because nobody read them.
func (c *Coordinator) DroppedEvents() uint64 {
	return c.emitter.DroppedCount()
}

// Close stops the reaper, terminates every remaining agent and closes the
// event stream.
func (c *Coordinator) Close() {
	c.stop()
	if ids := c.lifecycle.TerminateAll("coordinator closed"); len(ids) > 0 {
		c.logger.Info("terminated remaining agents", zap.Int("count", len(ids)))
	}
	c.emitter.Close()
}
