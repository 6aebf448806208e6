package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/graph"
	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/internal/planner"
	"github.com/ShayCichocki/swarm/internal/rendezvous"
	"github.com/ShayCichocki/swarm/internal/resource"
	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// defaultRetention is how many finished coordinations MonitorExecution remembers.
const defaultRetention = 64

// errCoordinationDone cancels the contexts of a finished coordination.
var errCoordinationDone = errors.New("coordination finished")

// Engine executes task distributions: it spawns one agent per allocation,
// drives them per the strategy, meets them at synchronization points,
// aggregates their results and cleans up after them.
type Engine struct {
	lifecycle *lifecycle.Manager
	resources *resource.Manager
	logger    *zap.Logger
	emitter   *EventEmitter
	parent    models.ParentContext
	defaults  AgentDefaults
	merges    map[string]rendezvous.MergeFunc
	timeout   time.Duration
	syncWait  time.Duration
	retain    int
	newID     func() string

	mu       sync.RWMutex
	runs     map[string]*run
	finished []string
}

// NewEngine creates an Engine.
func NewEngine(cfg RequiredConfig, opts ...Option) *Engine {
	o := engineOptions{
		logger:      zap.NewNop(),
		defaults:    DefaultAgentDefaults(),
		retainLimit: defaultRetention,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.retainLimit < 1 {
		o.retainLimit = defaultRetention
	}
	return &Engine{
		lifecycle: cfg.Lifecycle,
		resources: cfg.Resources,
		logger:    o.logger.Named("engine"),
		emitter:   o.emitter,
		parent:    o.parent,
		defaults:  o.defaults,
		merges:    o.merges,
		timeout:   o.timeout,
		syncWait:  o.syncTimeout,
		retain:    o.retainLimit,
		newID:     uuid.NewString,
		runs:      make(map[string]*run),
	}
}

// ExecuteDistributedTask runs a distribution to completion and always cleans
// up: every agent it spawned is terminated and every lease of the coordination
// released, whatever the outcome.
//
// The result is returned whenever execution started, together with an error
// when the coordination was halted or aborted (fail-fast, a synchronization
// timeout under the fail policy, a failed start or a cancelled context).
// Failures absorbed by graceful degradation only show in the result.
func (e *Engine) ExecuteDistributedTask(ctx context.Context, d *models.TaskDistribution) (result *models.CoordinationResult, err error) {
	strategy, g, err := validateDistribution(d)
	if err != nil {
		return nil, err
	}

	mergeOpts := []rendezvous.Option{rendezvous.WithLogger(e.logger), rendezvous.WithDefaultTimeout(e.syncWait)}
	for name, fn := range e.merges {
		mergeOpts = append(mergeOpts, rendezvous.WithMerge(name, fn))
	}
	points := rendezvous.NewCoordinator(mergeOpts...)
	for _, p := range d.SyncPlan {
		if err := points.Register(p); err != nil {
			return nil, fmt.Errorf("register sync point: %w", err)
		}
	}

	for _, limit := range []time.Duration{e.timeout, d.Task.TimeLimit} {
		if limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}
	}

	r := newRun(e.newID(), d, strategy, g, points)
	r.ctx, r.abort = context.WithCancelCause(ctx)
	r.work, r.halt = context.WithCancelCause(r.ctx)
	r.parent = e.parent
	r.parent.ID = r.id
	r.parent.CoordinationID = r.id
	for _, st := range r.allocs {
		st.spec = e.agentSpec(st.alloc)
	}
	e.track(r)

	log := e.logger.With(zap.String("coordination", r.id), zap.String("distribution", d.ID))
	log.Info("coordination starting",
		zap.String("strategy", string(strategy.Type)),
		zap.String("failure_handling", string(strategy.FailureHandling)),
		zap.Int("allocations", len(d.Allocations)))

	unwatch := e.resources.Watch(func(lease models.Lease) { e.leaseExpired(r, lease) })
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("coordination %s panicked: %v", r.id, p)
			log.Error("coordination panicked", zap.Any("panic", p))
			e.abortRun(r, err)
			r.arrivals.Wait()
			result = e.buildResult(r, err)
		}
		unwatch()
		points.Close()
		agents := e.lifecycle.TerminateCoordination(r.id, "coordination finished")
		leases := e.resources.ReleaseCoordination(r.id)
		r.abort(errCoordinationDone)
		e.untrack(r)
		log.Info("coordination cleaned up",
			zap.Int("agents_terminated", len(agents)),
			zap.Int("leases_released", len(leases)))
		e.emit(r, CoordinationEvent{Type: EventCoordinationDone, Error: err})
	}()

	for _, id := range r.order {
		st := r.allocs[id]
		inst, spawnErr := e.lifecycle.Spawn(r.ctx, st.spec, r.parent)
		if spawnErr != nil {
			err = fmt.Errorf("spawn agent for %s: %w", id, spawnErr)
			log.Warn("start failed, rolling back", zap.String("allocation", id), zap.Error(spawnErr))
			e.cancelPending(r, err)
			return e.buildResult(r, err), err
		}
		r.assign(st, inst.ID)
		r.metrics.agentSpawned()
	}
	e.emit(r, CoordinationEvent{Type: EventCoordinationStarted, Message: string(strategy.Type)})

	newScheduler(e, r).run()
	r.arrivals.Wait()

	err = r.firstFailure()
	if err == nil && r.ctx.Err() != nil {
		err = context.Cause(r.ctx)
	}
	result = e.buildResult(r, err)
	log.Info("coordination finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("completed_subtasks", result.Metrics.CompletedSubtasks),
		zap.Int("total_subtasks", result.Metrics.TotalSubtasks),
		zap.Duration("elapsed", result.ExecutionTime))
	return result, err
}

// validateDistribution checks a distribution can be executed and returns its
// normalized strategy and allocation graph.
func validateDistribution(d *models.TaskDistribution) (models.CoordinationStrategy, *graph.DependencyGraph, error) {
	if d == nil {
		return models.CoordinationStrategy{}, nil, swarmerr.Invalid("distribution", "must not be nil")
	}
	if len(d.Allocations) == 0 {
		return models.CoordinationStrategy{}, nil, swarmerr.Invalid("distribution.allocations", "distribution %s has no allocations", d.ID)
	}
	strategy, err := planner.NormalizeStrategy(d.Strategy)
	if err != nil {
		return strategy, nil, err
	}

	nodes := make([]graph.Node, len(d.Allocations))
	for i, a := range d.Allocations {
		if len(a.Subtasks) == 0 {
			return strategy, nil, swarmerr.Invalid("allocation.subtasks", "allocation %s has no subtasks", a.ID)
		}
		nodes[i] = graph.Node{ID: a.ID, DependsOn: a.DependsOn}
	}
	g := graph.New()
	if err := g.Build(nodes); err != nil {
		return strategy, nil, fmt.Errorf("build allocation graph: %w", err)
	}

	// Every participant must be an allocation, or the point can never fill.
	for _, p := range d.SyncPlan {
		for _, id := range p.Participants {
			if !g.Contains(id) {
				return strategy, nil, swarmerr.Invalid("sync_point.participants", "point %s names unknown allocation %q", p.ID, id)
			}
		}
		if p.Leader != "" && !g.Contains(p.Leader) {
			return strategy, nil, swarmerr.Invalid("sync_point.leader", "point %s names unknown leader %q", p.ID, p.Leader)
		}
	}
	return strategy, g, nil
}

// agentSpec derives the specification of the agent serving an allocation.
func (e *Engine) agentSpec(a *models.AgentAllocation) models.AgentSpecification {
	caps := a.Capabilities()
	if len(caps) == 0 {
		caps = []string{"general"}
	}
	return models.AgentSpecification{
		Capabilities:  caps,
		Limits:        e.defaults.Limits,
		Security:      e.defaults.Security,
		Isolation:     e.defaults.Isolation,
		SecurityLevel: a.SecurityLevel(),
		Resources:     append([]models.ResourceRequirement(nil), a.Resources...),
		AllocationID:  a.ID,
	}
}

// cancelPending settles every allocation that never started.
func (e *Engine) cancelPending(r *run, cause error) {
	r.setFailure(cause)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.allocs {
		if st.status == models.AllocationPending {
			st.status = models.AllocationCancelled
			st.err = cause
		}
	}
}

// abortRun stops the coordination, synchronization waits included.
func (e *Engine) abortRun(r *run, cause error) {
	r.setFailure(cause)
	r.abort(cause)
	r.wake()
}

// haltRun stops allocation work after a fail-fast failure.
func (e *Engine) haltRun(r *run, cause error) {
	r.setFailure(cause)
	r.halt(cause)
	r.wake()
}

// leaseExpired fails the allocation whose current agent owned the lease.
func (e *Engine) leaseExpired(r *run, lease models.Lease) {
	if lease.CoordinationID != r.id {
		return
	}
	r.mu.Lock()
	allocID, ok := r.owners[lease.OwnerID]
	st := r.allocs[allocID]
	if !ok || st.agentID != lease.OwnerID || st.status.Terminal() {
		r.mu.Unlock()
		return
	}
	cause := &swarmerr.ExecutionFailure{
		AllocationID: allocID,
		Trigger:      swarmerr.TriggerResourceExhaustion,
		Err:          fmt.Errorf("lease %s expired", lease.ID),
	}
	cancel := st.cancelAttempt
	if st.status == models.AllocationRunning && cancel != nil {
		r.mu.Unlock()
		cancel(cause)
	} else {
		st.pendingCause = cause
		r.mu.Unlock()
	}

	e.logger.Warn("lease expired during coordination",
		zap.String("coordination", r.id),
		zap.String("allocation", allocID),
		zap.String("lease", lease.ID))
	e.emit(r, CoordinationEvent{Type: EventLeaseExpired, AllocationID: allocID, AgentID: lease.OwnerID, Error: cause})
}

// buildResult assembles the coordination result from the run state.
func (e *Engine) buildResult(r *run, err error) *models.CoordinationResult {
	outcomes := r.points.Outcomes()
	delivered := r.mail.deliveredCount()

	r.mu.Lock()
	defer r.mu.Unlock()

	res := &models.CoordinationResult{
		CoordinationID: r.id,
		DistributionID: r.d.ID,
		TaskID:         r.d.Task.ID,
		Allocations:    make(map[string]*models.AllocationResult, len(r.allocs)),
		SyncOutcomes:   outcomes,
		Metrics:        r.metrics.summary(delivered),
		StartedAt:      r.started,
		ExecutionTime:  time.Since(r.started),
	}
	res.Metrics.TotalSubtasks = r.d.SubtaskCount()

	completed := 0
	for _, id := range r.order {
		st := r.allocs[id]
		ar := &models.AllocationResult{
			AllocationID: id,
			AgentID:      st.agentID,
			Status:       st.status,
			Subtasks:     st.subtaskResults(),
			Attempts:     st.attempts,
		}
		if st.err != nil {
			ar.Error = st.err.Error()
		}
		res.Allocations[id] = ar
		res.Metrics.CompletedSubtasks += len(st.done)
		if st.failure != nil && st.status != models.AllocationCompleted {
			res.Metrics.FailedSubtasks++
		}
		if st.status == models.AllocationCompleted {
			completed++
		}
	}
	res.Aggregated = aggregate(r.order, r.allocs)

	switch {
	case err != nil:
		res.Outcome = models.OutcomeFailed
		res.Error = err.Error()
	case completed == len(r.order):
		res.Outcome = models.OutcomeSucceeded
	case completed > 0:
		res.Outcome = models.OutcomePartial
		res.Error = fmt.Sprintf("%d of %d allocations did not complete", len(r.order)-completed, len(r.order))
	default:
		res.Outcome = models.OutcomeFailed
		res.Error = "no allocation completed"
	}
	res.Success = res.Outcome == models.OutcomeSucceeded
	r.done = true
	return res
}

// aggregate concatenates every successful subtask output in plan order.
func aggregate(order []string, allocs map[string]*allocState) models.AggregatedResult {
	out := models.AggregatedResult{
		Outputs: []models.SubtaskResult{},
		Values:  make(map[string]any),
	}
	for _, id := range order {
		for _, res := range allocs[id].done {
			out.Outputs = append(out.Outputs, res)
			for k, v := range res.Outputs {
				out.Values[k] = v
			}
		}
	}
	return out
}

func (e *Engine) emit(r *run, ev CoordinationEvent) {
	if e.emitter == nil {
		return
	}
	ev.CoordinationID = r.id
	if completed, total := r.progress(); total > 0 {
		ev.Progress = float64(completed) / float64(total)
	}
	e.emitter.Emit(ev)
}

func (e *Engine) track(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[r.id] = r
}

// untrack keeps a finished run visible to MonitorExecution until the
// retention limit pushes it out.
func (e *Engine) untrack(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, r.id)
	for len(e.finished) > e.retain {
		delete(e.runs, e.finished[0])
		e.finished = e.finished[1:]
	}
}
