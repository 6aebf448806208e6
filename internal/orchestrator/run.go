package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/swarm/internal/graph"
	"github.com/ShayCichocki/swarm/internal/rendezvous"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// allocState is the runtime status of one allocation. The allocation itself
// stays untouched; everything that changes during execution lives here.
type allocState struct {
	alloc *models.AgentAllocation
	spec  models.AgentSpecification

	agentID  string
	status   models.AllocationStatus
	attempts int
	err      error

	// done holds the successful subtask results in run order; next indexes
	// the subtask to run, so a reassigned agent resumes where the last one failed.
	done    []models.SubtaskResult
	failure *models.SubtaskResult

	// cancelAttempt cancels the running attempt only.
	cancelAttempt context.CancelCauseFunc
	// pendingCause fails the next attempt before it runs.
	pendingCause error
	// noRetry keeps the allocation from being reassigned.
	noRetry bool
}

func (st *allocState) next() int {
	return len(st.done)
}

func (st *allocState) subtaskResults() []models.SubtaskResult {
	out := append([]models.SubtaskResult(nil), st.done...)
	if st.failure != nil && st.status != models.AllocationCompleted {
		out = append(out, *st.failure)
	}
	return out
}

// outputs merges the named outputs of every successful subtask.
func (st *allocState) outputs() map[string]any {
	out := make(map[string]any)
	for _, res := range st.done {
		for k, v := range res.Outputs {
			out[k] = v
		}
	}
	return out
}

// run is the state of one coordination.
type run struct {
	id       string
	d        *models.TaskDistribution
	strategy models.CoordinationStrategy
	started  time.Time
	order    []string
	graph    *graph.DependencyGraph
	parent   models.ParentContext

	// ctx scopes the whole coordination, including synchronization waits.
	// work is its child scoping allocation work, so halting work leaves
	// pending arrivals intact.
	ctx   context.Context
	abort context.CancelCauseFunc
	work  context.Context
	halt  context.CancelCauseFunc

	points    *rendezvous.Coordinator
	pointDefs map[string]models.SynchronizationPoint
	mail      *mailboxes
	metrics   *metrics
	kick      chan struct{}
	finished  chan string
	arrivals  sync.WaitGroup

	mu       sync.Mutex
	allocs   map[string]*allocState
	owners   map[string]string
	resolved map[string]bool
	failure  error
	done     bool
}

func newRun(id string, d *models.TaskDistribution, strategy models.CoordinationStrategy, g *graph.DependencyGraph, points *rendezvous.Coordinator) *run {
	r := &run{
		id:        id,
		d:         d,
		strategy:  strategy,
		started:   time.Now(),
		graph:     g,
		points:    points,
		pointDefs: make(map[string]models.SynchronizationPoint, len(d.SyncPlan)),
		mail:      newMailboxes(d),
		metrics:   newMetrics(),
		kick:      make(chan struct{}, 1),
		finished:  make(chan string, len(d.Allocations)),
		allocs:    make(map[string]*allocState, len(d.Allocations)),
		owners:    make(map[string]string),
		resolved:  make(map[string]bool),
	}
	for _, p := range d.SyncPlan {
		r.pointDefs[p.ID] = p
	}
	for i := range d.Allocations {
		a := &d.Allocations[i]
		r.order = append(r.order, a.ID)
		r.allocs[a.ID] = &allocState{alloc: a, status: models.AllocationPending}
	}
	return r
}

// wake nudges the scheduler to look at the allocations again.
func (r *run) wake() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// assign binds an allocation to a freshly spawned agent.
func (r *run) assign(st *allocState, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.agentID = agentID
	r.owners[agentID] = st.alloc.ID
}

// begin moves a pending allocation to running. It returns false if the
// allocation settled in the meantime.
func (r *run) begin(st *allocState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.status != models.AllocationPending {
		return false
	}
	st.status = models.AllocationRunning
	st.attempts = 1
	return true
}

// beginAttempt records the cancel function of a new attempt and returns the
// agent running it, plus any cause that already doomed the attempt.
func (r *run) beginAttempt(st *allocState, cancel context.CancelCauseFunc) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.cancelAttempt = cancel
	cause := st.pendingCause
	st.pendingCause = nil
	return st.agentID, cause
}

// endAttempt forgets the cancel function of a finished attempt.
func (r *run) endAttempt(st *allocState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.cancelAttempt = nil
}

func (r *run) nextSubtask(st *allocState) (models.SubTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := st.next()
	if i >= len(st.alloc.Subtasks) {
		return models.SubTask{}, false
	}
	return st.alloc.Subtasks[i], true
}

func (r *run) recordSuccess(st *allocState, res models.SubtaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.done = append(st.done, res)
	st.failure = nil
}

func (r *run) recordFailure(st *allocState, res *models.SubtaskResult) {
	if res == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *res
	st.failure = &cp
}

// setFailure keeps the first error that halted or aborted the coordination.
func (r *run) setFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = err
	}
}

func (r *run) firstFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// settled reports whether every allocation reached a terminal status.
func (r *run) settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.allocs {
		if !st.status.Terminal() {
			return false
		}
	}
	return true
}

func (r *run) status(id string) models.AllocationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocs[id].status
}

// markResolved returns true the first time it is called for a point.
func (r *run) markResolved(pointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved[pointID] {
		return false
	}
	r.resolved[pointID] = true
	return true
}

func (r *run) progress() (completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.allocs {
		completed += len(st.done)
		total += len(st.alloc.Subtasks)
	}
	return completed, total
}
