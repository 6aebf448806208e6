package orchestrator

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/rendezvous"
	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// settle moves an allocation to a terminal status exactly once, then reports
// it at every synchronization point it takes part in. It returns false if the
// allocation had already settled.
func (e *Engine) settle(r *run, st *allocState, status models.AllocationStatus, err error) bool {
	return e.settleFrom(r, st, "", status, err)
}

// settleFrom settles the allocation only while it is in status from. An empty
// from accepts any non-terminal status.
func (e *Engine) settleFrom(r *run, st *allocState, from, status models.AllocationStatus, err error) bool {
	id := st.alloc.ID
	pointIDs := r.points.PointsFor(id)

	r.mu.Lock()
	if st.status.Terminal() || (from != "" && st.status != from) {
		r.mu.Unlock()
		return false
	}
	// Waiters are counted before the status becomes visible, so nobody can
	// observe a settled run with arrivals still unaccounted for.
	waiting := status == models.AllocationCompleted || status == models.AllocationFailed
	if waiting {
		r.arrivals.Add(len(pointIDs))
	}
	st.status = status
	st.err = err
	st.cancelAttempt = nil
	outputs := st.outputs()
	agentID := st.agentID
	r.mu.Unlock()

	// Arrivals are recorded before dependents are released, so a point this
	// allocation completes has delivered its value by the time they start.
	reports := make([]rendezvous.Report, len(pointIDs))
	for i, pid := range pointIDs {
		reports[i] = rendezvous.Report{
			Participant: id,
			Failed:      status != models.AllocationCompleted,
			Status:      string(status),
			Value:       reportValue(pid, outputs),
		}
		if err := r.points.Signal(pid, reports[i]); err != nil {
			e.logger.Warn("sync signal failed", zap.String("point", pid), zap.String("allocation", id), zap.Error(err))
			continue
		}
		if out, ok := r.points.Outcome(pid); ok {
			e.deliverOutcome(r, out)
		}
	}

	r.graph.MarkComplete(id)

	if waiting {
		for i, pid := range pointIDs {
			go e.arrive(r, pid, reports[i])
		}
	}
	r.wake()

	ev := CoordinationEvent{AllocationID: id, AgentID: agentID, Error: err}
	switch status {
	case models.AllocationCompleted:
		ev.Type = EventAllocationCompleted
	case models.AllocationFailed:
		ev.Type = EventAllocationFailed
	case models.AllocationSkipped:
		ev.Type = EventAllocationSkipped
	default:
		ev.Type = EventAllocationCancelled
	}
	e.logger.Debug("allocation settled",
		zap.String("coordination", r.id),
		zap.String("allocation", id),
		zap.String("status", string(status)),
		zap.Error(err))
	e.emit(r, ev)

	if status == models.AllocationFailed && r.strategy.FailureHandling == models.FailFast {
		e.haltRun(r, err)
	}
	return true
}

// reportValue picks what an allocation brings to a decision or aggregation
// point: the output named after the point, its only output, or all outputs.
func reportValue(pointID string, outputs map[string]any) any {
	if v, ok := outputs[pointID]; ok {
		return v
	}
	if len(outputs) == 1 {
		for _, v := range outputs {
			return v
		}
	}
	if len(outputs) == 0 {
		return nil
	}
	return outputs
}

// arrive waits at a point on behalf of a settled allocation and applies the
// point's timeout policy once it resolves.
func (e *Engine) arrive(r *run, pointID string, rep rendezvous.Report) {
	defer r.arrivals.Done()

	out, err := r.points.Arrive(r.ctx, pointID, rep)
	if out == nil {
		return
	}
	if r.markResolved(pointID) {
		e.logger.Debug("synchronization point resolved",
			zap.String("coordination", r.id),
			zap.String("point", pointID),
			zap.Strings("absent", out.Absent),
			zap.Bool("timed_out", out.TimedOut))
		e.emit(r, CoordinationEvent{Type: EventSyncResolved, PointID: pointID, Error: err})
	}

	e.deliverOutcome(r, out)

	var timeout *swarmerr.SyncTimeoutError
	if errors.As(err, &timeout) {
		e.abortRun(r, err)
		return
	}
	if out.TimedOut && r.pointDefs[pointID].OnTimeout == models.OnTimeoutProceed {
		for _, absent := range out.Absent {
			e.dropAbsent(r, absent, pointID)
		}
	}
}

// deliverOutcome hands a resolved decision or aggregation value to the
// downstream allocations of the point's participants, under the point id.
func (e *Engine) deliverOutcome(r *run, out *models.SyncOutcome) {
	if out.Value == nil || out.Error != "" {
		return
	}
	def := r.pointDefs[out.PointID]
	var recipients []string
	for _, p := range def.Participants {
		for _, dep := range r.graph.TransitiveDependents(p) {
			if !def.HasParticipant(dep) && !slices.Contains(recipients, dep) {
				recipients = append(recipients, dep)
			}
		}
	}
	if n := r.mail.deliverPoint(out.PointID, out.Value, recipients); n > 0 {
		e.logger.Debug("synchronization value delivered",
			zap.String("coordination", r.id),
			zap.String("point", out.PointID),
			zap.Strings("to", recipients))
	}
}

// dropAbsent fails an allocation that missed a point resolved under the
// proceed policy, cancelling it if it is still running.
func (e *Engine) dropAbsent(r *run, allocID, pointID string) {
	cause := &swarmerr.ExecutionFailure{
		AllocationID: allocID,
		Trigger:      swarmerr.TriggerTimeout,
		Err:          &swarmerr.SyncTimeoutError{PointID: pointID, Absent: []string{allocID}},
	}

	r.mu.Lock()
	st, ok := r.allocs[allocID]
	if !ok || st.status.Terminal() {
		r.mu.Unlock()
		return
	}
	st.noRetry = true
	pending := st.status == models.AllocationPending
	r.mu.Unlock()

	e.logger.Info("dropping allocation absent from synchronization point",
		zap.String("coordination", r.id),
		zap.String("allocation", allocID),
		zap.String("point", pointID))

	if pending && e.settleFrom(r, st, models.AllocationPending, models.AllocationFailed, fmt.Errorf("absent from %s: %w", pointID, cause)) {
		return
	}

	// Running, or started since: cancel the attempt, or doom the next one.
	r.mu.Lock()
	if st.status.Terminal() {
		r.mu.Unlock()
		return
	}
	cancel := st.cancelAttempt
	if cancel == nil {
		st.pendingCause = cause
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}
