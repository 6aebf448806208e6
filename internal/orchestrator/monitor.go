package orchestrator

import (
	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// MonitorExecution returns a progress snapshot of a running or recently
// finished coordination. It never blocks on execution.
func (e *Engine) MonitorExecution(coordinationID string) (*models.ExecutionStatus, error) {
	e.mu.RLock()
	r, ok := e.runs[coordinationID]
	e.mu.RUnlock()
	if !ok {
		return nil, swarmerr.NotFound("coordination", coordinationID)
	}

	r.mu.Lock()
	status := &models.ExecutionStatus{
		CoordinationID: r.id,
		Done:           r.done,
		StartedAt:      r.started,
		Allocations:    make([]models.AllocationProgress, 0, len(r.order)),
	}
	for _, id := range r.order {
		st := r.allocs[id]
		status.Allocations = append(status.Allocations, models.AllocationProgress{
			AllocationID:   id,
			AgentID:        st.agentID,
			Status:         st.status,
			CompletedTasks: len(st.done),
			TotalTasks:     len(st.alloc.Subtasks),
		})
		status.CompletedTasks += len(st.done)
		status.TotalTasks += len(st.alloc.Subtasks)
	}
	r.mu.Unlock()

	for i := range status.Allocations {
		p := &status.Allocations[i]
		if p.AgentID == "" {
			continue
		}
		if inst, err := e.lifecycle.Get(p.AgentID); err == nil {
			p.AgentStatus = inst.Status
		}
	}
	if status.TotalTasks > 0 {
		status.Progress = float64(status.CompletedTasks) / float64(status.TotalTasks)
	}
	return status, nil
}

