package orchestrator

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// scheduler starts allocations as their dependencies settle, within a
// concurrency window derived from the strategy:
//   - sequential runs one allocation at a time in dependency order
//   - parallel launches every allocation whose dependencies completed
//   - hybrid starts an allocation once its dependencies are terminal
//   - adaptive is hybrid with a window that halves on failure and grows on success
type scheduler struct {
	e *Engine
	r *run
	// window is the maximum number of allocations running at once.
	window int
	// limit caps how far the adaptive window may grow.
	limit    int
	adaptive bool
	// tolerant lets dependents of failed or skipped allocations run anyway.
	tolerant bool
	running  int
}

func newScheduler(e *Engine, r *run) *scheduler {
	s := &scheduler{e: e, r: r}
	st := r.strategy
	switch st.Type {
	case models.StrategySequential:
		s.window = 1
	case models.StrategyParallel:
		s.window = len(r.order)
	default:
		s.window = st.MaxConcurrentAgents
		s.adaptive = st.Type == models.StrategyAdaptive
		s.tolerant = st.FailureHandling != models.FailFast
	}
	if s.window < 1 {
		s.window = 1
	}
	s.limit = s.window
	return s
}

// run blocks until every allocation reached a terminal status.
func (s *scheduler) run() {
	for {
		s.schedule()
		if s.r.settled() {
			return
		}
		select {
		case id := <-s.r.finished:
			s.running--
			s.adjust(s.r.status(id))
		case <-s.r.kick:
		}
	}
}

// adjust resizes the adaptive window after an allocation finished.
func (s *scheduler) adjust(status models.AllocationStatus) {
	if !s.adaptive {
		return
	}
	prev := s.window
	switch status {
	case models.AllocationCompleted:
		if s.window < s.limit {
			s.window++
		}
	case models.AllocationFailed:
		s.window /= 2
		if s.window < 1 {
			s.window = 1
		}
	}
	if s.window != prev {
		s.e.logger.Debug("adaptive window resized",
			zap.String("coordination", s.r.id),
			zap.Int("from", prev),
			zap.Int("to", s.window))
	}
}

// schedule settles allocations that can no longer run and starts ready ones
// while the window allows. Settling may make more allocations ready, so it
// repeats until nothing changes.
func (s *scheduler) schedule() {
	for {
		changed := false
		halted := s.r.work.Err() != nil
		for _, id := range s.ready() {
			st := s.r.allocs[id]
			switch {
			case halted:
				changed = s.e.settle(s.r, st, models.AllocationCancelled, fmt.Errorf("cancelled: %v", haltCause(s.r))) || changed
			case !s.tolerant && s.blocked(id) != "":
				err := fmt.Errorf("dependency %s did not complete", s.blocked(id))
				changed = s.e.settle(s.r, st, models.AllocationSkipped, err) || changed
			case s.running < s.window:
				if s.r.begin(st) {
					s.running++
					go s.e.runAllocation(s.r, st)
				}
			}
		}
		if !changed {
			return
		}
	}
}

// ready returns pending allocations whose dependencies are all terminal.
func (s *scheduler) ready() []string {
	var ids []string
	for _, id := range s.r.graph.GetReady() {
		if s.r.status(id) == models.AllocationPending {
			ids = append(ids, id)
		}
	}
	if s.adaptive {
		pos := make(map[string]int, len(s.r.order))
		for i, id := range s.r.order {
			pos[id] = i
		}
		sort.SliceStable(ids, func(i, j int) bool {
			pi, pj := s.r.allocs[ids[i]].alloc.Priority, s.r.allocs[ids[j]].alloc.Priority
			if pi != pj {
				return pi > pj
			}
			return pos[ids[i]] < pos[ids[j]]
		})
	}
	return ids
}

// blocked returns the first dependency of id that did not complete.
func (s *scheduler) blocked(id string) string {
	for _, dep := range s.r.graph.GetDependencies(id) {
		if s.r.status(dep) != models.AllocationCompleted {
			return dep
		}
	}
	return ""
}

func haltCause(r *run) error {
	if err := r.firstFailure(); err != nil {
		return err
	}
	return r.work.Err()
}
