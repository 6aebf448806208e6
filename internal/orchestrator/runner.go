package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// defaultExtensionFactor applies when an extend-deadline rule carries no factor.
const defaultExtensionFactor = 1.5

// runAllocation drives one allocation on its agent until it settles,
// reassigning it to fresh agents as the fallback plan allows.
func (e *Engine) runAllocation(r *run, st *allocState) {
	status, err := e.attemptAll(r, st)
	e.settle(r, st, status, err)
	r.finished <- st.alloc.ID
}

func (e *Engine) attemptAll(r *run, st *allocState) (status models.AllocationStatus, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("allocation panicked",
				zap.String("coordination", r.id),
				zap.String("allocation", st.alloc.ID),
				zap.Any("panic", p))
			status = models.AllocationFailed
			err = &swarmerr.ExecutionFailure{AllocationID: st.alloc.ID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	for {
		ctx, cancel := context.WithCancelCause(r.work)
		agentID, cause := r.beginAttempt(st, cancel)
		e.emit(r, CoordinationEvent{Type: EventAllocationStarted, AllocationID: st.alloc.ID, AgentID: agentID})

		err := cause
		if err == nil {
			err = e.runSubtasks(ctx, r, st, agentID)
		}
		r.endAttempt(st)
		cancel(nil)

		if err == nil {
			_ = e.lifecycle.Transition(agentID, models.AgentStatusCompleted)
			return models.AllocationCompleted, nil
		}
		if r.work.Err() != nil {
			return models.AllocationCancelled, fmt.Errorf("cancelled: %v", haltCause(r))
		}
		_ = e.lifecycle.Transition(agentID, models.AgentStatusFailed)
		if !e.reassign(r, st, agentID, err) {
			return models.AllocationFailed, err
		}
	}
}

// reassign replaces a failed agent with a freshly spawned one when the
// fallback rule for the failure's trigger allows another attempt.
func (e *Engine) reassign(r *run, st *allocState, agentID string, cause error) bool {
	rule := r.d.Fallback.Rule(models.FallbackTrigger(swarmerr.TriggerOf(cause)))

	r.mu.Lock()
	allowed := !st.noRetry && rule.Action == models.ActionReassign && st.attempts-1 < rule.MaxAttempts
	r.mu.Unlock()
	if !allowed {
		return false
	}

	if err := e.lifecycle.Terminate(agentID, "reassigned: "+cause.Error()); err != nil {
		e.logger.Warn("terminate before reassignment failed", zap.String("agent", agentID), zap.Error(err))
	}
	inst, err := e.lifecycle.Spawn(r.work, st.spec, r.parent)
	if err != nil {
		e.logger.Warn("reassignment spawn failed",
			zap.String("coordination", r.id),
			zap.String("allocation", st.alloc.ID),
			zap.Error(err))
		return false
	}
	r.assign(st, inst.ID)
	r.mu.Lock()
	st.attempts++
	attempt := st.attempts
	r.mu.Unlock()
	r.metrics.agentSpawned()
	r.metrics.reassigned()

	e.logger.Info("allocation reassigned",
		zap.String("coordination", r.id),
		zap.String("allocation", st.alloc.ID),
		zap.String("from", agentID),
		zap.String("to", inst.ID),
		zap.Int("attempt", attempt))
	e.emit(r, CoordinationEvent{
		Type:         EventAllocationReassigned,
		AllocationID: st.alloc.ID,
		AgentID:      inst.ID,
		Message:      fmt.Sprintf("attempt %d replaces agent %s", attempt, agentID),
		Error:        cause,
	})
	return true
}

// runSubtasks runs the allocation's remaining subtasks in order.
func (e *Engine) runSubtasks(ctx context.Context, r *run, st *allocState, agentID string) error {
	worker, err := e.lifecycle.Worker(agentID)
	if err != nil {
		return &swarmerr.ExecutionFailure{AllocationID: st.alloc.ID, Err: err}
	}
	if err := e.lifecycle.Transition(agentID, models.AgentStatusExecuting); err != nil {
		return &swarmerr.ExecutionFailure{AllocationID: st.alloc.ID, Err: err}
	}

	for {
		subtask, ok := r.nextSubtask(st)
		if !ok {
			return nil
		}
		res, err := e.runSubtask(ctx, r, st, agentID, worker, subtask)
		if err != nil {
			r.recordFailure(st, res)
			e.emit(r, CoordinationEvent{Type: EventSubtaskFailed, AllocationID: st.alloc.ID, SubtaskID: subtask.ID, AgentID: agentID, Error: err})
			return err
		}
		r.recordSuccess(st, *res)
		r.mail.publish(st.alloc.ID, res.Outputs)
		e.emit(r, CoordinationEvent{Type: EventSubtaskCompleted, AllocationID: st.alloc.ID, SubtaskID: subtask.ID, AgentID: agentID})
	}
}

type execution struct {
	res *models.SubtaskResult
	err error
}

// runSubtask executes one subtask under its deadline. A deadline that passes
// is extended as the timeout rule allows before the subtask fails.
func (e *Engine) runSubtask(ctx context.Context, r *run, st *allocState, agentID string, worker lifecycle.Worker, subtask models.SubTask) (*models.SubtaskResult, error) {
	inst, err := e.lifecycle.Get(agentID)
	if err != nil {
		return nil, &swarmerr.ExecutionFailure{AllocationID: st.alloc.ID, SubtaskID: subtask.ID, Err: err}
	}
	timeout := subtask.Constraints.Timeout
	if timeout <= 0 {
		timeout = inst.Spec.Limits.Timeout
	}

	start := time.Now()
	req := &lifecycle.ExecutionRequest{
		CoordinationID: r.id,
		AllocationID:   st.alloc.ID,
		Subtask:        subtask,
		Agent:          inst,
		Inputs:         r.mail.inputs(st.alloc.ID, subtask.Inputs),
		Deadline:       start.Add(timeout),
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan execution, 1)
	go func() {
		res, err := worker.Execute(execCtx, req)
		done <- execution{res: res, err: err}
	}()

	fail := func(trigger swarmerr.Trigger, err error) (*models.SubtaskResult, error) {
		res := &models.SubtaskResult{
			SubtaskID:   subtask.ID,
			AgentID:     agentID,
			Error:       err.Error(),
			StartedAt:   start,
			CompletedAt: time.Now(),
		}
		return res, failure(st.alloc.ID, subtask.ID, trigger, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	allowed := timeout
	extensions := 0
	for {
		select {
		case x := <-done:
			return e.finishSubtask(r, st, agentID, subtask, start, x)

		case <-ctx.Done():
			cause := context.Cause(ctx)
			return fail(swarmerr.TriggerOf(cause), cause)

		case <-timer.C:
			rule := r.d.Fallback.Rule(models.TriggerTimeout)
			if rule.Action != models.ActionExtendDeadline || extensions >= rule.MaxAttempts {
				return fail(swarmerr.TriggerTimeout, fmt.Errorf("deadline of %s exceeded", allowed))
			}
			factor := rule.Factor
			if factor <= 1 {
				factor = defaultExtensionFactor
			}
			extended := time.Duration(float64(allowed) * factor)
			timer.Reset(extended - allowed)
			allowed = extended
			req.ExtendDeadline(start.Add(allowed))
			extensions++
			r.metrics.extended()

			e.logger.Info("subtask deadline extended",
				zap.String("coordination", r.id),
				zap.String("allocation", st.alloc.ID),
				zap.String("subtask", subtask.ID),
				zap.Duration("deadline", allowed))
			e.emit(r, CoordinationEvent{
				Type:         EventDeadlineExtended,
				AllocationID: st.alloc.ID,
				SubtaskID:    subtask.ID,
				AgentID:      agentID,
				Message:      fmt.Sprintf("deadline extended to %s", allowed),
			})
		}
	}
}

// finishSubtask normalizes what the executor returned, accounts its usage and
// classifies the outcome.
func (e *Engine) finishSubtask(r *run, st *allocState, agentID string, subtask models.SubTask, start time.Time, x execution) (*models.SubtaskResult, error) {
	res := x.res
	if res == nil {
		res = &models.SubtaskResult{}
		if x.err == nil {
			x.err = errors.New("executor returned no result")
		}
	}
	res.SubtaskID = subtask.ID
	res.AgentID = agentID
	if res.StartedAt.IsZero() {
		res.StartedAt = start
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	if x.err != nil {
		res.Success = false
	}
	r.metrics.observe(res.Duration())
	usageErr := e.lifecycle.RecordUsage(agentID, res)

	switch {
	case x.err != nil:
		res.Error = x.err.Error()
		return res, failure(st.alloc.ID, subtask.ID, swarmerr.TriggerOf(x.err), x.err)
	case !res.Success:
		msg := res.Error
		if msg == "" {
			msg = "subtask reported failure"
			res.Error = msg
		}
		return res, failure(st.alloc.ID, subtask.ID, swarmerr.TriggerAgentFailure, errors.New(msg))
	case usageErr != nil:
		res.Success = false
		res.Error = usageErr.Error()
		return res, usageErr
	}
	return res, nil
}

// failure wraps err as an ExecutionFailure unless it already is one.
func failure(allocID, subtaskID string, trigger swarmerr.Trigger, err error) error {
	var ef *swarmerr.ExecutionFailure
	if errors.As(err, &ef) {
		return err
	}
	return &swarmerr.ExecutionFailure{AllocationID: allocID, SubtaskID: subtaskID, Trigger: trigger, Err: err}
}
