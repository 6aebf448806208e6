package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// DefaultOutputName holds the result of a subtask that declares no outputs.
const DefaultOutputName = "result"

// Echo produces every declared output as a string naming the subtask, the
// output and the inputs it was given. It never calls out of process.
type Echo struct {
	latency time.Duration

	mu       sync.Mutex
	failures map[string]string
	calls    map[string]int
}

// EchoOption configures an Echo executor.
type EchoOption func(*Echo)

// WithLatency delays every execution by d, honouring cancellation.
func WithLatency(d time.Duration) EchoOption {
	return func(e *Echo) {
		e.latency = d
	}
}

// WithFailure makes the subtask with the given id report failure with msg.
func WithFailure(subtaskID, msg string) EchoOption {
	return func(e *Echo) {
		e.failures[subtaskID] = msg
	}
}

// NewEcho creates an Echo executor.
func NewEcho(opts ...EchoOption) *Echo {
	e := &Echo{
		failures: make(map[string]string),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements lifecycle.Executor.
func (e *Echo) Execute(ctx context.Context, req *lifecycle.ExecutionRequest) (*models.SubtaskResult, error) {
	start := time.Now()
	e.mu.Lock()
	e.calls[req.Subtask.ID]++
	failure, fail := e.failures[req.Subtask.ID]
	e.mu.Unlock()

	if e.latency > 0 {
		timer := time.NewTimer(e.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	res := &models.SubtaskResult{
		StartedAt: start,
		Usage:     models.ResourceUsage{WallTime: time.Since(start)},
	}
	if fail {
		res.Error = failure
		return res, nil
	}

	suffix := formatInputs(req.Inputs)
	res.Success = true
	res.Outputs = make(map[string]any)
	for _, name := range outputNames(req.Subtask) {
		res.Outputs[name] = req.Subtask.ID + ":" + name + suffix
	}
	res.CompletedAt = time.Now()
	return res, nil
}

// Calls returns how many times the subtask with the given id was executed.
func (e *Echo) Calls(subtaskID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[subtaskID]
}

func formatInputs(inputs map[string]any) string {
	if len(inputs) == 0 {
		return ""
	}
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, inputs[name])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func outputNames(st models.SubTask) []string {
	if len(st.Outputs) == 0 {
		return []string{DefaultOutputName}
	}
	return st.Outputs
}

var _ lifecycle.Executor = (*Echo)(nil)
