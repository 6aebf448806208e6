package executor

import (
	"context"

	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// Func adapts a function to lifecycle.Executor.
type Func func(ctx context.Context, req *lifecycle.ExecutionRequest) (*models.SubtaskResult, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req *lifecycle.ExecutionRequest) (*models.SubtaskResult, error) {
	return f(ctx, req)
}

var _ lifecycle.Executor = Func(nil)
