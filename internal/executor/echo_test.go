package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func request(st models.SubTask, inputs map[string]any) *lifecycle.ExecutionRequest {
	return &lifecycle.ExecutionRequest{
		CoordinationID: "coord-1",
		AllocationID:   "alloc-1",
		Subtask:        st,
		Inputs:         inputs,
	}
}

func TestEcho_ProducesDeclaredOutputs(t *testing.T) {
	e := NewEcho()
	st := models.SubTask{ID: "exec", Outputs: []string{"summary", "report"}}

	res, err := e.Execute(context.Background(), request(st, map[string]any{"b": 2, "a": "x"}))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "exec:summary (a=x, b=2)", res.Outputs["summary"])
	assert.Equal(t, "exec:report (a=x, b=2)", res.Outputs["report"])
	assert.Equal(t, 1, e.Calls("exec"))
}

func TestEcho_DefaultOutput(t *testing.T) {
	res, err := NewEcho().Execute(context.Background(), request(models.SubTask{ID: "solo"}, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{DefaultOutputName: "solo:result"}, res.Outputs)
}

func TestEcho_InjectedFailure(t *testing.T) {
	e := NewEcho(WithFailure("bad", "disk full"))

	res, err := e.Execute(context.Background(), request(models.SubTask{ID: "bad", Outputs: []string{"x"}}, nil))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "disk full", res.Error)
	assert.Empty(t, res.Outputs)

	res, err = e.Execute(context.Background(), request(models.SubTask{ID: "good"}, nil))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestEcho_LatencyHonoursCancellation(t *testing.T) {
	e := NewEcho(WithLatency(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, request(models.SubTask{ID: "slow"}, nil))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEcho_Latency(t *testing.T) {
	e := NewEcho(WithLatency(15 * time.Millisecond))
	res, err := e.Execute(context.Background(), request(models.SubTask{ID: "s"}, nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Usage.WallTime, 15*time.Millisecond)
}

func TestFunc(t *testing.T) {
	var got string
	f := Func(func(_ context.Context, req *lifecycle.ExecutionRequest) (*models.SubtaskResult, error) {
		got = req.Subtask.ID
		return &models.SubtaskResult{Success: true}, nil
	})

	res, err := f.Execute(context.Background(), request(models.SubTask{ID: "fn"}, nil))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "fn", got)
}
