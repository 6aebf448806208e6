package rendezvous

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

func arriveAll(t *testing.T, c *Coordinator, pointID string, reports ...Report) []*models.SyncOutcome {
	t.Helper()
	outs := make([]*models.SyncOutcome, len(reports))
	errs := make([]error, len(reports))
	var wg sync.WaitGroup
	for i, r := range reports {
		wg.Add(1)
		go func(i int, r Report) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			outs[i], errs[i] = c.Arrive(ctx, pointID, r)
		}(i, r)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return outs
}

func TestBarrier_ResolvesWhenAllArrive(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Register(models.SynchronizationPoint{
		ID: "b", Type: models.SyncBarrier, Participants: []string{"a1", "a2", "a3"},
	}))

	outs := arriveAll(t, c, "b",
		Report{Participant: "a1"},
		Report{Participant: "a2", Failed: true},
		Report{Participant: "a3"},
	)
	for _, o := range outs {
		assert.Equal(t, []string{"a1", "a2", "a3"}, o.Arrived)
		assert.Equal(t, []string{"a2"}, o.Failed)
		assert.Empty(t, o.Absent)
		assert.False(t, o.TimedOut)
	}
}

func TestBarrier_TimeoutFail(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Register(models.SynchronizationPoint{
		ID: "b", Type: models.SyncBarrier, Participants: []string{"a1", "a2", "a3"},
		Timeout: 20 * time.Millisecond, OnTimeout: models.OnTimeoutFail,
	}))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"a1", "a2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = c.Arrive(context.Background(), "b", Report{Participant: id})
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		var ste *swarmerr.SyncTimeoutError
		require.True(t, errors.As(err, &ste), "got %v", err)
		assert.Equal(t, []string{"a3"}, ste.Absent)
		assert.ErrorIs(t, err, swarmerr.ErrSyncTimeout)
	}

	// A late arrival gets the stored outcome immediately.
	out, err := c.Arrive(context.Background(), "b", Report{Participant: "a3"})
	assert.ErrorIs(t, err, swarmerr.ErrSyncTimeout)
	require.NotNil(t, out)
	assert.True(t, out.TimedOut)
}

func TestBarrier_TimeoutProceed(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Register(models.SynchronizationPoint{
		ID: "b", Type: models.SyncBarrier, Participants: []string{"a1", "a2"},
		Timeout: 10 * time.Millisecond, OnTimeout: models.OnTimeoutProceed,
	}))

	out, err := c.Arrive(context.Background(), "b", Report{Participant: "a1"})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, []string{"a2"}, out.Absent)
	assert.Equal(t, []string{"a1"}, out.Arrived)
}

func TestBarrier_DefaultTimeout(t *testing.T) {
	c := NewCoordinator(WithDefaultTimeout(10 * time.Millisecond))
	require.NoError(t, c.Register(models.SynchronizationPoint{
		ID: "b", Type: models.SyncBarrier, Participants: []string{"a1", "a2"},
		OnTimeout: models.OnTimeoutProceed,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := c.Arrive(ctx, "b", Report{Participant: "a1"})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, []string{"a2"}, out.Absent)
}

func TestBarrier_WaitIgnoresTimeoutUntilContextEnds(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Register(models.SynchronizationPoint{
		ID: "b", Type: models.SyncBarrier, Participants: []string{"a1", "a2"},
		Timeout: time.Millisecond, OnTimeout: models.OnTimeoutWait,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Arrive(ctx, "b", Report{Participant: "a1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, resolved := c.Outcome("b")
	assert.False(t, resolved)

	require.NoError(t, c.Signal("b", Report{Participant: "a2"}))
	out, resolved := c.Outcome("b")
	require.True(t, resolved)
	assert.Equal(t, []string{"a1", "a2"}, out.Arrived)
}

func TestCheckpoint_RecordsStatuses(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Register(models.SynchronizationPoint{
		ID: "cp", Type: models.SyncCheckpoint, Participants: []string{"a1", "a2"},
	}))

	require.NoError(t, c.Signal("cp", Report{Participant: "a1", Status: "halfway"}))
	require.NoError(t, c.Signal("cp", Report{Participant: "a2", Failed: true}))

	out, ok := c.Outcome("cp")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"a1": "halfway", "a2": "failed"}, out.Statuses)
}

func TestDecision_Rules(t *testing.T) {
	tests := []struct {
		name    string
		rule    models.DecisionRule
		leader  string
		votes   []any
		want    any
		wantErr bool
	}{
		{"majority", models.DecisionMajority, "", []any{"go", "go", "stop"}, "go", false},
		{"no majority", models.DecisionMajority, "", []any{"go", "stop", "wait"}, nil, true},
		{"unanimity", models.DecisionUnanimity, "", []any{1, 1, 1}, 1, false},
		{"no unanimity", models.DecisionUnanimity, "", []any{1, 1, 2}, nil, true},
		{"leader", models.DecisionLeader, "a2", []any{"x", "y", "z"}, "y", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator()
			require.NoError(t, c.Register(models.SynchronizationPoint{
				ID: "d", Type: models.SyncDecision, Participants: []string{"a1", "a2", "a3"},
				Rule: tt.rule, Leader: tt.leader,
			}))
			for i, v := range tt.votes {
				require.NoError(t, c.Signal("d", Report{Participant: []string{"a1", "a2", "a3"}[i], Value: v}))
			}
			out, ok := c.Outcome("d")
			require.True(t, ok)
			if tt.wantErr {
				assert.NotEmpty(t, out.Error)
				assert.Nil(t, out.Value)
				return
			}
			assert.Empty(t, out.Error)
			assert.Equal(t, tt.want, out.Value)
		})
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    models.SynchronizationPoint
	}{
		{"decision without rule", models.SynchronizationPoint{ID: "d", Type: models.SyncDecision, Participants: []string{"a"}}},
		{"leader without leader id", models.SynchronizationPoint{ID: "d", Type: models.SyncDecision, Rule: models.DecisionLeader, Participants: []string{"a"}}},
		{"leader not participant", models.SynchronizationPoint{ID: "d", Type: models.SyncDecision, Rule: models.DecisionLeader, Leader: "z", Participants: []string{"a"}}},
		{"aggregation without merge", models.SynchronizationPoint{ID: "g", Type: models.SyncAggregation, Participants: []string{"a"}}},
		{"unknown merge", models.SynchronizationPoint{ID: "g", Type: models.SyncAggregation, Merge: "zip", Participants: []string{"a"}}},
		{"no participants", models.SynchronizationPoint{ID: "b", Type: models.SyncBarrier}},
		{"duplicate participant", models.SynchronizationPoint{ID: "b", Type: models.SyncBarrier, Participants: []string{"a", "a"}}},
		{"empty participant", models.SynchronizationPoint{ID: "b", Type: models.SyncBarrier, Participants: []string{"a", ""}}},
		{"unknown type", models.SynchronizationPoint{ID: "x", Type: "gate", Participants: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, NewCoordinator().Register(tt.p), swarmerr.ErrValidation)
		})
	}

	c := NewCoordinator()
	p := models.SynchronizationPoint{ID: "b", Type: models.SyncBarrier, Participants: []string{"a"}}
	require.NoError(t, c.Register(p))
	assert.ErrorIs(t, c.Register(p), swarmerr.ErrValidation)
}

func TestArrive_UnknownPointAndParticipant(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Register(models.SynchronizationPoint{ID: "b", Type: models.SyncBarrier, Participants: []string{"a"}}))

	_, err := c.Arrive(context.Background(), "nope", Report{Participant: "a"})
	assert.ErrorIs(t, err, swarmerr.ErrNotFound)
	_, err = c.Arrive(context.Background(), "b", Report{Participant: "stranger"})
	assert.ErrorIs(t, err, swarmerr.ErrValidation)
}

func TestAggregation_MergeFunctions(t *testing.T) {
	c := NewCoordinator(WithMerge("longest", func(values []any) (any, error) {
		best := ""
		for _, v := range values {
			if s, _ := v.(string); len(s) > len(best) {
				best = s
			}
		}
		return best, nil
	}))
	require.NoError(t, c.Register(models.SynchronizationPoint{ID: "sum", Type: models.SyncAggregation, Merge: "sum", Participants: []string{"a", "b", "c"}}))
	require.NoError(t, c.Register(models.SynchronizationPoint{ID: "long", Type: models.SyncAggregation, Merge: "longest", Participants: []string{"a", "b"}}))

	require.NoError(t, c.Signal("sum", Report{Participant: "a", Value: 2}))
	require.NoError(t, c.Signal("sum", Report{Participant: "b", Value: 3.5}))
	require.NoError(t, c.Signal("sum", Report{Participant: "c", Failed: true, Value: 100}))
	require.NoError(t, c.Signal("long", Report{Participant: "a", Value: "short"}))
	require.NoError(t, c.Signal("long", Report{Participant: "b", Value: "much longer"}))

	outs := c.Outcomes()
	require.Len(t, outs, 2)
	assert.Equal(t, 5.5, outs[0].Value)
	assert.Equal(t, "much longer", outs[1].Value)
	assert.Equal(t, []string{"sum", "long"}, []string{outs[0].PointID, outs[1].PointID})
	assert.Equal(t, []string{"sum", "long"}, c.PointsFor("a"))
}

func TestMergeBuiltins(t *testing.T) {
	got, err := Concat([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)

	got, err = Concat([]any{[]string{"a", "b"}, "c"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, got)

	got, err = Collect([]any{1, "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{1, "x"}, got)

	_, err = Sum([]any{1, "x"})
	assert.Error(t, err)
}
