package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func TestMailboxes_BroadcastReachesEveryAllocation(t *testing.T) {
	all := []string{"A", "B", "C"}
	d := &models.TaskDistribution{
		Allocations: []models.AgentAllocation{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Channels: []models.CommunicationChannel{{
			ID:       "ch-broadcast",
			Protocol: models.ProtocolBroadcast,
			From:     all,
			To:       all,
		}},
	}
	m := newMailboxes(d)

	assert.Equal(t, 2, m.publish("A", map[string]any{"a-out": 1}))
	assert.Equal(t, 2, m.publish("C", map[string]any{"c-out": 3}))

	for _, id := range all {
		got := m.inputs(id, []string{"a-out", "c-out"})
		assert.Equal(t, map[string]any{"a-out": 1, "c-out": 3}, got, id)
	}
	assert.Equal(t, 4, m.deliveredCount())
}

func TestMailboxes_DirectFollowsChannels(t *testing.T) {
	d := &models.TaskDistribution{
		Allocations: []models.AgentAllocation{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}, {ID: "C"}},
		Channels: []models.CommunicationChannel{{
			ID:       "ch-A-B",
			Protocol: models.ProtocolDirect,
			From:     []string{"A"},
			To:       []string{"B"},
		}},
	}
	m := newMailboxes(d)

	assert.Equal(t, 1, m.publish("A", map[string]any{"a-out": "x"}))
	assert.Equal(t, map[string]any{"a-out": "x"}, m.inputs("B", []string{"a-out"}))
	assert.Empty(t, m.inputs("C", []string{"a-out"}))
	assert.Equal(t, map[string]any{"a-out": "x"}, m.inputs("A", []string{"a-out"}), "producer keeps its own outputs")
}
