package orchestrator

import (
	"slices"
	"sync"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// mailboxes carry subtask outputs between allocations along the plan's channels.
// Every allocation also keeps its own outputs so later subtasks on the same
// agent can consume them.
type mailboxes struct {
	mu        sync.Mutex
	routes    map[string][]string
	boxes     map[string]map[string]any
	delivered int
	// points records synchronization points whose value was already delivered.
	points map[string]bool
}

func newMailboxes(d *models.TaskDistribution) *mailboxes {
	m := &mailboxes{
		routes: make(map[string][]string),
		boxes:  make(map[string]map[string]any, len(d.Allocations)),
		points: make(map[string]bool),
	}
	for _, a := range d.Allocations {
		m.boxes[a.ID] = make(map[string]any)
	}
	for _, ch := range d.Channels {
		for _, from := range ch.From {
			for _, to := range ch.To {
				m.route(from, to)
			}
		}
	}
	// Plans built by hand may omit channels; dependency edges still carry data.
	if len(d.Channels) == 0 {
		for _, a := range d.Allocations {
			for _, dep := range a.DependsOn {
				m.route(dep, a.ID)
			}
		}
	}
	return m
}

func (m *mailboxes) route(from, to string) {
	if to != from && !slices.Contains(m.routes[from], to) {
		m.routes[from] = append(m.routes[from], to)
	}
}

// publish stores outputs in the producer's box and delivers them to every
// receiver routed from it. It returns the number of messages delivered.
func (m *mailboxes) publish(from string, outputs map[string]any) int {
	if len(outputs) == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	own := m.boxes[from]
	for name, v := range outputs {
		own[name] = v
	}
	n := 0
	for _, to := range m.routes[from] {
		box := m.boxes[to]
		for name, v := range outputs {
			box[name] = v
			n++
		}
	}
	m.delivered += n
	return n
}

// deliverPoint stores a resolved point's value under the point id in every
// recipient's box, once per point. It returns the number of messages delivered.
func (m *mailboxes) deliverPoint(pointID string, value any, recipients []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.points[pointID] {
		return 0
	}
	m.points[pointID] = true
	n := 0
	for _, to := range recipients {
		if box, ok := m.boxes[to]; ok {
			box[pointID] = value
			n++
		}
	}
	m.delivered += n
	return n
}

// inputs resolves the named inputs from an allocation's box. Names nobody
// published are left out.
func (m *mailboxes) inputs(allocID string, names []string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(names))
	box := m.boxes[allocID]
	for _, name := range names {
		if v, ok := box[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (m *mailboxes) deliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered
}

